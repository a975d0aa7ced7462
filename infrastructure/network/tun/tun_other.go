//go:build !linux

package tun

import (
	"errors"

	"tunvpn/infrastructure/settings"
)

// ErrUnsupportedPlatform is returned by Open on platforms other than
// Linux; the TUN adapter's ioctl path is Linux-specific (spec §4.5's
// "kernel TUN device" leaves other platforms to a future adapter, not
// this engine).
var ErrUnsupportedPlatform = errors.New("tun: unsupported platform")

type Device struct{}

func Open(settings.TunSettings) (*Device, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *Device) Name() string                { return "" }
func (d *Device) Read(p []byte) (int, error)   { return 0, ErrUnsupportedPlatform }
func (d *Device) Write(p []byte) (int, error)  { return 0, ErrUnsupportedPlatform }
func (d *Device) Close() error                 { return nil }
func (d *Device) Clone() (*Device, error)      { return nil, ErrUnsupportedPlatform }
