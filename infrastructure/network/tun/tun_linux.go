//go:build linux

// Package tun opens and wraps the kernel TUN device (spec §4.5). It only
// creates the device via the TUNSETIFF ioctl; address assignment, routing
// and firewall rules are an external collaborator's job (spec Non-goals:
// OS routing/sysctl manipulation). Grounded on the teacher's
// infrastructure/PAL/linux/ioctl package, reduced to the single ioctl this
// engine needs.
package tun

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"tunvpn/infrastructure/settings"
)

const (
	ifNameSize     = 16
	tunSetIff      = 0x400454ca
	iffTun         = 0x0001
	iffNoPI        = 0x1000
	iffMultiQueue  = 0x0100
)

// ifReq mirrors the kernel's struct ifreq layout for the fields TUNSETIFF
// and TUNGETIFF need: a 16-byte interface name followed by the flags word.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq) == 40 bytes on 64-bit Linux
}

// Device is a TUN file descriptor wrapped as an io.ReadWriteCloser.
type Device struct {
	file *os.File
	name string
}

// Open creates the named TUN interface as multi-queue capable and returns
// its first queue.
func Open(s settings.TunSettings) (*Device, error) {
	return openQueue(s.Name)
}

// Clone opens an additional queue on the same multi-queue TUN interface
// (spec §4.5: one fd per worker, cloned via the kernel's own
// queue-cloning facility rather than sharing a single fd across workers).
func (d *Device) Clone() (*Device, error) {
	return openQueue(d.name)
}

func openQueue(name string) (*Device, error) {
	file, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = iffTun | iffNoPI | iffMultiQueue

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), uintptr(tunSetIff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = file.Close()
		return nil, fmt.Errorf("tun: TUNSETIFF for %s: %w", name, errno)
	}

	ifName := strings.TrimRight(string(req.Name[:]), "\x00")
	return &Device{file: file, name: ifName}, nil
}

func (d *Device) Name() string { return d.name }

func (d *Device) Read(p []byte) (int, error)  { return d.file.Read(p) }
func (d *Device) Write(p []byte) (int, error) { return d.file.Write(p) }
func (d *Device) Close() error                { return d.file.Close() }
