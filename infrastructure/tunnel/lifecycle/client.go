package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"tunvpn/application/logging"
	"tunvpn/application/network/connection"
	noiseimpl "tunvpn/infrastructure/cryptography/noise"
	"tunvpn/infrastructure/network/tun"
	"tunvpn/infrastructure/network/udp"
	"tunvpn/infrastructure/settings"
	dataplaneclient "tunvpn/infrastructure/tunnel/dataplane/client"
)

// ClientConfig bundles everything the client needs to dial a server and
// bring up the tunnel.
type ClientConfig struct {
	Tun settings.TunSettings

	// Runtime supplies the client's handshake deadline and keepalive
	// cadence; a zero value in either field falls back to the package
	// defaults (spec §9, connection.HandshakeTimeout / KeepaliveInterval).
	Runtime settings.RuntimeSettings

	ServerHost string
	ServerPort int

	StaticPrivateKey []byte
	StaticPublicKey  []byte
	ServerPublicKey  []byte
	PreSharedKey     []byte
	Algorithm        connection.Algorithm

	Log logging.Logger
}

// RunClient dials the server, performs the handshake, and runs the data
// plane until ctx is cancelled. On a transient dial/handshake failure or a
// server-initiated disconnect, it sleeps connection.ReconnectDelay and
// retries the whole sequence rather than returning, per spec §4.7's
// Connecting/Connected/Error machine: only ctx cancellation ends the loop.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	tunDevice, err := tun.Open(cfg.Tun)
	if err != nil {
		return fmt.Errorf("lifecycle: open tun: %w", err)
	}
	defer tunDevice.Close()

	handshakeDeadline := cfg.Runtime.HandshakeDeadline
	if handshakeDeadline <= 0 {
		handshakeDeadline = connection.HandshakeTimeout
	}
	keepalive := cfg.Runtime.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = connection.KeepaliveInterval
	}

	var serverAddr netip.AddrPort
	if ip, err := netip.ParseAddr(cfg.ServerHost); err == nil {
		serverAddr = netip.AddrPortFrom(ip, uint16(cfg.ServerPort))
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := runOnce(ctx, cfg, tunDevice, serverAddr, handshakeDeadline, keepalive); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cfg.Log.Warnf("client: %v, reconnecting in %s", err, connection.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(connection.ReconnectDelay):
		}
	}
}

// runOnce dials one UDP socket, performs one handshake, and runs the data
// plane until it returns (session disconnect, transport error, or ctx
// cancellation). The socket is always closed before returning, so a retry
// redials cleanly.
func runOnce(ctx context.Context, cfg ClientConfig, tunDevice *tun.Device, serverAddr netip.AddrPort, handshakeDeadline, keepalive time.Duration) error {
	transport, err := udp.Dial(cfg.ServerHost, cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("dial udp: %w", err)
	}
	defer transport.Close()

	engine := noiseimpl.NewClientEngine(cfg.StaticPrivateKey, cfg.StaticPublicKey, cfg.ServerPublicKey, cfg.PreSharedKey, cfg.Algorithm)
	tunnel := dataplaneclient.New(transport, tunDevice, engine, cfg.Log, serverAddr, keepalive)

	hctx, cancel := context.WithTimeout(ctx, handshakeDeadline)
	state, err := tunnel.Handshake(hctx)
	cancel()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	cfg.Log.Infof("client: tunnel up, tun=%s, server=%s:%d", cfg.Tun.Name, cfg.ServerHost, cfg.ServerPort)
	err = tunnel.Run(ctx, state)
	if err != nil && !errors.Is(err, dataplaneclient.ErrDisconnected) {
		return fmt.Errorf("data plane: %w", err)
	}
	return err
}
