// Package client implements the client-side data plane (spec §4.7):
// perform the handshake, then run TUN<->UDP in both directions while a
// keepalive ticker holds the NAT mapping open. Unlike the server's
// worker-pool pipeline, the client has exactly one session, so its state
// lives in a small Connecting/Connected/Error machine rather than a queue
// fan-out. Grounded on the teacher's errgroup-joined
// infrastructure/routing_layer/server_routing/routing/server_router.go
// pattern, adapted to the client's single-session, keepalive-driven loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"tunvpn/application/logging"
	"tunvpn/application/network/connection"
	"tunvpn/application/network/ip"
	"tunvpn/application/wire"
)

// ErrDisconnected is returned by Run when the server sends an explicit
// KindDisconnect for this session. The tunnel's state reverts to
// StateConnecting so the caller's watcher knows to restart the handshake
// rather than treat this as a fatal error (spec §4.7).
var ErrDisconnected = errors.New("client: server disconnected session")

// State is the client tunnel's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "error"
	}
}

// Tunnel drives one client session end to end.
type Tunnel struct {
	transport connection.Transport
	tun       io.ReadWriter
	engine    connection.ClientEngine
	log       logging.Logger

	serverAddr netip.AddrPort
	keepalive  time.Duration

	state State
	sid   connection.SessionID
	inner netip.Addr
}

func New(transport connection.Transport, tun io.ReadWriter, engine connection.ClientEngine, log logging.Logger, serverAddr netip.AddrPort, keepalive time.Duration) *Tunnel {
	return &Tunnel{transport: transport, tun: tun, engine: engine, log: log, serverAddr: serverAddr, keepalive: keepalive, state: StateConnecting}
}

func (t *Tunnel) State() State { return t.state }

// Handshake runs the Noise exchange and transitions to Connected on
// success.
func (t *Tunnel) Handshake(ctx context.Context) (connection.TransportState, error) {
	initial, err := t.engine.BuildInitial()
	if err != nil {
		t.state = StateError
		return nil, err
	}
	frame, err := wire.EncodeHandshakeInitial(initial)
	if err != nil {
		t.state = StateError
		return nil, err
	}
	if _, err := t.transport.Send(ctx, frame, netip.AddrPort{}); err != nil {
		t.state = StateError
		return nil, fmt.Errorf("client: send handshake initial: %w", err)
	}

	buf := make([]byte, wire.MaxDatagramSize)
	n, _, err := t.transport.Recv(ctx, buf)
	if err != nil {
		t.state = StateError
		return nil, fmt.Errorf("client: recv handshake reply: %w", err)
	}
	pkt, err := wire.Decode(buf[:n])
	if err != nil || pkt.Tag != wire.TagHandshakeResponder {
		t.state = StateError
		return nil, wire.ErrMalformedPacket
	}

	result, err := t.engine.ParseResponse(pkt.Payload)
	if err != nil {
		t.state = StateError
		return nil, err
	}
	if result.Failure != connection.HandshakeFailureNone {
		t.state = StateError
		return nil, fmt.Errorf("client: server rejected handshake: failure=%d", result.Failure)
	}

	t.sid = result.SID
	t.inner = result.InnerIP
	t.state = StateConnected
	t.log.Infof("client: handshake complete with %s, sid=%d, inner=%s", t.serverAddr, t.sid, t.inner)
	return result.State, nil
}

// Run drives TUN->UDP, UDP->TUN and the keepalive ticker until ctx is
// cancelled or Handshake was not called/succeeded.
func (t *Tunnel) Run(ctx context.Context, state connection.TransportState) error {
	if t.state != StateConnected {
		return fmt.Errorf("client: Run called before a successful Handshake")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.tunToUDP(ctx, state) })
	g.Go(func() error { return t.udpToTUN(ctx, state) })
	g.Go(func() error { return t.keepaliveLoop(ctx, state) })

	err := g.Wait()
	if ctx.Err() != nil && err == context.Canceled {
		return nil
	}
	return err
}

func (t *Tunnel) tunToUDP(ctx context.Context, state connection.TransportState) error {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := t.tun.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		body, err := wire.EncodeClientPayload(buf[:n])
		if err != nil {
			t.log.Warnf("client: encode payload: %v", err)
			continue
		}
		if err := t.sendEncrypted(ctx, state, body); err != nil {
			t.log.Warnf("client: send data: %v", err)
		}
	}
}

func (t *Tunnel) udpToTUN(ctx context.Context, state connection.TransportState) error {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, _, err := t.transport.Recv(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		pkt, err := wire.Decode(buf[:n])
		if err != nil || pkt.Tag != wire.TagDataServer {
			continue
		}
		plaintext, err := state.Decrypt(pkt.Payload)
		if err != nil {
			t.log.Debugf("client: decrypt failed: %v", err)
			continue
		}
		body, err := wire.DecodeServerBody(plaintext)
		if err != nil {
			continue
		}
		switch body.Kind {
		case wire.KindPayload:
			if _, ok := ip.ExtractSourceIP(body.Payload); !ok {
				continue
			}
			if _, err := t.tun.Write(body.Payload); err != nil {
				return err
			}
		case wire.KindKeepAlive:
			rtt := time.Duration(uint64(time.Now().UnixMicro())-body.EchoedMicros) * time.Microsecond
			t.log.Debugf("client: keepalive rtt=%s", rtt)
		case wire.KindDisconnect:
			t.state = StateConnecting
			t.log.Infof("client: server disconnected session sid=%d reason=%d", t.sid, body.DisconnectReason)
			return ErrDisconnected
		}
	}
}

func (t *Tunnel) keepaliveLoop(ctx context.Context, state connection.TransportState) error {
	ticker := time.NewTicker(t.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			body := wire.EncodeClientKeepAlive(uint64(now.UnixMicro()))
			if err := t.sendEncrypted(ctx, state, body); err != nil {
				t.log.Warnf("client: keepalive: %v", err)
			}
		}
	}
}

func (t *Tunnel) sendEncrypted(ctx context.Context, state connection.TransportState, body []byte) error {
	ciphertext, err := state.Encrypt(body)
	if err != nil {
		return err
	}
	frame, err := wire.EncodeDataClient(t.sid, ciphertext)
	if err != nil {
		return err
	}
	_, err = t.transport.Send(ctx, frame, netip.AddrPort{})
	return err
}
