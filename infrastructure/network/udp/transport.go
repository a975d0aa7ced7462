// Package udp implements connection.Transport over a UDP socket (spec
// §4.4), grounded on the teacher's
// infrastructure/tunnel/dataplane/server/udp_chacha20/transport_handler.go
// for socket buffer sizing.
package udp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"tunvpn/infrastructure/settings"
)

// dscpEF is the Differentiated Services Code Point for Expedited
// Forwarding (RFC 3246); outgoing tunnel datagrams are marked with it so
// upstream QoS queues prioritize them over best-effort traffic.
const dscpEF = 0xb8

// Transport implements application/network/connection.Transport.
type Transport struct {
	conn *net.UDPConn
}

// Listen opens a UDP socket bound to s.Host:s.Port, sized per s.SoRcvBuf /
// s.SoSndBuf (spec §4.4 default: 1 GiB, clamped by the kernel's own max)
// and marked DSCP EF. When s.ReusePort is set, SO_REUSEPORT is applied
// before bind so additional sockets can bind the same host:port (see
// ListenWorkers).
func Listen(s settings.TransportSettings) (*Transport, error) {
	lc := net.ListenConfig{Control: reusePortControl(s.ReusePort)}
	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf("%s:%d", s.Host, s.Port))
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s:%d: %w", s.Host, s.Port, err)
	}
	conn := pc.(*net.UDPConn)
	applyBuffers(conn, s)
	applyDSCP(conn)
	return &Transport{conn: conn}, nil
}

// ListenWorkers opens n independent UDP sockets bound to the same
// host:port, one per data-plane worker, so each worker owns its own
// kernel receive queue instead of contending on a single shared socket
// (spec §4.4/§4.6). Requires s.ReusePort when n > 1.
func ListenWorkers(s settings.TransportSettings, n int) ([]*Transport, error) {
	if n > 1 && !s.ReusePort {
		return nil, fmt.Errorf("udp: %d per-worker sockets requested without ReusePort", n)
	}
	out := make([]*Transport, 0, n)
	for i := 0; i < n; i++ {
		t, err := Listen(s)
		if err != nil {
			for _, prev := range out {
				prev.Close()
			}
			return nil, fmt.Errorf("udp: open worker socket %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Dial opens a UDP socket connected to the server address (client side).
func Dial(host string, port int) (*Transport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s:%d: %w", host, port, err)
	}
	applyDSCP(conn)
	return &Transport{conn: conn}, nil
}

// Send implements connection.Transport. The server's socket is unconnected
// (bound, not dialed) so it always addresses by addr; the client's socket
// is connected to the server and addr is ignored.
func (t *Transport) Send(_ context.Context, frame []byte, addr netip.AddrPort) (int, error) {
	if addr.IsValid() {
		return t.conn.WriteToUDPAddrPort(frame, addr)
	}
	return t.conn.Write(frame)
}

// Recv implements connection.Transport. ctx's deadline, if any, becomes the
// socket's read deadline, and cancelling ctx unblocks a pending read.
func (t *Transport) Recv(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	deadline, _ := ctx.Deadline() // zero time clears an earlier deadline
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return 0, netip.AddrPort{}, err
	}
	stop := context.AfterFunc(ctx, func() { _ = t.conn.SetReadDeadline(time.Now()) })
	defer stop()
	n, addr, err := t.conn.ReadFromUDPAddrPort(buf)
	return n, addr, err
}

func (t *Transport) Close() error { return t.conn.Close() }

func applyBuffers(conn *net.UDPConn, s settings.TransportSettings) {
	rcv, snd := s.SoRcvBuf, s.SoSndBuf
	if rcv <= 0 {
		rcv = settings.DefaultSocketBuf
	}
	if snd <= 0 {
		snd = settings.DefaultSocketBuf
	}
	_ = conn.SetReadBuffer(rcv)
	_ = conn.SetWriteBuffer(snd)
}

func applyDSCP(conn *net.UDPConn) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = rc.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscpEF)
	})
}

// reusePortControl returns a net.ListenConfig.Control callback that sets
// SO_REUSEPORT on the listening socket before bind, when enabled. It is a
// no-op control function when reusePort is false.
func reusePortControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		if !reusePort {
			return nil
		}
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
