// Package worker implements the server-side data-plane pipeline (spec §4.6,
// §4.7): per-worker bounded queues feeding a small set of cooperative tasks,
// joined by an errgroup so any task's failure (or ctx cancellation) tears
// down the whole worker. Grounded on the teacher's errgroup-based
// infrastructure/routing_layer/server_routing/routing/server_router.go,
// generalized from its two-task TUN<->Transport loop into the five-task,
// queue-mediated pipeline spec §4.6 describes; the bounded, drop-on-full
// queue itself follows the shape of the teacher's
// infrastructure/tunnel/sessionplane/server/udp_registration/queue package.
package worker

import (
	"context"
	"io"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"tunvpn/application/logging"
	"tunvpn/application/network/connection"
	"tunvpn/application/network/ip"
	"tunvpn/application/wire"
	"tunvpn/infrastructure/settings"
	"tunvpn/infrastructure/tunnel/session"
)

// Engine is the subset of connection.ServerEngine the worker depends on.
type Engine = connection.ServerEngine

// udpFrame is one inbound or outbound UDP datagram, paired with the
// address it came from or is going to.
type udpFrame struct {
	payload []byte
	addr    netip.AddrPort
}

type handshakeJob struct {
	initial []byte
	addr    netip.AddrPort
}

type decryptJob struct {
	sid        connection.SessionID
	ciphertext []byte
	fromAddr   netip.AddrPort
}

type encryptJob struct {
	plaintext []byte
}

// Worker runs one instance of the five-task pipeline. Multiple Workers
// share the same Table but each get their own queues — spec §4.6's
// "per-worker bounded queues", not one global set. The Transport and TUN
// device are whatever the caller passes: lifecycle.RunServer gives each
// worker its own TUN queue, and its own socket when ReusePort is set.
type Worker struct {
	id        int
	transport connection.Transport
	tun       io.ReadWriter
	table     *session.Table
	engine    Engine
	log       logging.Logger

	handshakeQ chan handshakeJob
	dataUDPQ   chan decryptJob
	dataTUNQ   chan encryptJob
	outUDPQ    chan udpFrame
	outTUNQ    chan []byte
}

// New builds a Worker with the given bounded queue capacity; a
// non-positive capacity falls back to settings.DefaultQueueCapacity (1000).
func New(id int, transport connection.Transport, tun io.ReadWriter, table *session.Table, engine Engine, log logging.Logger, queueCapacity int) *Worker {
	if queueCapacity <= 0 {
		queueCapacity = settings.DefaultQueueCapacity
	}
	return &Worker{
		id:         id,
		transport:  transport,
		tun:        tun,
		table:      table,
		engine:     engine,
		log:        log,
		handshakeQ: make(chan handshakeJob, queueCapacity),
		dataUDPQ:   make(chan decryptJob, queueCapacity),
		dataTUNQ:   make(chan encryptJob, queueCapacity),
		outUDPQ:    make(chan udpFrame, queueCapacity),
		outTUNQ:    make(chan []byte, queueCapacity),
	}
}

// Run starts all five tasks and blocks until ctx is cancelled or one task
// returns a non-nil error.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.udpListener(ctx) })
	g.Go(func() error { return w.tunListener(ctx) })
	g.Go(func() error { return w.executor(ctx) })
	g.Go(func() error { return w.udpSender(ctx) })
	g.Go(func() error { return w.tunSender(ctx) })

	return g.Wait()
}

// udpListener reads datagrams off the UDP socket and classifies them onto
// handshakeQ or dataUDPQ, dropping (with a log line) when a queue is full
// rather than blocking the socket read loop.
func (w *Worker) udpListener(ctx context.Context) error {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, addr, err := w.transport.Recv(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warnf("worker %d: udp recv: %v", w.id, err)
			continue
		}
		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			w.log.Debugf("worker %d: dropping malformed datagram from %s: %v", w.id, addr, err)
			continue
		}
		switch pkt.Tag {
		case wire.TagHandshakeInitial:
			w.tryEnqueueHandshake(handshakeJob{initial: pkt.Payload, addr: addr})
		case wire.TagDataClient:
			w.tryEnqueueDecrypt(decryptJob{sid: pkt.SID, ciphertext: pkt.Payload, fromAddr: addr})
		default:
			w.log.Debugf("worker %d: unexpected tag %v from %s", w.id, pkt.Tag, addr)
		}
	}
}

// tunListener reads plaintext packets off the TUN device and queues them
// for encryption. The session to encrypt with is resolved from the
// packet's destination IP in the executor, not here, keeping this loop a
// pure reader.
func (w *Worker) tunListener(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := w.tun.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		plaintext := append([]byte(nil), buf[:n]...)
		w.tryEnqueueEncrypt(encryptJob{plaintext: plaintext})
	}
}

// executor is the single cooperative task that multiplexes the three
// logical stages spec §4.6/§4.7 name separately (handshake, data-UDP,
// data-TUN): handshake completion, UDP->TUN decryption, and TUN->UDP
// encryption.
func (w *Worker) executor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-w.handshakeQ:
			w.runHandshake(job)
		case job := <-w.dataUDPQ:
			w.runDecrypt(job)
		case job := <-w.dataTUNQ:
			w.runEncrypt(job)
		}
	}
}

func (w *Worker) runHandshake(job handshakeJob) {
	reply, result, ok, err := w.engine.ServerHandshake(job.initial, job.addr)
	if err != nil {
		w.log.Warnf("worker %d: handshake from %s: %v", w.id, job.addr, err)
		return
	}
	if !ok && reply == nil {
		return // unknown peer or malformed: silent drop per spec §4.2
	}
	// ok=false with a reply is a typed rejection (server overloaded): the
	// reply is sent, but no session is installed.
	if ok && result.State != nil {
		w.table.Install(result.SID, result.InnerIP, job.addr, result.Algorithm, result.State)
	}
	frame, err := wire.EncodeHandshakeResponder(reply)
	if err != nil {
		w.log.Warnf("worker %d: encode responder for sid=%d: %v", w.id, result.SID, err)
		return
	}
	w.tryEnqueueOutUDP(udpFrame{payload: frame, addr: job.addr})
}

func (w *Worker) runDecrypt(job decryptJob) {
	s, err := w.table.GetBySID(job.sid)
	if err != nil {
		w.log.Debugf("worker %d: data for unknown sid=%d from %s", w.id, job.sid, job.fromAddr)
		return
	}
	plaintext, err := s.TransportState().Decrypt(job.ciphertext)
	if err != nil {
		w.log.Debugf("worker %d: decrypt failed for sid=%d: %v", w.id, job.sid, err)
		return
	}
	body, err := wire.DecodeClientBody(plaintext)
	if err != nil {
		w.log.Debugf("worker %d: malformed client body for sid=%d: %v", w.id, job.sid, err)
		return
	}
	s.Touch()
	if s.PeerAddr() != job.fromAddr {
		s.SetPeerAddr(job.fromAddr) // roaming (spec §4.3)
	}
	switch body.Kind {
	case wire.KindPayload:
		srcIP, ok := ip.ExtractSourceIP(body.Payload)
		if !ok || srcIP != s.InnerIP() {
			return // spoofed source: silently drop
		}
		w.tryEnqueueOutTUN(append([]byte(nil), body.Payload...))
	case wire.KindKeepAlive:
		w.log.Debugf("worker %d: keepalive sid=%d client_micros=%d", w.id, job.sid, body.ClientMicros)
		reply := wire.EncodeServerKeepAlive(body.ClientMicros)
		w.sendEncrypted(s, reply, job.fromAddr)
	case wire.KindDisconnect:
		w.table.ReleaseSession(job.sid)
	}
}

func (w *Worker) runEncrypt(job encryptJob) {
	dstIP, err := (ip.DefaultHeaderParser{}).DestinationAddress(job.plaintext)
	if err != nil {
		return
	}
	s, err := w.table.GetByInnerIP(dstIP)
	if err != nil {
		return // no session owns this inner IP: drop
	}
	body, err := wire.EncodeServerPayload(job.plaintext)
	if err != nil {
		return
	}
	w.sendEncrypted(s, body, s.PeerAddr())
}

func (w *Worker) sendEncrypted(s connection.Session, plaintextBody []byte, addr netip.AddrPort) {
	ciphertext, err := s.TransportState().Encrypt(plaintextBody)
	if err != nil {
		w.log.Warnf("worker %d: encrypt for sid=%d: %v", w.id, s.ID(), err)
		return
	}
	frame, err := wire.EncodeDataServer(ciphertext)
	if err != nil {
		return
	}
	w.tryEnqueueOutUDP(udpFrame{payload: frame, addr: addr})
}

func (w *Worker) udpSender(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-w.outUDPQ:
			if _, err := w.transport.Send(ctx, frame.payload, frame.addr); err != nil && ctx.Err() == nil {
				w.log.Warnf("worker %d: udp send to %s: %v", w.id, frame.addr, err)
			}
		}
	}
}

func (w *Worker) tunSender(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt := <-w.outTUNQ:
			if _, err := w.tun.Write(pkt); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) tryEnqueueHandshake(j handshakeJob) {
	select {
	case w.handshakeQ <- j:
	default:
		w.log.Warnf("worker %d: handshake queue full, dropping from %s", w.id, j.addr)
	}
}

func (w *Worker) tryEnqueueDecrypt(j decryptJob) {
	select {
	case w.dataUDPQ <- j:
	default:
		w.log.Warnf("worker %d: data_q (udp) full, dropping sid=%d", w.id, j.sid)
	}
}

func (w *Worker) tryEnqueueEncrypt(j encryptJob) {
	select {
	case w.dataTUNQ <- j:
	default:
		w.log.Warnf("worker %d: data_q (tun) full, dropping packet", w.id)
	}
}

func (w *Worker) tryEnqueueOutUDP(f udpFrame) {
	select {
	case w.outUDPQ <- f:
	default:
		w.log.Warnf("worker %d: out_udp_q full, dropping frame to %s", w.id, f.addr)
	}
}

func (w *Worker) tryEnqueueOutTUN(p []byte) {
	select {
	case w.outTUNQ <- p:
	default:
		w.log.Warnf("worker %d: out_tun_q full, dropping packet", w.id)
	}
}
