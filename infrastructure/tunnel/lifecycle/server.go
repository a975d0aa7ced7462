// Package lifecycle sequences startup and shutdown of the tunnel engine's
// moving parts (spec §4.9): session table, handshake engine, TUN device,
// UDP socket, worker pool, and idle reaper — opened in dependency order and
// torn down in reverse. The client store is opened by the caller and passed
// in. Grounded on the teacher's
// presentation/client.go and server_router.go for the overall
// construct-then-route-until-cancelled shape, generalized from a single
// TUN<->Transport loop into the multi-worker, multi-task pipeline spec
// §4.6 requires.
package lifecycle

import (
	"context"
	"fmt"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"tunvpn/application/logging"
	"tunvpn/application/network/connection"
	"tunvpn/infrastructure/network/tun"
	"tunvpn/infrastructure/network/udp"
	noiseimpl "tunvpn/infrastructure/cryptography/noise"
	"tunvpn/infrastructure/settings"
	"tunvpn/infrastructure/storage/clientstore"
	"tunvpn/infrastructure/tunnel/reaper"
	"tunvpn/infrastructure/tunnel/session"
	"tunvpn/infrastructure/tunnel/worker"
)

// ServerConfig bundles everything the server needs to run, already decoded
// from persisted configuration (spec's configio collaborator).
type ServerConfig struct {
	Tun       settings.TunSettings
	Transport settings.TransportSettings
	Runtime   settings.RuntimeSettings
	CIDR      string

	StaticPrivateKey []byte
	StaticPublicKey  []byte
	Store            clientstore.Store
	Log              logging.Logger
}

// RunServer opens the TUN device and UDP socket, builds the session table
// and handshake engine, and runs Runtime.Workers data-plane workers plus
// the idle reaper until ctx is cancelled. It closes every resource it
// opened, in reverse order, before returning.
func RunServer(ctx context.Context, cfg ServerConfig) error {
	prefix, err := parseCIDR(cfg.CIDR)
	if err != nil {
		return err
	}
	table := session.NewTable(prefix)

	tunDevice, err := tun.Open(cfg.Tun)
	if err != nil {
		return fmt.Errorf("lifecycle: open tun: %w", err)
	}
	defer tunDevice.Close()

	engine := noiseimpl.NewServerEngine(cfg.StaticPrivateKey, cfg.StaticPublicKey, cfg.Store, table)

	workers := cfg.Runtime.Workers
	if workers <= 0 {
		workers = 1
	}

	// Each worker gets its own UDP socket when ReusePort is enabled, so
	// each owns an independent kernel receive queue instead of contending
	// on one shared socket (spec §4.4/§4.6). Without ReusePort, every
	// worker shares the single socket opened here.
	var udpSockets []*udp.Transport
	if cfg.Transport.ReusePort && workers > 1 {
		udpSockets, err = udp.ListenWorkers(cfg.Transport, workers)
		if err != nil {
			return fmt.Errorf("lifecycle: listen udp (per-worker): %w", err)
		}
		for _, t := range udpSockets {
			defer t.Close()
		}
	} else {
		shared, err := udp.Listen(cfg.Transport)
		if err != nil {
			return fmt.Errorf("lifecycle: listen udp: %w", err)
		}
		defer shared.Close()
		udpSockets = make([]*udp.Transport, workers)
		for i := range udpSockets {
			udpSockets[i] = shared
		}
	}

	// Each worker gets its own TUN queue, cloned off the kernel's
	// multi-queue interface rather than sharing one fd (spec §4.5).
	tunQueues := make([]*tun.Device, workers)
	tunQueues[0] = tunDevice
	for i := 1; i < workers; i++ {
		q, err := tunDevice.Clone()
		if err != nil {
			for j := 1; j < i; j++ {
				tunQueues[j].Close()
			}
			return fmt.Errorf("lifecycle: clone tun queue %d: %w", i, err)
		}
		tunQueues[i] = q
		defer q.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reaper.Run(ctx, table, cfg.Runtime.SessionTTL, cfg.Runtime.ReapInterval, cfg.Log)
		return nil
	})

	for i := 0; i < workers; i++ {
		w := worker.New(i, udpSockets[i], tunQueues[i], table, engine, cfg.Log, cfg.Runtime.QueueCapacity)
		g.Go(func() error { return w.Run(ctx) })
	}

	cfg.Log.Infof("server: listening on %s:%d, tun=%s, workers=%d", cfg.Transport.Host, cfg.Transport.Port, cfg.Tun.Name, workers)
	err = g.Wait()
	if ctx.Err() != nil && err == context.Canceled {
		return nil
	}
	return err
}

func parseCIDR(s string) (p netip.Prefix, err error) {
	p, err = netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("lifecycle: invalid CIDR %q: %w", s, err)
	}
	return p, nil
}

var _ connection.Allocator = (*session.Table)(nil)
