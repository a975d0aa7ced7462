// Package settings holds the plain runtime values the core is configured
// with. It carries no loading logic: that lives in infrastructure/configio,
// the explicit "load/persist a typed configuration record" edge spec §1
// reserves for an external collaborator.
package settings

import (
	"net/netip"
	"time"
)

// TunSettings configures the kernel TUN device (spec §4.5).
type TunSettings struct {
	Name         string
	MTU          int
	InnerIP      netip.Addr
	PrefixLength int
}

const DefaultMTU = 1420

// TransportSettings configures the UDP endpoint (spec §4.4).
type TransportSettings struct {
	Host         string
	Port         int
	SoRcvBuf     int
	SoSndBuf     int
	ReusePort    bool
}

const DefaultSocketBuf = 1 << 30 // 1 GiB, spec §4.4 default

// RuntimeSettings configures the worker pipeline and session lifecycle
// (spec §4.6, §4.8).
type RuntimeSettings struct {
	Workers         int
	QueueCapacity   int
	SessionTTL      time.Duration
	ReapInterval    time.Duration
	HandshakeDeadline time.Duration
	KeepaliveInterval time.Duration
}

const (
	DefaultQueueCapacity   = 1000
	DefaultSessionTTL      = 5 * time.Minute
	DefaultReapInterval    = 60 * time.Second
	DefaultHandshakeDeadline = 3 * time.Second
	DefaultKeepaliveInterval = 5 * time.Second
)

func DefaultRuntimeSettings(workers int) RuntimeSettings {
	return RuntimeSettings{
		Workers:           workers,
		QueueCapacity:     DefaultQueueCapacity,
		SessionTTL:        DefaultSessionTTL,
		ReapInterval:      DefaultReapInterval,
		HandshakeDeadline: DefaultHandshakeDeadline,
		KeepaliveInterval: DefaultKeepaliveInterval,
	}
}
