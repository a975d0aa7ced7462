// Package presentation wires loaded configuration into the tunnel engine
// and runs it until the process is asked to stop. It owns no tunnel logic
// of its own; it is the thin seam between infrastructure/configio and
// infrastructure/tunnel/lifecycle, grounded on the teacher's
// presentation/client.go construct-and-delegate shape.
package presentation

import (
	"context"
	"fmt"

	"tunvpn/infrastructure/configio"
	logimpl "tunvpn/infrastructure/logging"
	"tunvpn/infrastructure/storage/clientstore"
	"tunvpn/infrastructure/tunnel/lifecycle"
)

// StartServer loads the server configuration at configPath, opens its
// client store, and runs the tunnel server until ctx is cancelled.
func StartServer(ctx context.Context, configPath string) error {
	log := logimpl.NewConsoleLogger("server")

	cfg, err := configio.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("presentation: load server config: %w", err)
	}

	priv, err := configio.DecodeKey(cfg.StaticPrivateKeyB64)
	if err != nil {
		return fmt.Errorf("presentation: decode static private key: %w", err)
	}
	pub, err := configio.DecodeKey(cfg.StaticPublicKeyB64)
	if err != nil {
		return fmt.Errorf("presentation: decode static public key: %w", err)
	}

	store, err := clientstore.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("presentation: open client store: %w", err)
	}
	defer store.Close()

	return lifecycle.RunServer(ctx, lifecycle.ServerConfig{
		Tun:              cfg.Tun,
		Transport:        cfg.Transport,
		Runtime:          cfg.Runtime,
		CIDR:             cfg.CIDR,
		StaticPrivateKey: priv,
		StaticPublicKey:  pub,
		Store:            store,
		Log:              log,
	})
}
