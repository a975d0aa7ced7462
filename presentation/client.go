package presentation

import (
	"context"
	"fmt"

	"tunvpn/infrastructure/configio"
	logimpl "tunvpn/infrastructure/logging"
	"tunvpn/infrastructure/tunnel/lifecycle"
)

// StartClient loads the client configuration at configPath and runs the
// tunnel client until ctx is cancelled; a dropped session is re-established
// by lifecycle.RunClient rather than ending the call.
func StartClient(ctx context.Context, configPath string) error {
	log := logimpl.NewConsoleLogger("client")

	cfg, err := configio.LoadClientConfig(configPath)
	if err != nil {
		return fmt.Errorf("presentation: load client config: %w", err)
	}

	priv, err := configio.DecodeKey(cfg.StaticPrivateKeyB64)
	if err != nil {
		return fmt.Errorf("presentation: decode static private key: %w", err)
	}
	pub, err := configio.DecodeKey(cfg.StaticPublicKeyB64)
	if err != nil {
		return fmt.Errorf("presentation: decode static public key: %w", err)
	}
	serverPub, err := configio.DecodeKey(cfg.ServerPublicKeyB64)
	if err != nil {
		return fmt.Errorf("presentation: decode server public key: %w", err)
	}
	psk, err := configio.DecodeKey(cfg.PreSharedKeyB64)
	if err != nil {
		return fmt.Errorf("presentation: decode pre-shared key: %w", err)
	}
	algorithm, err := configio.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return err
	}

	return lifecycle.RunClient(ctx, lifecycle.ClientConfig{
		Tun:              cfg.Tun,
		Runtime:          cfg.Runtime,
		ServerHost:       cfg.ServerHost,
		ServerPort:       cfg.ServerPort,
		StaticPrivateKey: priv,
		StaticPublicKey:  pub,
		ServerPublicKey:  serverPub,
		PreSharedKey:     psk,
		Algorithm:        algorithm,
		Log:              log,
	})
}
