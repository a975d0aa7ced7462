package configio

import (
	"path/filepath"
	"testing"

	"tunvpn/infrastructure/settings"
)

func TestServerConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")

	cfg := &ServerConfig{
		Tun:       settings.TunSettings{Name: "tun0", MTU: settings.DefaultMTU},
		Transport: settings.TransportSettings{Host: "0.0.0.0", Port: 51820},
		Runtime:   settings.DefaultRuntimeSettings(4),
		CIDR:      "10.8.0.0/24",
		StaticPrivateKeyB64: EncodeKey([]byte("0123456789abcdef0123456789abcdef")),
		StorePath: filepath.Join(dir, "clients.db"),
	}

	if err := SaveServerConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Tun.Name != cfg.Tun.Name || loaded.Transport.Port != cfg.Transport.Port {
		t.Fatalf("round-trip mismatch: %+v vs %+v", loaded, cfg)
	}
	key, err := DecodeKey(loaded.StaticPrivateKeyB64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if string(key) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("key mismatch: %q", key)
	}
}

func TestClientConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.toml")

	cfg := &ClientConfig{
		ServerHost: "203.0.113.1",
		ServerPort: 51820,
		Tun:        settings.TunSettings{Name: "tun0", MTU: settings.DefaultMTU},
	}
	if err := SaveClientConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ServerHost != cfg.ServerHost || loaded.ServerPort != cfg.ServerPort {
		t.Fatalf("round-trip mismatch: %+v vs %+v", loaded, cfg)
	}
}
