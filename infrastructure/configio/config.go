// Package configio loads and persists the typed, on-disk configuration
// record spec §1 calls out as an external collaborator ("TOML/base64
// config loading mechanics" themselves are out of scope; the typed record
// and its load/persist edge are not). Grounded on the teacher's
// infrastructure/PAL/configuration package for field shape, using
// github.com/BurntSushi/toml (as katzenpost-client's config package does)
// in place of the teacher's JSON tags.
package configio

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"tunvpn/application/network/connection"
	"tunvpn/infrastructure/settings"
)

// ServerConfig is the server's persisted configuration record.
type ServerConfig struct {
	Tun       settings.TunSettings
	Transport settings.TransportSettings
	Runtime   settings.RuntimeSettings
	CIDR      string // e.g. "10.8.0.0/24"

	StaticPrivateKeyB64 string
	StaticPublicKeyB64  string
	StorePath           string
}

// ClientConfig is the client's persisted configuration record.
type ClientConfig struct {
	ServerHost string
	ServerPort int
	Tun        settings.TunSettings
	Runtime    settings.RuntimeSettings

	// Algorithm is the cipher suite this client's handshake advertises
	// ("aes-256-gcm" or "chacha20-poly1305"); the server detects it from
	// the handshake bytes, but the client must decide up front.
	Algorithm string

	StaticPrivateKeyB64 string
	StaticPublicKeyB64  string
	ServerPublicKeyB64  string
	PreSharedKeyB64     string
}

// DecodeKey base64-decodes a key field from a config record.
func DecodeKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("configio: invalid base64 key: %w", err)
	}
	return key, nil
}

// EncodeKey base64-encodes a raw key for storage in a config record.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ParseAlgorithm maps a ClientConfig.Algorithm string to its
// connection.Algorithm value.
func ParseAlgorithm(name string) (connection.Algorithm, error) {
	switch name {
	case "aes-256-gcm":
		return connection.AlgorithmAES256GCM, nil
	case "chacha20-poly1305":
		return connection.AlgorithmChaCha20Poly1305, nil
	default:
		return connection.AlgorithmUnknown, fmt.Errorf("configio: unknown algorithm %q", name)
	}
}

// LoadServerConfig reads and decodes a ServerConfig from path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("configio: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveServerConfig writes cfg to path as TOML.
func SaveServerConfig(path string, cfg *ServerConfig) error {
	return saveTOML(path, cfg)
}

// LoadClientConfig reads and decodes a ClientConfig from path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("configio: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveClientConfig writes cfg to path as TOML.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	return saveTOML(path, cfg)
}

func saveTOML(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("configio: create %s: %w", path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("configio: encode %s: %w", path, err)
	}
	return nil
}
