// Package config loads process configuration for the proxy from YAML,
// following the same load-with-defaults shape used throughout this
// project's config files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModuleSpec names a module to load at startup and the arguments to pass
// to its factory (module.Register), mirroring how game_servers entries
// name a static list of peers to wire up.
type ModuleSpec struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// Proxy holds all configuration for one proxy listener.
type Proxy struct {
	// Network
	ListenAddress   string `yaml:"listen_address"`
	UpstreamAddress string `yaml:"upstream_address"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Crypto backend selection (internal/crypto.Cipher implementations)
	CipherBackend string `yaml:"cipher_backend"` // rolling | blowfish

	// Protocol
	CheckVersionOpcode uint16 `yaml:"check_version_opcode"`
	// ProtocolVersion seeds the reference TableCodec's named-message table
	// (see protocol.NewDefaultTableCodec). A custom codec ignores it.
	ProtocolVersion int `yaml:"protocol_version"`

	// Modules loaded into every connection's dispatch.Dispatcher at accept time.
	Modules []ModuleSpec `yaml:"modules"`
}

// DefaultProxy returns Proxy config with sensible defaults.
func DefaultProxy() Proxy {
	return Proxy{
		ListenAddress:      "0.0.0.0:9000",
		UpstreamAddress:    "127.0.0.1:7777",
		LogLevel:           "info",
		CipherBackend:      "rolling",
		CheckVersionOpcode: 19900,
		ProtocolVersion:    361000,
	}
}

// LoadProxy loads proxy config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadProxy(path string) (Proxy, error) {
	cfg := DefaultProxy()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
