// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML and TOML files with env var expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/toolgate/internal/descriptor"
	"github.com/2389/toolgate/internal/transport"
)

// Config represents the complete toolgate configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Introspect IntrospectConfig `yaml:"introspect" toml:"introspect"`
	Transports TransportsConfig `yaml:"transports" toml:"transports"`
	Servers    []ServerEntry    `yaml:"servers" toml:"servers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// IntrospectConfig holds the optional read-only HTTP debugging surface.
type IntrospectConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// TransportsConfig holds transport-wide timing configuration.
type TransportsConfig struct {
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`
	InvokeTimeout    time.Duration `yaml:"-" toml:"-"`
	StopGrace        time.Duration `yaml:"-" toml:"-"`
	ReconnectBackoff time.Duration `yaml:"-" toml:"-"`
	MaxReconnects    int           `yaml:"max_reconnects" toml:"max_reconnects"`

	// Raw string values for unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	InvokeTimeoutRaw    string `yaml:"invoke_timeout" toml:"invoke_timeout"`
	StopGraceRaw        string `yaml:"stop_grace" toml:"stop_grace"`
	ReconnectBackoffRaw string `yaml:"reconnect_backoff" toml:"reconnect_backoff"`
}

// ServerEntry is one configured tool server.
type ServerEntry struct {
	Name    string            `yaml:"name" toml:"name"`
	Kind    string            `yaml:"kind" toml:"kind"`
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`
	URL     string            `yaml:"url" toml:"url"`
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Files ending in .toml decode as TOML; everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded. Duration
// strings are parsed into time.Duration values. Structural validation of the
// server list lives in descriptor.Load, not here.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Transports.HandshakeTimeoutRaw, &cfg.Transports.HandshakeTimeout, "handshake_timeout"},
		{cfg.Transports.InvokeTimeoutRaw, &cfg.Transports.InvokeTimeout, "invoke_timeout"},
		{cfg.Transports.StopGraceRaw, &cfg.Transports.StopGrace, "stop_grace"},
		{cfg.Transports.ReconnectBackoffRaw, &cfg.Transports.ReconnectBackoff, "reconnect_backoff"},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Descriptors maps the server entries onto descriptor values, preserving
// configuration order.
func (c *Config) Descriptors() []descriptor.Server {
	out := make([]descriptor.Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, descriptor.Server{
			Name:    s.Name,
			Kind:    descriptor.Kind(s.Kind),
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			URL:     s.URL,
			Headers: s.Headers,
		})
	}
	return out
}

// TransportOptions maps the timing configuration onto transport options.
// Zero values fall back to the transport defaults.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		HandshakeTimeout: c.Transports.HandshakeTimeout,
		InvokeTimeout:    c.Transports.InvokeTimeout,
		StopGrace:        c.Transports.StopGrace,
		ReconnectBackoff: c.Transports.ReconnectBackoff,
		MaxReconnects:    c.Transports.MaxReconnects,
	}
}
