// Package config loads client configuration from HCL or YAML files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/dispatch"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultDialTimeout    = 30 * time.Second
	DefaultWriteQueueSize = 100
	DefaultLogLevel       = "info"
	DefaultMetricsPath    = "/metrics"
	DefaultNamespace      = "realtime"
)

var (
	// ErrUnknownFormat is returned by Load for files that are neither HCL nor YAML.
	ErrUnknownFormat = errors.New("unknown config file format")
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the client configuration after defaults are applied.
type Config struct {
	URL              string
	DialTimeout      time.Duration
	WriteQueueSize   int
	Authorization    string
	Headers          map[string]string
	Channels         []string
	ConnectionStates map[string]string
	LogLevel         string
	Metrics          MetricsConfig
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen    string `hcl:"listen,optional" yaml:"listen"`
	Namespace string `hcl:"namespace,optional" yaml:"namespace"`
	Path      string `hcl:"path,optional" yaml:"path"`
}

// Default returns a Config with every default set and no URL.
func Default() *Config {
	return &Config{
		DialTimeout:    DefaultDialTimeout,
		WriteQueueSize: DefaultWriteQueueSize,
		LogLevel:       DefaultLogLevel,
		Metrics: MetricsConfig{
			Namespace: DefaultNamespace,
			Path:      DefaultMetricsPath,
		},
	}
}

// Load reads a config file, choosing the decoder by extension: .hcl for
// HCL and .yaml or .yml for YAML. The result is validated.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		cfg, err = ParseHCL(src, path)
	case ".yaml", ".yml":
		cfg, err = ParseYAML(src)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: url scheme must be ws or wss, got %q", ErrInvalidConfig, u.Scheme)
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("%w: dial_timeout must be positive", ErrInvalidConfig)
	}
	if c.WriteQueueSize <= 0 {
		return fmt.Errorf("%w: write_queue_size must be positive", ErrInvalidConfig)
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}

	for _, name := range c.Channels {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty channel name", ErrInvalidConfig)
		}
	}

	if _, err := c.ConnectionStateMap(); err != nil {
		return err
	}

	return nil
}

// ConnectionStateMap converts ConnectionStates into dispatcher overrides.
func (c *Config) ConnectionStateMap() (map[protocol.Action]connection.State, error) {
	defaults := dispatch.DefaultConnectionStates()
	out := make(map[protocol.Action]connection.State, len(c.ConnectionStates))

	for actionName, stateName := range c.ConnectionStates {
		action, err := protocol.ParseAction(actionName)
		if err != nil {
			return nil, fmt.Errorf("%w: connection_states: %w", ErrInvalidConfig, err)
		}
		if _, ok := defaults[action]; !ok {
			return nil, fmt.Errorf("%w: connection_states: action %q does not change connection state", ErrInvalidConfig, action)
		}
		s, err := connection.States.Parse(stateName)
		if err != nil {
			return nil, fmt.Errorf("%w: connection_states: %w", ErrInvalidConfig, err)
		}
		out[action] = s
	}

	return out, nil
}

// HTTPHeaders returns Headers in the form the transport expects.
func (c *Config) HTTPHeaders() map[string][]string {
	if len(c.Headers) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c.Headers))
	for k, v := range c.Headers {
		out[k] = []string{v}
	}
	return out
}
