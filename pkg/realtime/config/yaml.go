package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Client  yamlClient     `yaml:"client"`
	Metrics *MetricsConfig `yaml:"metrics"`
}

type yamlClient struct {
	URL              string            `yaml:"url"`
	DialTimeout      string            `yaml:"dial_timeout"`
	WriteQueueSize   *int              `yaml:"write_queue_size"`
	Authorization    string            `yaml:"authorization"`
	Headers          map[string]string `yaml:"headers"`
	Channels         []string          `yaml:"channels"`
	ConnectionStates map[string]string `yaml:"connection_states"`
	LogLevel         string            `yaml:"log_level"`
}

// ParseYAML decodes a YAML config. Unknown keys are rejected.
//
//	client:
//	  url: wss://realtime.example.com/
//	  dial_timeout: 10s
//	  channels: [orders, alerts]
//	metrics:
//	  listen: ":9100"
func ParseYAML(src []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)

	var f yamlFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}

	cfg := Default()
	cl := f.Client
	cfg.URL = cl.URL
	cfg.Authorization = cl.Authorization
	cfg.Headers = cl.Headers
	cfg.Channels = cl.Channels
	cfg.ConnectionStates = cl.ConnectionStates

	if cl.DialTimeout != "" {
		timeout, err := parseDurationString(cl.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: dial_timeout: %w", ErrInvalidConfig, err)
		}
		cfg.DialTimeout = timeout
	}
	if cl.WriteQueueSize != nil {
		cfg.WriteQueueSize = *cl.WriteQueueSize
	}
	if cl.LogLevel != "" {
		cfg.LogLevel = cl.LogLevel
	}

	if f.Metrics != nil {
		mergeMetrics(&cfg.Metrics, *f.Metrics)
	}

	return cfg, nil
}
