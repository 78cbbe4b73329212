package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

type fileDefinition struct {
	Client  clientDefinition `hcl:"client,block"`
	Metrics *MetricsConfig   `hcl:"metrics,block"`
}

type clientDefinition struct {
	URL              string            `hcl:"url"`
	DialTimeout      hcl.Expression    `hcl:"dial_timeout,optional"`
	WriteQueueSize   *int              `hcl:"write_queue_size,optional"`
	Authorization    *string           `hcl:"authorization,optional"`
	Headers          map[string]string `hcl:"headers,optional"`
	Channels         []string          `hcl:"channels,optional"`
	ConnectionStates map[string]string `hcl:"connection_states,optional"`
	LogLevel         *string           `hcl:"log_level,optional"`
}

// EvalContext returns the context HCL config is evaluated in. Environment
// variables are available as env.NAME.
func EvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": GetEnvObject(),
		},
	}
}

// ParseHCL decodes an HCL config. filename is only used in diagnostics.
//
//	client {
//	  url          = "wss://realtime.example.com/"
//	  dial_timeout = "10s"
//	  authorization = "Bearer ${env.REALTIME_TOKEN}"
//	  channels     = ["orders", "alerts"]
//	}
//
//	metrics {
//	  listen = ":9100"
//	}
func ParseHCL(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	evalCtx := EvalContext()

	var def fileDefinition
	diags = gohcl.DecodeBody(file.Body, evalCtx, &def)
	if diags.HasErrors() {
		return nil, diags
	}

	cfg := Default()
	cl := def.Client
	cfg.URL = cl.URL
	cfg.Headers = cl.Headers
	cfg.Channels = cl.Channels
	cfg.ConnectionStates = cl.ConnectionStates

	if IsExpressionProvided(cl.DialTimeout) {
		timeout, diags := ParseDuration(cl.DialTimeout, evalCtx)
		if diags.HasErrors() {
			return nil, diags
		}
		cfg.DialTimeout = timeout
	}
	if cl.WriteQueueSize != nil {
		cfg.WriteQueueSize = *cl.WriteQueueSize
	}
	if cl.Authorization != nil {
		cfg.Authorization = *cl.Authorization
	}
	if cl.LogLevel != nil {
		cfg.LogLevel = *cl.LogLevel
	}

	if def.Metrics != nil {
		mergeMetrics(&cfg.Metrics, *def.Metrics)
	}

	return cfg, nil
}

func mergeMetrics(dst *MetricsConfig, src MetricsConfig) {
	if src.Listen != "" {
		dst.Listen = src.Listen
	}
	if src.Namespace != "" {
		dst.Namespace = src.Namespace
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
}
