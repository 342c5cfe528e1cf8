// Package config loads the relay's optional HCL configuration file.
//
// A configuration file looks like:
//
//	server {
//	  listen            = ":8080"
//	  echo_to_sender    = true
//	  max_payload       = 16777216
//	  handshake_timeout = "10s"
//	  idle_timeout      = "0s"
//	  write_timeout     = "10s"
//	}
//
//	log {
//	  level = "info"
//	}
//
//	stats {
//	  schedule = "@every 1m"
//	}
//
// Environment variables are available to expressions as env.NAME.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/server"
)

// DefaultListen is the address the relay listens on when none is configured.
const DefaultListen = ":8080"

// Config is the resolved relay configuration.
type Config struct {
	Listen           string
	EchoToSender     bool
	MaxPayload       int64
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration

	LogLevel string

	StatsSchedule string
	StatsTimezone string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:           DefaultListen,
		EchoToSender:     true,
		MaxPayload:       server.DefaultMaxPayload,
		HandshakeTimeout: server.DefaultHandshakeTimeout,
		WriteTimeout:     server.DefaultWriteTimeout,
		LogLevel:         "info",
	}
}

// ListenerConfig returns a server.ListenerConfig populated from c.
func (c *Config) ListenerConfig(logger *zap.Logger) *server.ListenerConfig {
	return server.NewListenerConfig().
		WithLogger(logger).
		WithEchoToSender(c.EchoToSender).
		WithMaxPayload(c.MaxPayload).
		WithHandshakeTimeout(c.HandshakeTimeout).
		WithIdleTimeout(c.IdleTimeout).
		WithWriteTimeout(c.WriteTimeout)
}

type fileDefinition struct {
	Server *serverDefinition `hcl:"server,block"`
	Log    *logDefinition    `hcl:"log,block"`
	Stats  *statsDefinition  `hcl:"stats,block"`
}

type serverDefinition struct {
	Listen           *string   `hcl:"listen,optional"`
	EchoToSender     *bool     `hcl:"echo_to_sender,optional"`
	MaxPayload       *int64    `hcl:"max_payload,optional"`
	HandshakeTimeout *string   `hcl:"handshake_timeout,optional"`
	IdleTimeout      *string   `hcl:"idle_timeout,optional"`
	WriteTimeout     *string   `hcl:"write_timeout,optional"`
	DefRange         hcl.Range `hcl:",def_range"`
}

type logDefinition struct {
	Level string `hcl:"level,optional"`
}

type statsDefinition struct {
	Schedule string    `hcl:"schedule"`
	Timezone string    `hcl:"timezone,optional"`
	DefRange hcl.Range `hcl:",def_range"`
}

// Load parses the given sources (file paths, directories or []byte) and
// returns the configuration they describe, layered over Default(). Later
// sources override earlier ones.
func Load(sources ...any) (*Config, hcl.Diagnostics) {
	bodies, diags := ParseConfigFiles(sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	cfg := Default()
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": GetEnvObject(),
		},
	}

	for _, body := range bodies {
		var def fileDefinition
		decodeDiags := gohcl.DecodeBody(body, evalCtx, &def)
		diags = diags.Extend(decodeDiags)
		if decodeDiags.HasErrors() {
			continue
		}
		diags = diags.Extend(cfg.apply(&def))
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, diags
}

func (c *Config) apply(def *fileDefinition) hcl.Diagnostics {
	var diags hcl.Diagnostics

	if s := def.Server; s != nil {
		if s.Listen != nil {
			c.Listen = *s.Listen
		}
		if s.EchoToSender != nil {
			c.EchoToSender = *s.EchoToSender
		}
		if s.MaxPayload != nil {
			if *s.MaxPayload <= 0 {
				diags = diags.Append(invalid("Invalid max_payload", "max_payload must be positive", &s.DefRange))
			} else {
				c.MaxPayload = *s.MaxPayload
			}
		}
		diags = diags.Extend(parseDuration("handshake_timeout", s.HandshakeTimeout, &c.HandshakeTimeout, &s.DefRange))
		diags = diags.Extend(parseDuration("idle_timeout", s.IdleTimeout, &c.IdleTimeout, &s.DefRange))
		diags = diags.Extend(parseDuration("write_timeout", s.WriteTimeout, &c.WriteTimeout, &s.DefRange))
	}

	if def.Log != nil && def.Log.Level != "" {
		c.LogLevel = def.Log.Level
	}

	if st := def.Stats; st != nil {
		if _, err := cronParser.Parse(st.Schedule); err != nil {
			diags = diags.Append(invalid("Invalid stats schedule", fmt.Sprintf("Invalid schedule %q: %s", st.Schedule, err), &st.DefRange))
		} else {
			c.StatsSchedule = st.Schedule
			c.StatsTimezone = st.Timezone
		}
	}

	return diags
}

func parseDuration(name string, value *string, target *time.Duration, subject *hcl.Range) hcl.Diagnostics {
	if value == nil {
		return nil
	}

	d, err := time.ParseDuration(*value)
	if err != nil || d < 0 {
		return hcl.Diagnostics{invalid(
			"Invalid duration",
			fmt.Sprintf("%s must be a non-negative duration such as \"10s\", got %q", name, *value),
			subject,
		)}
	}

	*target = d
	return nil
}

func invalid(summary, detail string, subject *hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  subject,
	}
}
