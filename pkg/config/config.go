// Package config loads server configuration from YAML with a .env
// overlay, grounded on the teacher's config loader (parse, expand, decode
// pipeline) adapted to this engine's settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the full set of settings needed to wire the engine's
// components together.
type Config struct {
	IR      IRConfig      `yaml:"ir" mapstructure:"ir"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Outbox  OutboxConfig  `yaml:"outbox" mapstructure:"outbox"`
	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Traffic TrafficConfig `yaml:"traffic" mapstructure:"traffic"`
}

// IRConfig configures the IR Loader.
type IRConfig struct {
	Dirs []string `yaml:"dirs" mapstructure:"dirs"`
}

// SessionConfig configures the Session Store.
type SessionConfig struct {
	StoreRoot string `yaml:"store_root" mapstructure:"store_root"`
}

// OutboxConfig configures the Outbox Poller.
type OutboxConfig struct {
	Period       time.Duration `yaml:"period" mapstructure:"period"`
	UseNullQueue bool          `yaml:"use_null_queue" mapstructure:"use_null_queue"`
}

// LLMConfig configures the LLM adapter.
type LLMConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`
	MockReply      string        `yaml:"mock_reply" mapstructure:"mock_reply"`
}

// HTTPConfig configures the HTTP and metrics listen addresses.
type HTTPConfig struct {
	ListenAddr    string `yaml:"listen_addr" mapstructure:"listen_addr"`
	MetricsAddr   string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// RetryConfig configures job retry backoff, per spec.md §7.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	Multiplier      float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// TrafficConfig configures the LLM traffic recorder, per SPEC_FULL.md §4.11.
type TrafficConfig struct {
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// Default returns the configuration's zero-argument defaults, applied
// before a file is loaded on top.
func Default() *Config {
	return &Config{
		IR:      IRConfig{Dirs: []string{"flows/system", "flows"}},
		Session: SessionConfig{StoreRoot: "data/sessions"},
		Outbox:  OutboxConfig{Period: 250 * time.Millisecond, UseNullQueue: true},
		LLM:     LLMConfig{DefaultTimeout: 30 * time.Second},
		HTTP:    HTTPConfig{ListenAddr: ":8080", MetricsAddr: ":9090"},
		Retry:   RetryConfig{MaxAttempts: 5, InitialInterval: time.Second, Multiplier: 2},
		Traffic: TrafficConfig{Capacity: 500},
	}
}

// Load reads .env/.env.local (if present), then path (if non-empty and
// present) over the defaults, per the teacher's load-then-overlay
// pipeline.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return cfg, nil
}

func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}
