package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Compiler  CompilerConfig
	TypeInfo  TypeInfoConfig
	Pipeline  PipelineConfig
	Sessions  SessionConfig
	Vendor    VendorConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port      string `envconfig:"PORT" default:"8000"`
	Host      string `envconfig:"HOST" default:"0.0.0.0"`
	AssetsDir string `envconfig:"ASSETS_DIR" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds module evaluation limits.
type SandboxConfig struct {
	Timeout          time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	MaxCallStackSize int           `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024"`
	AssetRoot        string        `envconfig:"SANDBOX_ASSET_ROOT" default:"/assets/"`
}

// CompilerConfig holds transform worker configuration.
type CompilerConfig struct {
	Workers     int    `envconfig:"COMPILER_WORKERS" default:"2"`
	QueueSize   int    `envconfig:"COMPILER_QUEUE_SIZE" default:"64"`
	JSXFactory  string `envconfig:"COMPILER_JSX_FACTORY" default:"React.createElement"`
	JSXFragment string `envconfig:"COMPILER_JSX_FRAGMENT" default:"React.Fragment"`
	Target      string `envconfig:"COMPILER_TARGET" default:"es2017"`
}

// TypeInfoConfig holds the optional information-query worker configuration.
type TypeInfoConfig struct {
	Enabled bool          `envconfig:"TYPEINFO_ENABLED" default:"false"`
	Timeout time.Duration `envconfig:"TYPEINFO_TIMEOUT" default:"2s"`
}

// PipelineConfig holds orchestrator behaviour switches.
type PipelineConfig struct {
	StrictGenerations bool `envconfig:"PIPELINE_STRICT_GENERATIONS" default:"false"`
}

// SessionConfig holds playground session limits.
type SessionConfig struct {
	Max int `envconfig:"SESSION_MAX" default:"64"`
}

// VendorConfig holds limits for vendor modules fetched by URL.
type VendorConfig struct {
	FetchTimeout time.Duration `envconfig:"VENDOR_FETCH_TIMEOUT" default:"10s"`
	FetchRetries int           `envconfig:"VENDOR_FETCH_RETRIES" default:"3"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			Timeout:          5 * time.Second,
			MaxCallStackSize: 1024,
			AssetRoot:        "/assets/",
		},
		Compiler: CompilerConfig{
			Workers:     2,
			QueueSize:   64,
			JSXFactory:  "React.createElement",
			JSXFragment: "React.Fragment",
			Target:      "es2017",
		},
		TypeInfo: TypeInfoConfig{
			Enabled: false,
			Timeout: 2 * time.Second,
		},
		Pipeline: PipelineConfig{
			StrictGenerations: false,
		},
		Sessions: SessionConfig{
			Max: 64,
		},
		Vendor: VendorConfig{
			FetchTimeout: 10 * time.Second,
			FetchRetries: 3,
		},
	}
}
