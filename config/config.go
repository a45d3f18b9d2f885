// Package config loads a discovery Thread's settings from YAML.
//
//	service_type: service:lighting
//	log_level: info
//	backend:
//	  kind: etcd              # memory | etcd
//	  endpoints: [127.0.0.1:2379]
//	  dial_timeout: 5s
//	  prefix: /mini-discovery/
//	middleware:
//	  recover: true
//	  logging: true
//	  op_timeout: 3s
//	  rate_limit:
//	    rate: 50
//	    burst: 10
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mini-discovery/discovery"
	"mini-discovery/middleware"
	"mini-discovery/reactor"
	"mini-discovery/registry"
)

const (
	BackendMemory = "memory"
	BackendEtcd   = "etcd"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	ServiceType string           `yaml:"service_type"`
	LogLevel    string           `yaml:"log_level"`
	Backend     BackendConfig    `yaml:"backend"`
	Middleware  MiddlewareConfig `yaml:"middleware"`
}

type BackendConfig struct {
	Kind        string        `yaml:"kind"`
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Prefix      string        `yaml:"prefix"`
}

type MiddlewareConfig struct {
	Recover   bool            `yaml:"recover"`
	Logging   bool            `yaml:"logging"`
	OpTimeout time.Duration   `yaml:"op_timeout"` // 0 disables
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket; Rate 0 disables it.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

func DefaultConfig() *Config {
	return &Config{
		ServiceType: discovery.DefaultServiceType,
		LogLevel:    "info",
		Backend: BackendConfig{
			Kind:        BackendMemory,
			DialTimeout: 5 * time.Second,
			Prefix:      registry.DefaultEtcdPrefix,
		},
		Middleware: MiddlewareConfig{
			Recover: true,
			Logging: true,
		},
	}
}

// LoadConfig reads path over DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := registry.ValidateServiceType(c.ServiceType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendEtcd:
		if len(c.Backend.Endpoints) == 0 {
			return fmt.Errorf("%w: backend.endpoints required for etcd", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: backend.kind %q", ErrInvalid, c.Backend.Kind)
	}
	if c.Backend.DialTimeout < 0 || c.Middleware.OpTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	if rl := c.Middleware.RateLimit; rl.Rate < 0 || (rl.Rate > 0 && rl.Burst < 1) {
		return fmt.Errorf("%w: rate_limit needs rate >= 0 and burst >= 1", ErrInvalid)
	}
	return nil
}

// Logger builds a production zap logger at LogLevel.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}

// Opener returns the backend named by Backend.Kind.
func (c *Config) Opener(log *zap.Logger) (registry.Opener, error) {
	switch c.Backend.Kind {
	case BackendMemory:
		return registry.NewMemoryDirectory(), nil
	case BackendEtcd:
		return registry.EtcdOpener(registry.EtcdConfig{
			Endpoints:   c.Backend.Endpoints,
			DialTimeout: c.Backend.DialTimeout,
			Prefix:      c.Backend.Prefix,
			Logger:      log.Named("etcd"),
		}), nil
	default:
		return nil, fmt.Errorf("%w: backend.kind %q", ErrInvalid, c.Backend.Kind)
	}
}

// Middlewares returns the backend-call chain, outermost first:
// Recover → Logging → RateLimit → Timeout.
func (c *Config) Middlewares(log *zap.Logger) []middleware.Middleware {
	var mws []middleware.Middleware
	if c.Middleware.Recover {
		mws = append(mws, middleware.RecoverMiddleware())
	}
	if c.Middleware.Logging {
		mws = append(mws, middleware.LoggingMiddleware(log))
	}
	if rl := c.Middleware.RateLimit; rl.Rate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(rl.Rate, rl.Burst))
	}
	if c.Middleware.OpTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(c.Middleware.OpTimeout))
	}
	return mws
}

// NewThread builds a discovery Thread on r from the config. Init and Start are
// left to the caller.
func (c *Config) NewThread(r reactor.Reactor, log *zap.Logger) (*discovery.Thread, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opener, err := c.Opener(log)
	if err != nil {
		return nil, err
	}
	return discovery.New(r, opener,
		discovery.WithServiceType(c.ServiceType),
		discovery.WithLogger(log),
		discovery.WithMiddleware(c.Middlewares(log)...),
	)
}
