// Package config defines the gateway configuration. Configuration is
// loaded once at process start and is read-only afterwards; request
// handling never mutates it.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/zeventbooks/eventgate/internal/util"
)

// Defaults applied by Validate.
const (
	DefaultPort            = 8080
	DefaultBackendTimeout  = 12 * time.Second
	DefaultBreakerTrips    = 5
	DefaultBreakerCooldown = 30 * time.Second
	DefaultGatewayID       = "eventgate"
)

// Config is the root gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Auth          AuthConfig          `yaml:"auth"`
	Brands        BrandsConfig        `yaml:"brands"`
	Deployment    DeploymentConfig    `yaml:"deployment"`
	Observability ObservabilityConfig `yaml:"observability"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`

	// GatewayID is reported in the X-Proxied-By header.
	GatewayID string `yaml:"gatewayId"`

	// Version is reported in the X-Worker-Version header.
	Version string `yaml:"version"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	IdleTimeout  Duration `yaml:"idleTimeout"`
}

// BackendConfig holds the upstream connection settings.
type BackendConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout Duration      `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for outbound calls.
type BreakerConfig struct {
	Threshold uint32   `yaml:"threshold"`
	Cooldown  Duration `yaml:"cooldown"`
}

// AuthConfig holds the admin credential.
type AuthConfig struct {
	AdminToken string `yaml:"adminToken"`
}

// BrandsConfig holds the tenant allow-list and per-brand alias tables.
type BrandsConfig struct {
	Allowed []string `yaml:"allowed"`

	// Aliases maps brand -> alias -> canonical page.
	Aliases map[string]map[string]string `yaml:"aliases"`
}

// DeploymentConfig identifies this build for fingerprint cross-checks.
type DeploymentConfig struct {
	DeploymentID string `yaml:"deploymentId"`
	ScriptID     string `yaml:"scriptId"`
	BuiltAt      string `yaml:"builtAt"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds OTLP tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// RateLimitConfig holds inbound rate limiting settings.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	RPS       int  `yaml:"rps"`
	Burst     int  `yaml:"burst"`
	PerClient bool `yaml:"perClient"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return util.NewConfigError("backend.baseUrl", "backend base URL is required")
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return util.NewConfigError("backend.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return util.NewConfigError("server.port", fmt.Sprintf("port %d out of range", c.Server.Port))
	}

	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = Duration(DefaultBackendTimeout)
	}
	if c.Backend.Breaker.Threshold == 0 {
		c.Backend.Breaker.Threshold = DefaultBreakerTrips
	}
	if c.Backend.Breaker.Cooldown <= 0 {
		c.Backend.Breaker.Cooldown = Duration(DefaultBreakerCooldown)
	}

	if c.GatewayID == "" {
		c.GatewayID = DefaultGatewayID
	}
	if c.Version == "" {
		c.Version = "0.0.0-dev"
	}

	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "json"
	}

	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		return util.NewConfigError("observability.tracing.samplingRate",
			fmt.Sprintf("sampling rate %v must be within [0,1]", rate))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return util.NewConfigError("rateLimit.rps", "rps must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = c.RateLimit.RPS
		}
	}

	for b, table := range c.Brands.Aliases {
		if b == "" {
			return util.NewConfigError("brands.aliases", "empty brand key")
		}
		for alias, canonical := range table {
			if alias == "" || canonical == "" {
				return util.NewConfigError("brands.aliases."+b, "alias and canonical page must be non-empty")
			}
		}
	}

	return nil
}
