// Package config loads console settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/lock"
	"github.com/goliatone/go-orderops/rejection"
)

// Environment overrides.
const (
	EnvBackendURL     = "ORDEROPS_BACKEND_URL"
	EnvBackendToken   = "ORDEROPS_BACKEND_TOKEN"
	EnvBackendTimeout = "ORDEROPS_BACKEND_TIMEOUT"
	EnvFailOpen       = "ORDEROPS_FAIL_OPEN"
	EnvHTTPAddr       = "ORDEROPS_HTTP_ADDR"
	EnvLogLevel       = "ORDEROPS_LOG_LEVEL"
)

type Config struct {
	Backend      BackendConfig      `yaml:"backend"`
	Permissions  PermissionsConfig  `yaml:"permissions"`
	Lock         LockConfig         `yaml:"lock"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Rejection    RejectionConfig    `yaml:"rejection"`
	HTTP         HTTPConfig         `yaml:"http"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Watch        WatchConfig        `yaml:"watch"`
}

type BackendConfig struct {
	BaseURL    string            `yaml:"base_url"`
	Token      string            `yaml:"token"`
	Timeout    time.Duration     `yaml:"timeout"`
	MaxRetries int               `yaml:"max_retries"`
	Headers    map[string]string `yaml:"headers"`
}

type PermissionsConfig struct {
	// FailOpen grants every capability to callers without a capability set.
	FailOpen bool `yaml:"fail_open"`
}

type LockConfig struct {
	KeyPolicy string `yaml:"key_policy"`
}

type OrchestratorConfig struct {
	// Timeout bounds one whole action, zero leaves only the per-call bound.
	Timeout             time.Duration `yaml:"timeout"`
	NotifyStatusChanges bool          `yaml:"notify_status_changes"`
}

type RejectionConfig struct {
	Reasons []string `yaml:"reasons"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type WatchConfig struct {
	Schedule string `yaml:"schedule"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8081",
			Timeout: 10 * time.Second,
		},
		Permissions: PermissionsConfig{FailOpen: true},
		Lock:        LockConfig{KeyPolicy: string(lock.PolicyOrderAction)},
		Rejection:   RejectionConfig{Reasons: append([]string(nil), rejection.DefaultReasons...)},
		HTTP:        HTTPConfig{Addr: ":8080"},
		Log:         LogConfig{Level: "info", Format: "console"},
		Metrics:     MetricsConfig{Enabled: true, Namespace: "orderops"},
		Watch:       WatchConfig{Schedule: "@every 30s"},
	}
}

type loaderOptions struct {
	envMap       map[string]string
	useSystemEnv bool
}

// Option configures Load.
type Option func(*loaderOptions)

// WithEnvMap injects environment values. They take precedence over the
// process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv stops Load from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load reads path (optional), applies environment overrides and validates
// the result.
func Load(path string, opts ...Option) (Config, error) {
	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.CategoryBadInput, "read config file").
				WithTextCode("CONFIG_READ_FAILED").
				WithMetadata(map[string]any{"path": path})
		}
		data = raw
	}
	return Parse(data, opts...)
}

// Parse is Load without the file read.
func Parse(data []byte, opts ...Option) (Config, error) {
	options := loaderOptions{useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, errors.CategoryBadInput, "parse config").
				WithTextCode("CONFIG_PARSE_FAILED")
		}
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if v, ok := options.envMap[key]; ok {
				return v, true
			}
		}
		if options.useSystemEnv {
			return os.LookupEnv(key)
		}
		return "", false
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackendURL); ok {
		c.Backend.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBackendToken); ok {
		c.Backend.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBackendTimeout); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return envError(EnvBackendTimeout, err)
		}
		c.Backend.Timeout = d
	}
	if v, ok := lookup(EnvFailOpen); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return envError(EnvFailOpen, err)
		}
		c.Permissions.FailOpen = b
	}
	if v, ok := lookup(EnvHTTPAddr); ok {
		c.HTTP.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

func envError(key string, err error) error {
	return errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("invalid value for %s", key)).
		WithTextCode("CONFIG_ENV_INVALID").
		WithMetadata(map[string]any{"env": key})
}

// Validate checks the values that would otherwise fail at first use.
func (c Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return orderops.ValidationError("backend.base_url must be an absolute URL", "backend.base_url")
	}
	if c.Backend.Timeout <= 0 {
		return orderops.ValidationError("backend.timeout must be positive", "backend.timeout")
	}
	if c.Backend.MaxRetries < 0 {
		return orderops.ValidationError("backend.max_retries must not be negative", "backend.max_retries")
	}
	if c.Orchestrator.Timeout < 0 {
		return orderops.ValidationError("orchestrator.timeout must not be negative", "orchestrator.timeout")
	}
	if _, err := lock.ParseKeyPolicy(c.Lock.KeyPolicy); err != nil {
		return orderops.ValidationError("lock.key_policy must be order_action or order_action_payload", "lock.key_policy")
	}
	if len(rejection.NewCatalog(c.Rejection.Reasons...).Reasons()) == 0 {
		return orderops.ValidationError("rejection.reasons must name at least one reason", "rejection.reasons")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return orderops.ValidationError("log.format must be console or json", "log.format")
	}
	return nil
}

// KeyPolicy returns the parsed lock key policy.
func (c Config) KeyPolicy() lock.KeyPolicy {
	p, err := lock.ParseKeyPolicy(c.Lock.KeyPolicy)
	if err != nil {
		return lock.PolicyOrderAction
	}
	return p
}
