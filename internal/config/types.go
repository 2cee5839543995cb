package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fnrelay/lambdagate/internal/runtime/configexpr"
)

// Config is the fully loaded, validated gateway configuration (spec §6).
type Config struct {
	Server ServerConfig `koanf:"server"`
	// Lambdas is the raw route table as loaded from configuration, keyed by
	// URL pattern. Compiled into a router.Table by the caller once an
	// configexpr.Environment is available.
	Lambdas map[string]RawLambdaSpec `koanf:"lambdas" validate:"required,dive"`
}

// ServerConfig groups the gateway's own process-level settings.
type ServerConfig struct {
	Listen      ListenConfig      `koanf:"listen"`
	Logging     LoggingConfig     `koanf:"logging"`
	Cache       CacheConfig       `koanf:"cache"`
	LogGroup    string            `koanf:"logGroup" validate:"required"`
	CachePrefix string            `koanf:"cachePrefix"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Debug       DebugConfig       `koanf:"debug"`
	CORS        CORSConfig        `koanf:"cors"`
	Invoker     InvokerConfig     `koanf:"invoker"`
	LogSink     LogSinkConfig     `koanf:"logSink"`
	Environment string            `koanf:"environment"`
}

// InvokerConfig points the HTTPInvoker at the function-invocation facade
// spec.md's Invoker collaborator treats as opaque (spec §1/§6).
type InvokerConfig struct {
	Endpoint       string `koanf:"endpoint"`
	TimeoutMS      int    `koanf:"timeoutMs"`
}

// Timeout returns the configured invoker HTTP client timeout, defaulting to
// 10s.
func (c InvokerConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LogSinkConfig configures the optional buffered remote LogSink (spec §5/§7).
// Endpoint left blank disables remote shipping; logs still flow through the
// local structured logger.
type LogSinkConfig struct {
	Endpoint          string `koanf:"endpoint"`
	FlushIntervalMS   int    `koanf:"flushIntervalMs"`
	MaxBatch          int    `koanf:"maxBatch"`
}

// FlushInterval returns the configured debounce flush interval, defaulting
// to 2s.
func (c LogSinkConfig) FlushInterval() time.Duration {
	if c.FlushIntervalMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// ListenConfig describes the HTTP listener address.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port" validate:"min=0,max=65535"`
}

// LoggingConfig configures the local structured logger.
type LoggingConfig struct {
	Level             string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format            string `koanf:"format" validate:"omitempty,oneof=json text"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// DebugConfig gates the /explain diagnostic endpoint (SPEC_FULL.md §4).
type DebugConfig struct {
	Explain bool `koanf:"explain"`
}

// CORSConfig configures the go-chi/cors middleware layered ahead of
// per-lambda response header overrides.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowedOrigins"`
	AllowedMethods []string `koanf:"allowedMethods"`
}

// CacheConfig mirrors spec §6's cache tuning knobs, passed through to the
// CacheStore collaborator.
type CacheConfig struct {
	RedisURL    string        `koanf:"redisUrl"`
	Backend     string        `koanf:"backend" validate:"omitempty,oneof=memory redis"`
	TTLSeconds  int           `koanf:"ttlSeconds"`
	TTRSeconds  int           `koanf:"ttrSeconds"`
	TimeoutMS   int           `koanf:"timeoutMs"`
	KeySalt     string        `koanf:"keySalt"`
	Redis       RedisConfig   `koanf:"redis"`
}

// TTL returns the configured entry lifetime, defaulting to 30 days per
// spec §6.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// TTR returns the configured time-to-refresh, defaulting to 7200s.
func (c CacheConfig) TTR() time.Duration {
	if c.TTRSeconds <= 0 {
		return 7200 * time.Second
	}
	return time.Duration(c.TTRSeconds) * time.Second
}

// Timeout returns the configured per-operation timeout, defaulting to 1000ms.
func (c CacheConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 1000 * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RedisConfig describes the optional Redis/Valkey backend.
type RedisConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      RedisTLSConfig  `koanf:"tls"`
}

// RedisTLSConfig configures TLS for the Redis/Valkey client.
type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// RawDefaults mirrors LambdaSpec.defaults (spec §3) before CEL compilation;
// none of these sub-fields are dynamic.
type RawDefaults struct {
	RequestParams   map[string]any    `koanf:"requestParams"`
	ResponseHeaders map[string]string `koanf:"responseHeaders"`
	ResponseBase64  *bool             `koanf:"responseBase64"`
}

// RawCacheSpec mirrors LambdaSpec.cache (spec §3). Enabled and Key accept
// either a literal (bool / string) or a dynamic form `{expr: "<CEL>"}`
// evaluated against the request context (spec §9's configuration
// polymorphism, modeled as Static(T) | Dynamic(CEL-expression)).
type RawCacheSpec struct {
	Enabled any `koanf:"enabled"`
	Key     any `koanf:"key"`
}

// RawLambdaSpec is the as-loaded form of a route table entry, keyed by URL
// pattern in Config.Lambdas. Compile turns it into a router.LambdaSpec.
type RawLambdaSpec struct {
	Name       string       `koanf:"name" validate:"required"`
	Version    string       `koanf:"version"`
	ParamsOnly bool         `koanf:"paramsOnly"`
	Defaults   RawDefaults  `koanf:"defaults"`
	Cache      *RawCacheSpec `koanf:"cache"`
	Auth       any          `koanf:"auth"`
}

// EffectiveVersion returns the qualifier passed to the invoker, defaulting
// to "$LATEST" per spec §3.
func (r RawLambdaSpec) EffectiveVersion() string {
	if strings.TrimSpace(r.Version) == "" {
		return "$LATEST"
	}
	return r.Version
}

// DefaultConfig returns the baseline configuration applied before file and
// environment overrides (spec §6's defaults).
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{Address: "0.0.0.0", Port: 8080},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend:    "memory",
				TTLSeconds: int((30 * 24 * time.Hour).Seconds()),
				TTRSeconds: 7200,
				TimeoutMS:  1000,
			},
			Metrics:     MetricsConfig{Enabled: true, Path: "/metrics"},
			CORS:        CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}},
			Invoker:     InvokerConfig{TimeoutMS: 10000},
			Environment: "production",
		},
		Lambdas: map[string]RawLambdaSpec{},
	}
}

var validate = validator.New()

// Validate runs struct-tag validation plus the hand-written invariants spec
// §6's "Exit codes / startup errors" names explicitly.
func (c Config) Validate() error {
	if len(c.Lambdas) == 0 {
		return fmt.Errorf("config: no lambdas provided")
	}
	if strings.TrimSpace(c.Server.LogGroup) == "" {
		return fmt.Errorf("config: no logGroup provided")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CompileCache converts a RawCacheSpec into configexpr Fields.
func CompileCache(env *configexpr.Environment, raw *RawCacheSpec) (enabled, key configexpr.Field, err error) {
	if raw == nil {
		return configexpr.Field{}, configexpr.Field{}, nil
	}
	enabled, err = compileField(env, raw.Enabled)
	if err != nil {
		return configexpr.Field{}, configexpr.Field{}, fmt.Errorf("cache.enabled: %w", err)
	}
	key, err = compileField(env, raw.Key)
	if err != nil {
		return configexpr.Field{}, configexpr.Field{}, fmt.Errorf("cache.key: %w", err)
	}
	return enabled, key, nil
}

// compileField implements the Static(T) | Dynamic(CEL) discrimination: a
// nested `{expr: "..."}` map is dynamic, everything else is a literal.
func compileField(env *configexpr.Environment, raw any) (configexpr.Field, error) {
	if raw == nil {
		return configexpr.Field{}, nil
	}
	if m, ok := raw.(map[string]any); ok {
		exprVal, hasExpr := m["expr"]
		if hasExpr {
			exprStr, ok := exprVal.(string)
			if !ok {
				return configexpr.Field{}, fmt.Errorf("expr must be a string")
			}
			return env.DynamicField(exprStr)
		}
	}
	return configexpr.StaticField(raw), nil
}
