package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence (spec §6).
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that loads defaults, then files,
// then environment variables, so env overrides win.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{envPrefix: envPrefix, files: files}
}

// Load assembles the effective snapshot. File format is chosen by
// extension (.yaml/.yml, .json, .toml); the lambda route table is whatever
// the "lambdas" key holds in that file, loaded straight into Config.Lambdas
// with no separate bundle-building pass.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.cache.ttlseconds": "server.cache.ttlSeconds",
			"server.cache.ttrseconds": "server.cache.ttrSeconds",
			"server.cache.timeoutms":  "server.cache.timeoutMs",
			"server.cache.keysalt":    "server.cache.keySalt",
			"server.cache.redisurl":   "server.cache.redisUrl",
			"server.cache.redis.tls.cafile": "server.cache.redis.tls.caFile",
			"server.loggroup":         "server.logGroup",
			"server.cacheprefix":      "server.cachePrefix",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension for %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap
// provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"logGroup":    cfg.Server.LogGroup,
			"cachePrefix": cfg.Server.CachePrefix,
			"cache": map[string]any{
				"backend":    cfg.Server.Cache.Backend,
				"ttlSeconds": cfg.Server.Cache.TTLSeconds,
				"ttrSeconds": cfg.Server.Cache.TTRSeconds,
				"timeoutMs":  cfg.Server.Cache.TimeoutMS,
				"keySalt":    cfg.Server.Cache.KeySalt,
				"redisUrl":   cfg.Server.Cache.RedisURL,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"metrics": map[string]any{
				"enabled": cfg.Server.Metrics.Enabled,
				"path":    cfg.Server.Metrics.Path,
			},
			"debug": map[string]any{
				"explain": cfg.Server.Debug.Explain,
			},
			"cors": map[string]any{
				"allowedOrigins": cfg.Server.CORS.AllowedOrigins,
				"allowedMethods": cfg.Server.CORS.AllowedMethods,
			},
			"invoker": map[string]any{
				"endpoint":  cfg.Server.Invoker.Endpoint,
				"timeoutMs": cfg.Server.Invoker.TimeoutMS,
			},
			"logSink": map[string]any{
				"endpoint":        cfg.Server.LogSink.Endpoint,
				"flushIntervalMs": cfg.Server.LogSink.FlushIntervalMS,
				"maxBatch":        cfg.Server.LogSink.MaxBatch,
			},
			"environment": cfg.Server.Environment,
		},
	}
}
