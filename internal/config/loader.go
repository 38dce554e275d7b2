package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// Load loads the subsystem configuration from recall.yaml in dir.
func Load(dir string) (*Config, error) {
	configFile := filepath.Join(dir, "recall.yaml")

	content, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if no file exists
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content = []byte(interpolateEnv(string(content)))

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// interpolateEnv replaces ${env.VAR} and ${VAR} with environment values
func interpolateEnv(content string) string {
	// Match ${env.VAR} pattern
	envPattern := regexp.MustCompile(`\$\{env\.([^}]+)\}`)
	content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // keep original if not found
	})

	// Match ${VAR} pattern
	varPattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	content = varPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := varPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return content
}

func defaultConfig() *Config {
	return &Config{
		Name:    "recall",
		Version: "1.0",
		Store: StoreConfig{
			Driver:       "sqlite",
			Path:         ".recall/memory.db",
			OpTimeout:    "5s",
			BusyTimeout:  "5s",
			MaxOpenConns: 4,
		},
		Cache: CacheConfig{
			MaxCost:     10000,
			NumCounters: 100000,
			SlidingTTL:  "15m",
			AbsoluteTTL: "1h",
			TailSize:    50,
		},
		Embedding: EmbeddingConfig{
			Dimension: 384,
			Scope:     "session",
		},
		Audit: AuditConfig{
			BufferCapacity: 1000,
			FlushInterval:  "5s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.OpTimeout == "" {
		cfg.Store.OpTimeout = def.Store.OpTimeout
	}
	if cfg.Store.BusyTimeout == "" {
		cfg.Store.BusyTimeout = def.Store.BusyTimeout
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = def.Store.MaxOpenConns
	}
	if cfg.Cache.MaxCost == 0 {
		cfg.Cache.MaxCost = def.Cache.MaxCost
	}
	if cfg.Cache.NumCounters == 0 {
		cfg.Cache.NumCounters = def.Cache.NumCounters
	}
	if cfg.Cache.SlidingTTL == "" {
		cfg.Cache.SlidingTTL = def.Cache.SlidingTTL
	}
	if cfg.Cache.AbsoluteTTL == "" {
		cfg.Cache.AbsoluteTTL = def.Cache.AbsoluteTTL
	}
	if cfg.Cache.TailSize == 0 {
		cfg.Cache.TailSize = def.Cache.TailSize
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.Scope == "" {
		cfg.Embedding.Scope = def.Embedding.Scope
	}
	if cfg.Audit.BufferCapacity == 0 {
		cfg.Audit.BufferCapacity = def.Audit.BufferCapacity
	}
	if cfg.Audit.FlushInterval == "" {
		cfg.Audit.FlushInterval = def.Audit.FlushInterval
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

func validate(cfg *Config) error {
	if cfg.Store.Driver != "sqlite" {
		return recallerrors.New(recallerrors.CodeConfigInvalid,
			fmt.Sprintf("unsupported store driver: %s", cfg.Store.Driver)).
			WithSuggestion("Set store.driver to sqlite")
	}
	if cfg.Embedding.Dimension < 1 {
		return recallerrors.New(recallerrors.CodeConfigInvalid,
			"embedding dimension must be positive").
			WithSuggestion("Set embedding.dimension in recall.yaml")
	}
	if cfg.Embedding.Scope != "session" && cfg.Embedding.Scope != "user" {
		return recallerrors.New(recallerrors.CodeConfigInvalid,
			fmt.Sprintf("unknown recall scope: %s", cfg.Embedding.Scope)).
			WithSuggestion("Set embedding.scope to session or user")
	}
	if cfg.Cache.AbsoluteTTLDuration() < cfg.Cache.SlidingTTLDuration() {
		return recallerrors.New(recallerrors.CodeConfigInvalid,
			"cache absolute_ttl must not be shorter than sliding_ttl")
	}
	return nil
}
