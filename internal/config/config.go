// Aggregator configuration: loaded once at startup, read-only thereafter.
//
// DESIGN: Config is an immutable snapshot. The engine holds it behind an
// atomic pointer; Reconfigure swaps the whole struct so in-flight requests
// keep the snapshot they started with and never observe a half-updated
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

// SourceConfig configures one retrieval backend adapter.
type SourceConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	MaxChunks     int    `yaml:"max_chunks"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

// Timeout returns the configured per-source timeout.
func (s SourceConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultSourceTimeout
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// BudgetConfig holds token budget defaults.
type BudgetConfig struct {
	DefaultMaxTokens int `yaml:"default_max_tokens"`
	ReservedTokens   int `yaml:"reserved_tokens"`
	MinChunkTokens   int `yaml:"min_chunk_tokens"`
	MaxChunkTokens   int `yaml:"max_chunk_tokens"`
}

// DedupConfig controls the deduplication passes.
type DedupConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	UseSemantic         bool    `yaml:"use_semantic"`
	UseContentHash      bool    `yaml:"use_content_hash"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	MaxEntries int    `yaml:"max_entries"`
	Provider   string `yaml:"provider"` // "memory" or "sqlite"
	Path       string `yaml:"path"`     // sqlite database path
}

// TTL returns the configured cache TTL.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// OptimizationConfig holds assembly tuning flags.
type OptimizationConfig struct {
	CompressLargeChunks bool `yaml:"compress_large_chunks"`
	SmartTruncation     bool `yaml:"smart_truncation"`
	PreserveStructure   bool `yaml:"preserve_structure"`
	ExactTokenCounts    bool `yaml:"exact_token_counts"`
}

// ServerConfig holds the contextd HTTP surface settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the process-wide aggregator configuration.
type Config struct {
	Sources      map[string]SourceConfig `yaml:"sources"`
	Budget       BudgetConfig            `yaml:"budget"`
	Dedup        DedupConfig             `yaml:"dedup"`
	Cache        CacheConfig             `yaml:"cache"`
	Optimization OptimizationConfig      `yaml:"optimization"`
	Server       ServerConfig            `yaml:"server"`
	Debug        bool                    `yaml:"debug"`
}

// Default returns a config with every backend enabled and all defaults set.
func Default() *Config {
	sources := make(map[string]SourceConfig, len(contextagg.KnownSourceKinds()))
	for _, k := range contextagg.KnownSourceKinds() {
		sources[string(k)] = SourceConfig{
			Enabled:       true,
			TimeoutMs:     int(DefaultSourceTimeout / time.Millisecond),
			MaxChunks:     DefaultMaxChunksPerSource,
			RetryAttempts: DefaultRetryAttempts,
		}
	}
	return &Config{
		Sources: sources,
		Budget: BudgetConfig{
			DefaultMaxTokens: DefaultMaxTokens,
			ReservedTokens:   DefaultReservedTokens,
			MinChunkTokens:   DefaultMinChunkTokens,
			MaxChunkTokens:   DefaultMaxChunkTokens,
		},
		Dedup: DedupConfig{
			Enabled:             true,
			SimilarityThreshold: DefaultSimilarityThreshold,
			UseSemantic:         true,
			UseContentHash:      true,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: int(DefaultCacheTTL / time.Second),
			MaxEntries: DefaultCacheMaxEntries,
			Provider:   DefaultCacheProvider,
		},
		Optimization: OptimizationConfig{
			CompressLargeChunks: true,
			SmartTruncation:     true,
			PreserveStructure:   true,
		},
		Server: ServerConfig{
			Port:         DefaultServerPort,
			ReadTimeout:  DefaultServerReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
	}
}

// Load reads a YAML config file, expands ${ENV_VAR} references, overlays it
// on defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. Violations are ConfigurationErrors and
// fatal: no request is served against an invalid config.
func (c *Config) Validate() error {
	for name, sc := range c.Sources {
		if contextagg.SourceKindFromString(name) == contextagg.SourceUnknown {
			return fmt.Errorf("%w: unknown source %q", contextagg.ErrInvalidConfig, name)
		}
		if sc.TimeoutMs < 0 {
			return fmt.Errorf("%w: source %q timeout_ms must not be negative", contextagg.ErrInvalidConfig, name)
		}
		if sc.MaxChunks < 0 {
			return fmt.Errorf("%w: source %q max_chunks must not be negative", contextagg.ErrInvalidConfig, name)
		}
		if sc.RetryAttempts < 0 {
			return fmt.Errorf("%w: source %q retry_attempts must not be negative", contextagg.ErrInvalidConfig, name)
		}
	}
	if c.Budget.DefaultMaxTokens <= 0 {
		return fmt.Errorf("%w: budget default_max_tokens must be positive", contextagg.ErrInvalidConfig)
	}
	if c.Budget.ReservedTokens < 0 || c.Budget.ReservedTokens >= c.Budget.DefaultMaxTokens {
		return fmt.Errorf("%w: budget reserved_tokens must be in [0, default_max_tokens)", contextagg.ErrInvalidConfig)
	}
	if t := c.Dedup.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: dedup similarity_threshold must be in [0,1]", contextagg.ErrInvalidConfig)
	}
	switch c.Cache.Provider {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown cache provider %q", contextagg.ErrInvalidConfig, c.Cache.Provider)
	}
	if c.Cache.Provider == "sqlite" && c.Cache.Path == "" {
		return fmt.Errorf("%w: sqlite cache provider requires cache.path", contextagg.ErrInvalidConfig)
	}
	return nil
}

// SourceFor returns the config block for a source kind, with defaults when
// the block is absent.
func (c *Config) SourceFor(kind contextagg.SourceKind) SourceConfig {
	if sc, ok := c.Sources[string(kind)]; ok {
		return sc
	}
	return SourceConfig{
		Enabled:       false,
		TimeoutMs:     int(DefaultSourceTimeout / time.Millisecond),
		MaxChunks:     DefaultMaxChunksPerSource,
		RetryAttempts: DefaultRetryAttempts,
	}
}

// EnabledSources filters requested kinds down to those enabled in config.
func (c *Config) EnabledSources(requested []contextagg.SourceKind) []contextagg.SourceKind {
	out := make([]contextagg.SourceKind, 0, len(requested))
	for _, k := range requested {
		if c.SourceFor(k).Enabled {
			out = append(out, k)
		}
	}
	return out
}
