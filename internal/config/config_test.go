package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/context-engine/internal/config"
	"github.com/issuepilot/context-engine/internal/contextagg"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contextd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Dedup.Enabled)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Provider)
	for _, k := range contextagg.KnownSourceKinds() {
		assert.True(t, cfg.SourceFor(k).Enabled, string(k))
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  web_search:
    enabled: false
budget:
  default_max_tokens: 8000
cache:
  ttl_seconds: 120
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.SourceFor(contextagg.SourceWebSearch).Enabled)
	assert.Equal(t, 8000, cfg.Budget.DefaultMaxTokens)
	assert.Equal(t, 120, cfg.Cache.TTLSeconds)
	// Untouched sections keep defaults.
	assert.True(t, cfg.Dedup.Enabled)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("CODEINDEX_KEY", "secret-token")
	path := writeConfig(t, `
sources:
  code_index:
    enabled: true
    endpoint: http://localhost:9200
    api_key: ${CODEINDEX_KEY}
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", cfg.SourceFor(contextagg.SourceCodeIndex).APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/contextd.yaml")
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "sources: [not a map")
	_, err := config.Load(path)
	assert.Error(t, err)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown source", func(c *config.Config) {
			c.Sources["bogus"] = config.SourceConfig{Enabled: true}
		}},
		{"negative timeout", func(c *config.Config) {
			sc := c.Sources["rag"]
			sc.TimeoutMs = -1
			c.Sources["rag"] = sc
		}},
		{"zero max tokens", func(c *config.Config) {
			c.Budget.DefaultMaxTokens = 0
		}},
		{"reserved exceeds max", func(c *config.Config) {
			c.Budget.ReservedTokens = c.Budget.DefaultMaxTokens
		}},
		{"threshold out of range", func(c *config.Config) {
			c.Dedup.SimilarityThreshold = 1.5
		}},
		{"unknown cache provider", func(c *config.Config) {
			c.Cache.Provider = "redis"
		}},
		{"sqlite without path", func(c *config.Config) {
			c.Cache.Provider = "sqlite"
			c.Cache.Path = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, contextagg.ErrInvalidConfig)
		})
	}
}

func TestSourceFor_AbsentKindDisabled(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Sources, "rag")

	sc := cfg.SourceFor(contextagg.SourceRAG)
	assert.False(t, sc.Enabled)
	assert.Positive(t, sc.MaxChunks)
}

func TestEnabledSources_FiltersDisabled(t *testing.T) {
	cfg := config.Default()
	sc := cfg.Sources["web_search"]
	sc.Enabled = false
	cfg.Sources["web_search"] = sc

	out := cfg.EnabledSources([]contextagg.SourceKind{
		contextagg.SourceCodeIndex,
		contextagg.SourceWebSearch,
	})

	assert.Equal(t, []contextagg.SourceKind{contextagg.SourceCodeIndex}, out)
}

func TestSourceConfig_TimeoutDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultSourceTimeout, config.SourceConfig{}.Timeout())
	assert.Equal(t, config.DefaultCacheTTL, config.CacheConfig{}.TTL())
}
