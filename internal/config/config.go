// Package config loads the engine configuration from YAML with
// LODESTONE_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the storage engine.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config is the complete engine configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	LogLevel   string           `yaml:"log_level"`
	LogFile    string           `yaml:"log_file"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend Backend `yaml:"backend"`

	// SQLitePath is the database file; empty means in-memory.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SearchConfig tunes ranking and fusion.
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter (k). Default: 60.
	RRFConstant int `yaml:"rrf_constant"`

	// CandidateK is the minimum vector candidate pool. Default: 50.
	CandidateK int `yaml:"candidate_k"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint), "static",
	// or "none" to disable semantic search.
	Provider string `yaml:"provider"`

	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"`
}

// Default returns the configuration used when no file is given: an
// in-memory SQLite store with semantic search disabled.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
		},
		Search: SearchConfig{
			RRFConstant: 60,
			CandidateK:  50,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "none",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file, fills defaults, and applies
// environment overrides. An empty path loads defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides applies LODESTONE_* environment variables. Env
// wins over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LODESTONE_BACKEND"); v != "" {
		c.Store.Backend = Backend(v)
	}
	if v := os.Getenv("LODESTONE_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("LODESTONE_POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("LODESTONE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("LODESTONE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("LODESTONE_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("LODESTONE_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("LODESTONE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("LODESTONE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects configurations that cannot be wired.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires a DSN")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Embeddings.Provider {
	case "", "none", "static":
	case "openai":
		if c.Embeddings.BaseURL == "" {
			return fmt.Errorf("openai embeddings provider requires a base URL")
		}
		if c.Embeddings.Model == "" {
			return fmt.Errorf("openai embeddings provider requires a model")
		}
		if c.Embeddings.Dimensions <= 0 {
			return fmt.Errorf("openai embeddings provider requires the model's dimensions")
		}
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	return nil
}
