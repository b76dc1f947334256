package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retrace tool.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Refiner   RefinerConfig   `yaml:"refiner"`
	Search    SearchConfig    `yaml:"search"`
	Retention RetentionConfig `yaml:"retention"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig holds the data directory layout.
type PathsConfig struct {
	// SourceDir is where the external capture pipeline drops OCR text files.
	SourceDir string `yaml:"source_dir"`
	// IndexDir holds the persisted vector index, identifier map and catalog.
	IndexDir string `yaml:"index_dir"`
}

// IndexConfig holds indexing-cycle configuration.
type IndexConfig struct {
	Extension       string   `yaml:"extension"`
	Includes        []string `yaml:"includes"`
	Excludes        []string `yaml:"excludes"`
	BatchSize       int      `yaml:"batch_size"`
	MaxDocsPerCycle int      `yaml:"max_docs_per_cycle"` // 0 = unlimited
	TimeBudget      Duration `yaml:"time_budget"`        // 0 = unlimited
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "ollama", "mock"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

// KeywordConfig holds the external keyword backend invocation.
type KeywordConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout Duration `yaml:"timeout"`
}

// RefinerConfig holds the optional LLM query refiner.
type RefinerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Model     string   `yaml:"model"`
	APIKeyEnv string   `yaml:"api_key_env"`
	BaseURL   string   `yaml:"base_url"`
	Timeout   Duration `yaml:"timeout"`
}

// SearchConfig holds hybrid search defaults.
type SearchConfig struct {
	TopK    int      `yaml:"top_k"`
	Timeout Duration `yaml:"timeout"`
}

// RetentionConfig holds data-retention cleanup settings.
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// APIConfig holds the HTTP search API settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration with YAML string parsing ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			SourceDir: "data/ocr_text",
			IndexDir:  "data/db",
		},
		Index: IndexConfig{
			Extension:       ".txt",
			Includes:        []string{"*.txt"},
			Excludes:        []string{".*", "*.tmp"},
			BatchSize:       32,
			MaxDocsPerCycle: 0,
			TimeBudget:      0,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			APIKeyEnv: "OPENAI_API_KEY",
			BaseURL:   "",
			Dimension: 768,
		},
		Keyword: KeywordConfig{
			Enabled: true,
			Command: "recoll",
			Args:    []string{"-t", "-q"},
			Timeout: Duration(10 * time.Second),
		},
		Refiner: RefinerConfig{
			Enabled:   false,
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			BaseURL:   "https://api.openai.com/v1",
			Timeout:   Duration(15 * time.Second),
		},
		Search: SearchConfig{
			TopK:    5,
			Timeout: Duration(30 * time.Second),
		},
		Retention: RetentionConfig{
			Days: 90,
		},
		API: APIConfig{
			Addr: "127.0.0.1:5000",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for retrace.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "retrace.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".retrace", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// VectorIndexPath returns the path to the persisted vector index.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.Paths.IndexDir, "vectors.bin")
}

// IdentifierMapPath returns the path to the persisted identifier map.
func (c *Config) IdentifierMapPath() string {
	return filepath.Join(c.Paths.IndexDir, "idmap.json")
}

// CatalogPath returns the path to the state catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.IndexDir, "catalog.db")
}

// LockPath returns the path to the cycle lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.IndexDir, "cycle.lock")
}

// EnsureIndexDir ensures the index directory exists.
func (c *Config) EnsureIndexDir() error {
	return os.MkdirAll(c.Paths.IndexDir, 0755)
}
