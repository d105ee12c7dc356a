// Package config provides configuration loading and structs for the compliagent server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Buckets   BucketsConfig   `yaml:"buckets"`
	Ingest    IngestConfig    `yaml:"ingest"`
	OCR       OCRConfig       `yaml:"ocr"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Retry     RetryConfig     `yaml:"retry"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// BucketsConfig holds the directories backing the raw and processed buckets.
type BucketsConfig struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
}

// IngestConfig controls which objects start the pipeline.
type IngestConfig struct {
	Suffixes       []string `yaml:"suffixes"`
	PolicyPrefixes []string `yaml:"policy_prefixes"`
	Watch          *bool    `yaml:"watch"`
}

// WatchOrDefault returns whether the raw bucket is watched; defaults to true when unset.
func (c *IngestConfig) WatchOrDefault() bool {
	if c.Watch != nil {
		return *c.Watch
	}
	return true
}

// OCRConfig selects the text extraction engine.
type OCRConfig struct {
	Provider     string        `yaml:"provider"`
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	Region            string  `yaml:"region"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	CacheSize         int     `yaml:"cache_size"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LLMConfig holds reasoning and drafting service settings.
type LLMConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Region            string  `yaml:"region"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	DraftTemperature  float64 `yaml:"draft_temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChunkingConfig sizes the chunks sent to the embedding service.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	OverlapWords int `yaml:"overlap_words"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	DefaultSize    int     `yaml:"default_size"`
	MaxSize        int     `yaml:"max_size"`
	MinVectorScore float64 `yaml:"min_vector_score"`
	MinHybridScore float64 `yaml:"min_hybrid_score"`
	VectorWeight   float64 `yaml:"vector_weight"`
	TextWeight     float64 `yaml:"text_weight"`
	TextScoreScale float64 `yaml:"text_score_scale"`
	Fuzziness      int     `yaml:"fuzziness"`
	TopKCandidates int     `yaml:"top_k_candidates"`
}

// RetryConfig bounds retries of external calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// WorkflowConfig bounds workflow executions.
type WorkflowConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	DraftBatch   int           `yaml:"draft_batch"`
	ContextLimit int           `yaml:"context_limit"`
}

// AnalysisConfig holds the optional gap-analysis schedule.
type AnalysisConfig struct {
	Schedule ScheduleConfig `yaml:"schedule"`
}

// ScheduleConfig starts gap analysis for each query every Interval. Zero disables it.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Queries  []string      `yaml:"queries"`
}

// MonitorConfig controls discovery of new regulatory PDFs from listing pages.
type MonitorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Sources   []string      `yaml:"sources"`
	Interval  time.Duration `yaml:"interval"`
	Prefix    string        `yaml:"prefix"`
	UserAgent string        `yaml:"user_agent"`
}

// Load reads and parses the config file at path, applies defaults and environment overrides,
// and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Buckets.RawDir = expandPath(cfg.Buckets.RawDir, configDir)
	cfg.Buckets.ProcessedDir = expandPath(cfg.Buckets.ProcessedDir, configDir)

	return &cfg, nil
}

// ApplyEnv overrides secrets and endpoints from COMPLIAGENT_* environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("COMPLIAGENT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("COMPLIAGENT_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("COMPLIAGENT_AWS_REGION"); v != "" {
		cfg.LLM.Region = v
		cfg.Embedding.Region = v
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
