// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such
// as "5m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full service configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	SQLitePath     string `yaml:"sqlite_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	NATSURL string `yaml:"nats_url"`

	OpenAI OpenAIConfig `yaml:"openai"`

	Ingest    IngestConfig    `yaml:"ingest"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// OpenAIConfig configures the extraction completion client. An empty
// API key disables model extraction and runs heuristics only.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers     int      `yaml:"workers"`
	QueueSize   int      `yaml:"queue_size"`
	DedupeTTL   Duration `yaml:"dedupe_ttl"`
	Concurrency int      `yaml:"extract_concurrency"`
}

// AnalyticsConfig tunes the analytics layer.
type AnalyticsConfig struct {
	TopN         int      `yaml:"top_n"`
	CacheTTL     Duration `yaml:"cache_ttl"`
	HalfLifeDays int      `yaml:"half_life_days"`
	CacheEntries int      `yaml:"cache_entries"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		ListenAddr:     ":9200",
		SQLitePath:     "./data/cmg.db",
		BleveIndexPath: "./data/labels.bleve",
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Ingest: IngestConfig{
			Workers:     4,
			QueueSize:   1024,
			DedupeTTL:   Duration(2 * time.Minute),
			Concurrency: 4,
		},
		Analytics: AnalyticsConfig{
			TopN:         5,
			CacheTTL:     Duration(10 * time.Minute),
			HalfLifeDays: 30,
			CacheEntries: 10000,
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ListenAddr = getEnv("CMG_LISTEN_ADDR", cfg.ListenAddr)
	cfg.SQLitePath = getEnv("CMG_SQLITE_PATH", cfg.SQLitePath)
	cfg.BleveIndexPath = getEnv("CMG_BLEVE_PATH", cfg.BleveIndexPath)
	cfg.RedisAddr = getEnv("REDIS_URL", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.Model = getEnv("OPENAI_MODEL", cfg.OpenAI.Model)
	cfg.Ingest.Workers = getEnvInt("CMG_INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.QueueSize = getEnvInt("CMG_INGEST_QUEUE", cfg.Ingest.QueueSize)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
