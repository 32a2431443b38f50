// Package config loads and validates graph builder configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler" yaml:"crawler"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit" yaml:"ratelimit"`
	Headless   HeadlessConfig   `mapstructure:"headless" yaml:"headless"`
	Chunking   ChunkingConfig   `mapstructure:"chunking" yaml:"chunking"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Graph      GraphConfig      `mapstructure:"graph" yaml:"graph"`
	Publisher  PublisherConfig  `mapstructure:"publisher" yaml:"publisher"`
	PubSub     PubSubConfig     `mapstructure:"pubsub" yaml:"pubsub"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development" yaml:"development"`
	Level       string `mapstructure:"level" yaml:"level"`
}

// CrawlerConfig governs the crawl frontier.
type CrawlerConfig struct {
	MaxCrawlLimit  int           `mapstructure:"max_crawl_limit" yaml:"max_crawl_limit"`
	MaxWorkers     int           `mapstructure:"max_workers" yaml:"max_workers"`
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`
	AllowedDomains []string      `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	SameHostOnly   bool          `mapstructure:"same_host_only" yaml:"same_host_only"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RateLimitConfig configures per-domain pacing on top of the per-round delay.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// HeadlessConfig configures the chromedp fetcher. When enabled, pages are
// fetched over HTTP first and rendered headless only when they look script-built,
// unless Always is set.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	Always        bool `mapstructure:"always" yaml:"always"`
	MaxParallel   int  `mapstructure:"max_parallel" yaml:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds" yaml:"nav_timeout_seconds"`
	MinTextRunes  int  `mapstructure:"min_text_runes" yaml:"min_text_runes"`
}

// ChunkingConfig sizes chunk windows.
type ChunkingConfig struct {
	ChunkSize int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	Overlap   int    `mapstructure:"overlap" yaml:"overlap"`
	MaxChunks int    `mapstructure:"max_chunks" yaml:"max_chunks"`
	Unit      string `mapstructure:"unit" yaml:"unit"`
}

// ProcessingConfig controls the batch controller.
type ProcessingConfig struct {
	BatchSize            int    `mapstructure:"batch_size" yaml:"batch_size"`
	AllowedNodes         string `mapstructure:"allowed_nodes" yaml:"allowed_nodes"`
	AllowedRelationships string `mapstructure:"allowed_relationships" yaml:"allowed_relationships"`
	// Embeddings stores the per-chunk vector returned by the extractor.
	Embeddings bool `mapstructure:"embeddings" yaml:"embeddings"`
}

// PipelineConfig controls the task orchestrator.
type PipelineConfig struct {
	MaxParallelTasks int           `mapstructure:"max_parallel_tasks" yaml:"max_parallel_tasks"`
	ContinueOnError  bool          `mapstructure:"continue_on_error" yaml:"continue_on_error"`
	AutoRetryFailed  bool          `mapstructure:"auto_retry_failed" yaml:"auto_retry_failed"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ExtractionConfig points at the external extraction service.
type ExtractionConfig struct {
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	Model          string `mapstructure:"model" yaml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// StorageConfig selects where frontier state is persisted.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket" yaml:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object" yaml:"gcs_object"`
}

// GraphConfig selects the document/chunk store.
type GraphConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// PublisherConfig selects where completion events go.
type PublisherConfig struct {
	Kind  string `mapstructure:"kind" yaml:"kind"`
	Topic string `mapstructure:"topic" yaml:"topic"`
}

// PubSubConfig holds metadata for GCP Pub/Sub notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	TopicName string `mapstructure:"topic_name" yaml:"topic_name"`
}

// NATSConfig holds the NATS connection for notifications.
type NATSConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRAPHBUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load dotenv %s: %w", p, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.max_crawl_limit", 10)
	v.SetDefault("crawler.max_workers", 5)
	v.SetDefault("crawler.request_delay", time.Second)
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.same_host_only", false)
	v.SetDefault("crawler.user_agent", "GraphBuilder/1.0")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.always", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.min_text_runes", 200)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("chunking.chunk_size", 200)
	v.SetDefault("chunking.overlap", 20)
	v.SetDefault("chunking.max_chunks", 1000)
	v.SetDefault("chunking.unit", "runes")
	v.SetDefault("processing.batch_size", 20)
	v.SetDefault("processing.allowed_nodes", "")
	v.SetDefault("processing.allowed_relationships", "")
	v.SetDefault("processing.embeddings", false)
	v.SetDefault("pipeline.max_parallel_tasks", 5)
	v.SetDefault("pipeline.continue_on_error", false)
	v.SetDefault("pipeline.auto_retry_failed", true)
	v.SetDefault("pipeline.poll_interval", 100*time.Millisecond)
	v.SetDefault("extraction.endpoint", "")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.model", "azure_ai_gpt_4o")
	v.SetDefault("extraction.timeout_seconds", 120)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "record")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_object", "frontier/state.json")
	v.SetDefault("graph.backend", "memory")
	v.SetDefault("graph.dsn", "")
	v.SetDefault("graph.max_conns", 4)
	v.SetDefault("publisher.kind", "memory")
	v.SetDefault("publisher.topic", "documents")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxCrawlLimit <= 0 {
		return fmt.Errorf("crawler.max_crawl_limit must be > 0")
	}
	if c.Crawler.MaxWorkers <= 0 {
		return fmt.Errorf("crawler.max_workers must be > 0")
	}
	if c.Crawler.RequestDelay < 0 {
		return fmt.Errorf("crawler.request_delay must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be > 0")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.overlap must be >= 0 and < chunking.chunk_size")
	}
	if c.Processing.BatchSize <= 0 {
		return fmt.Errorf("processing.batch_size must be > 0")
	}
	if c.Pipeline.MaxParallelTasks <= 0 {
		return fmt.Errorf("pipeline.max_parallel_tasks must be > 0")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Graph.Backend {
	case "memory":
	case "postgres":
		if c.Graph.DSN == "" {
			return fmt.Errorf("graph.dsn must be set when graph.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown graph.backend %q", c.Graph.Backend)
	}
	switch c.Publisher.Kind {
	case "memory", "none", "nats":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when publisher.kind is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.kind %q", c.Publisher.Kind)
	}
	return nil
}

// FetchTimeout converts the crawler timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// ExtractionTimeout converts the extraction timeout into a duration.
func (c Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}
