// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every automatically mapped environment variable, e.g.
// RAGCRAWLER_CRAWLER_CONCURRENCY.
const EnvPrefix = "RAGCRAWLER"

// Backend names accepted by the backend selectors.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendAzure    = "azure"
	BackendPgvector = "pgvector"
	BackendPubSub   = "pubsub"
	BackendRabbitMQ = "rabbitmq"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Search    SearchConfig    `mapstructure:"search"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Version         string        `mapstructure:"version"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig controls token signing and the login cookie.
type AuthConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	Issuer       string        `mapstructure:"issuer"`
	CookieName   string        `mapstructure:"cookie_name"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
	SeedAdmin    bool          `mapstructure:"seed_admin"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs workers and the scrape pipeline.
type CrawlerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	MaxBodyBytes    int           `mapstructure:"max_body_bytes"`
	DeepMaxDepth    int           `mapstructure:"deep_max_depth"`
	DeepMaxPages    int           `mapstructure:"deep_max_pages"`
	SitemapMaxPages int           `mapstructure:"sitemap_max_pages"`
	SitemapTimeout  time.Duration `mapstructure:"sitemap_timeout"`
	BlockedDomains  []string      `mapstructure:"blocked_domains"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
}

// HTTPConfig configures the plain HTTP client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	ExecPath           string        `mapstructure:"exec_path"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	Markers            []string      `mapstructure:"markers"`
}

// RateLimitConfig throttles fetches per host.
type RateLimitConfig struct {
	DefaultRPS   float64     `mapstructure:"default_rps"`
	DefaultBurst int         `mapstructure:"default_burst"`
	Hosts        []HostLimit `mapstructure:"hosts"`
}

// HostLimit overrides the request rate for one host. Hosts are listed
// rather than keyed because Viper splits map keys on dots.
type HostLimit struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HostRPS returns the per-host overrides as a map.
func (c RateLimitConfig) HostRPS() map[string]float64 {
	out := make(map[string]float64, len(c.Hosts))
	for _, h := range c.Hosts {
		if h.Host != "" && h.RPS > 0 {
			out[strings.ToLower(h.Host)] = h.RPS
		}
	}
	return out
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DatabaseConfig controls the Postgres pool. An empty URL selects the
// in-memory repositories.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig points at the token revocation and chat history cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// OpenAIConfig configures Azure OpenAI chat and embedding deployments.
type OpenAIConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	APIKey              string `mapstructure:"api_key"`
	APIVersion          string `mapstructure:"api_version"`
	GPT4oDeployment     string `mapstructure:"gpt4o_deployment"`
	O3MiniDeployment    string `mapstructure:"o3_mini_deployment"`
	EmbeddingDeployment string `mapstructure:"embedding_deployment"`
	EmbeddingAPIVersion string `mapstructure:"embedding_api_version"`
	EmbeddingModel      string `mapstructure:"embedding_model"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"`
	EmbeddingBatchSize  int    `mapstructure:"embedding_batch_size"`
}

// SearchConfig configures Azure AI Search.
type SearchConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	APIVersion string `mapstructure:"api_version"`
}

// VectorConfig selects the vector index backend and chunking.
type VectorConfig struct {
	Backend      string `mapstructure:"backend"`
	Encoding     string `mapstructure:"encoding"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// ChatConfig tunes chat sessions.
type ChatConfig struct {
	DefaultModel string        `mapstructure:"default_model"`
	HistoryLimit int           `mapstructure:"history_limit"`
	HistoryTTL   time.Duration `mapstructure:"history_ttl"`
}

// DocumentsConfig bounds uploads.
type DocumentsConfig struct {
	MaxFileSizeMB int `mapstructure:"max_file_size_mb"`
}

// PublisherConfig selects the event publisher.
type PublisherConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID   string `mapstructure:"project_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// RabbitMQConfig holds broker settings.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// TelemetryConfig tunes trace sampling.
type TelemetryConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// envBindings maps deployment variables that carry no prefix.
var envBindings = map[string]string{
	"server.port":                 "PORT",
	"auth.secret_key":             "SECRET_KEY",
	"database.url":                "DATABASE_URL",
	"redis.url":                   "REDIS_URL",
	"openai.endpoint":             "AZURE_OPENAI_ENDPOINT",
	"openai.api_key":              "AZURE_OPENAI_API_KEY",
	"openai.api_version":          "AZURE_OPENAI_API_VERSION",
	"openai.gpt4o_deployment":     "AZURE_OPENAI_GPT4O_DEPLOYMENT",
	"openai.o3_mini_deployment":   "AZURE_OPENAI_O3_MINI_DEPLOYMENT",
	"openai.embedding_deployment": "AZURE_OPENAI_EMBEDDING_DEPLOYMENT",
	"search.endpoint":             "AZURE_SEARCH_ENDPOINT",
	"search.api_key":              "AZURE_SEARCH_KEY",
	"search.api_version":          "AZURE_SEARCH_API_VERSION",
	"pubsub.project_id":           "GOOGLE_CLOUD_PROJECT",
	"rabbitmq.url":                "RABBITMQ_URL",
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}

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

// newViper returns a Viper instance with env bindings and defaults applied.
// Unmarshal only sees keys Viper knows, so every scalar key needs a default
// for AutomaticEnv to reach it.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	setDefaults(v)
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "ragcrawler")
	v.SetDefault("auth.cookie_name", "session_token")
	v.SetDefault("auth.secure_cookie", false)
	v.SetDefault("auth.seed_admin", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.job_timeout", "30m")
	v.SetDefault("crawler.user_agent", "ragcrawler/1.0 (+https://sydney.edu.au)")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.deep_max_depth", 3)
	v.SetDefault("crawler.deep_max_pages", 50)
	v.SetDefault("crawler.sitemap_max_pages", 100)
	v.SetDefault("crawler.sitemap_timeout", "30s")
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", "30s")
	v.SetDefault("headless.settle_delay", "1s")
	v.SetDefault("headless.promotion_threshold", 0)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.markers", []string{})
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 1)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("openai.api_version", "2024-12-01-preview")
	v.SetDefault("openai.gpt4o_deployment", "gpt-4o")
	v.SetDefault("openai.o3_mini_deployment", "o3-mini")
	v.SetDefault("openai.embedding_deployment", "text-embedding-3-small")
	v.SetDefault("openai.embedding_api_version", "2024-02-01")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.embedding_dimensions", 1536)
	v.SetDefault("openai.embedding_batch_size", 10)
	v.SetDefault("search.api_version", "2023-11-01")
	v.SetDefault("vector.backend", BackendAzure)
	v.SetDefault("vector.encoding", "cl100k_base")
	v.SetDefault("vector.chunk_size", 1000)
	v.SetDefault("vector.chunk_overlap", 200)
	v.SetDefault("chat.default_model", "gpt-4o")
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.history_ttl", "1h")
	v.SetDefault("documents.max_file_size_mb", 50)
	v.SetDefault("publisher.backend", BackendMemory)
	v.SetDefault("pubsub.topic_prefix", "ragcrawler-")
	v.SetDefault("rabbitmq.exchange", "ragcrawler.events")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Server.Port <= 0, "server.port must be > 0")
	check(c.Crawler.Concurrency <= 0, "crawler.concurrency must be > 0")
	check(c.Crawler.QueueDepth <= 0, "crawler.queue_depth must be > 0")
	check(strings.TrimSpace(c.Auth.SecretKey) == "", "auth.secret_key (SECRET_KEY) is required")
	check(c.Headless.Enabled && c.Headless.MaxParallel <= 0,
		"headless.max_parallel must be > 0 when headless is enabled")

	switch c.Vector.Backend {
	case BackendAzure:
		check(c.Search.Endpoint == "" || c.Search.APIKey == "",
			"search.endpoint and search.api_key are required for the azure vector backend")
	case BackendPgvector:
		check(c.Database.URL == "", "database.url is required for the pgvector vector backend")
	case BackendMemory:
	default:
		check(true, "vector.backend %q must be one of azure, pgvector, memory", c.Vector.Backend)
	}
	check(c.Vector.ChunkSize <= 0, "vector.chunk_size must be > 0")
	check(c.Vector.ChunkOverlap < 0 || c.Vector.ChunkOverlap >= c.Vector.ChunkSize,
		"vector.chunk_overlap must be >= 0 and < vector.chunk_size")
	check(c.OpenAI.EmbeddingDimensions <= 0, "openai.embedding_dimensions must be > 0")

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		check(c.Storage.LocalDir == "", "storage.local_dir is required for the local backend")
	case BackendGCS:
		check(c.Storage.GCSBucket == "", "storage.gcs_bucket is required for the gcs backend")
	default:
		check(true, "storage.backend %q must be one of memory, local, gcs", c.Storage.Backend)
	}

	switch c.Publisher.Backend {
	case BackendMemory:
	case BackendPubSub:
		check(c.PubSub.ProjectID == "", "pubsub.project_id is required for the pubsub publisher")
	case BackendRabbitMQ:
		check(c.RabbitMQ.URL == "", "rabbitmq.url is required for the rabbitmq publisher")
	default:
		check(true, "publisher.backend %q must be one of memory, pubsub, rabbitmq", c.Publisher.Backend)
	}

	check(c.Documents.MaxFileSizeMB <= 0, "documents.max_file_size_mb must be > 0")
	check(c.Chat.HistoryLimit < 0, "chat.history_limit must be >= 0")
	check(c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1, "telemetry.sample_ratio must be within [0, 1]")
	return errors.Join(errs...)
}

// MaxUploadBytes converts the upload limit to bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Documents.MaxFileSizeMB) << 20
}
