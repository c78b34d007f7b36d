// Package config loads and validates racecrawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/sites"
)

// EnvPrefix prefixes every environment override, e.g. RACECRAWLER_DB_DSN.
const EnvPrefix = "RACECRAWLER"

// Sink providers.
const (
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkGCS      = "gcs"
	SinkLocal    = "local"
)

// User-agent selection strategies.
const (
	UASelectorRoundRobin = "round_robin"
	UASelectorRandom     = "random"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Render   RenderConfig   `mapstructure:"render"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Sink     SinkConfig     `mapstructure:"sink"`
	DB       DBConfig       `mapstructure:"db"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Local    LocalConfig    `mapstructure:"local"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Sites    SitesConfig    `mapstructure:"sites"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls the HTTP surface started by `racecrawler serve`.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig guards the crawl trigger endpoints with a static API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs dispatch and politeness.
type CrawlerConfig struct {
	Concurrency         int               `mapstructure:"concurrency"`
	DelayMS             int               `mapstructure:"delay_ms"`
	JitterMS            int               `mapstructure:"jitter_ms"`
	UserAgents          []string          `mapstructure:"user_agents"`
	UASelector          string            `mapstructure:"ua_selector"`
	UASeed              uint64            `mapstructure:"ua_seed"`
	ExtraHeaders        map[string]string `mapstructure:"extra_headers"`
	RespectRobots       bool              `mapstructure:"respect_robots"`
	FallbackConcurrency int               `mapstructure:"fallback_concurrency"`
	FallbackQuota       int               `mapstructure:"fallback_quota"`
	MaxPages            int               `mapstructure:"max_pages"`
}

// RenderConfig configures the headless browser path. PromotionThreshold is
// the body size below which a script-heavy static page is re-rendered in the
// browser; zero disables promotion.
type RenderConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	MaxParallel            int     `mapstructure:"max_parallel"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	SelectorTimeoutSeconds int     `mapstructure:"selector_timeout_seconds"`
	DefaultWaitMS          int     `mapstructure:"default_wait_ms"`
	DomainQPS              float64 `mapstructure:"domain_qps"`
	DomainBurst            int     `mapstructure:"domain_burst"`
	PromotionThreshold     int     `mapstructure:"promotion_threshold"`
}

// HTTPConfig configures the static fetch path.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SinkConfig picks the record sink.
type SinkConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to Postgres. A DSN also moves crawl_runs there.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
	MaxConns  int    `mapstructure:"max_conns"`
}

// SQLiteConfig locates the local database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LocalConfig sets the directory of the local file sink.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig sets the Cloud Storage destination.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for record notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMS int `mapstructure:"max_batch_wait_ms"`
}

// SitesConfig overrides site root URLs.
type SitesConfig struct {
	EntriesURL  string `mapstructure:"entries_url"`
	RankingsURL string `mapstructure:"rankings_url"`
	NewsURL     string `mapstructure:"news_url"`
	ResultsURL  string `mapstructure:"results_url"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	ServiceName  string            `mapstructure:"service_name"`
	HTTPEndpoint string            `mapstructure:"http_endpoint"`
	GRPCEndpoint string            `mapstructure:"grpc_endpoint"`
	Headers      map[string]string `mapstructure:"headers"`
	SampleRatio  float64           `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path, racecrawler.yaml is looked up in the working
// directory, /etc/racecrawler and $HOME/.racecrawler; a missing file is not
// an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("racecrawler")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/racecrawler/")
		v.AddConfigPath("$HOME/.racecrawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.delay_ms", 2000)
	v.SetDefault("crawler.jitter_ms", 1000)
	v.SetDefault("crawler.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	})
	v.SetDefault("crawler.ua_selector", UASelectorRoundRobin)
	v.SetDefault("crawler.ua_seed", 0)
	v.SetDefault("crawler.extra_headers", map[string]string{"Accept-Language": "en-US,en;q=0.9"})
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.fallback_concurrency", 4)
	v.SetDefault("crawler.fallback_quota", 0)
	v.SetDefault("crawler.max_pages", 50)
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.timeout_seconds", 60)
	v.SetDefault("render.selector_timeout_seconds", 10)
	v.SetDefault("render.default_wait_ms", 2000)
	v.SetDefault("render.domain_qps", 0.5)
	v.SetDefault("render.domain_burst", 1)
	v.SetDefault("render.promotion_threshold", 2048)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("sink.provider", SinkMemory)
	v.SetDefault("db.table", "raw_scraped_data")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("sqlite.path", "racecrawler.db")
	v.SetDefault("local.dir", "data")
	v.SetDefault("storage.prefix", "records")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("sites.entries_url", sites.DefaultEntriesURL)
	v.SetDefault("sites.rankings_url", sites.DefaultRankingsURL)
	v.SetDefault("sites.news_url", sites.DefaultNewsURL)
	v.SetDefault("sites.results_url", sites.DefaultResultsURL)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "racecrawler")
	v.SetDefault("tracing.sample_ratio", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Auth.Enabled && c.Auth.APIKey == "":
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	case c.Crawler.Concurrency <= 0:
		return fmt.Errorf("crawler.concurrency must be > 0")
	case c.Crawler.DelayMS < 0:
		return fmt.Errorf("crawler.delay_ms must be >= 0")
	case c.Crawler.JitterMS < 0:
		return fmt.Errorf("crawler.jitter_ms must be >= 0")
	case c.Crawler.FallbackConcurrency <= 0:
		return fmt.Errorf("crawler.fallback_concurrency must be > 0")
	case c.Crawler.FallbackQuota < 0:
		return fmt.Errorf("crawler.fallback_quota must be >= 0")
	case c.Crawler.MaxPages < 0:
		return fmt.Errorf("crawler.max_pages must be >= 0")
	case c.Crawler.UASelector != UASelectorRoundRobin && c.Crawler.UASelector != UASelectorRandom:
		return fmt.Errorf("crawler.ua_selector must be %q or %q", UASelectorRoundRobin, UASelectorRandom)
	case c.Render.Enabled && c.Render.MaxParallel <= 0:
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	case c.Render.TimeoutSeconds <= 0:
		return fmt.Errorf("render.timeout_seconds must be > 0")
	case c.Render.SelectorTimeoutSeconds <= 0:
		return fmt.Errorf("render.selector_timeout_seconds must be > 0")
	case c.Render.DefaultWaitMS < 0:
		return fmt.Errorf("render.default_wait_ms must be >= 0")
	case c.Render.DomainQPS < 0:
		return fmt.Errorf("render.domain_qps must be >= 0")
	case c.Render.PromotionThreshold < 0:
		return fmt.Errorf("render.promotion_threshold must be >= 0")
	case c.HTTP.TimeoutSeconds <= 0:
		return fmt.Errorf("http.timeout_seconds must be > 0")
	case c.Progress.BufferSize <= 0:
		return fmt.Errorf("progress.buffer_size must be > 0")
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	case c.Tracing.Enabled && c.Tracing.ServiceName == "":
		return fmt.Errorf("tracing.service_name must be set when tracing is enabled")
	}
	return c.validateSink()
}

func (c Config) validateSink() error {
	switch c.Sink.Provider {
	case SinkMemory:
	case SinkPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres sink")
		}
	case SinkSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set for the sqlite sink")
		}
	case SinkLocal:
		if c.Local.Dir == "" {
			return fmt.Errorf("local.dir must be set for the local sink")
		}
	case SinkGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs sink")
		}
	default:
		return fmt.Errorf("sink.provider must be one of memory, postgres, sqlite, gcs, local")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// EngineConfig converts the crawler and render sections for crawler.NewEngine.
func (c Config) EngineConfig() crawler.Config {
	headers := make(http.Header, len(c.Crawler.ExtraHeaders))
	for k, v := range c.Crawler.ExtraHeaders {
		headers.Set(k, v)
	}
	return crawler.Config{
		Concurrency:         c.Crawler.Concurrency,
		Delay:               time.Duration(c.Crawler.DelayMS) * time.Millisecond,
		Jitter:              time.Duration(c.Crawler.JitterMS) * time.Millisecond,
		RenderTimeout:       time.Duration(c.Render.TimeoutSeconds) * time.Second,
		FallbackConcurrency: c.Crawler.FallbackConcurrency,
		FallbackQuota:       c.Crawler.FallbackQuota,
		MaxPages:            c.Crawler.MaxPages,
		DefaultWait:         time.Duration(c.Render.DefaultWaitMS) * time.Millisecond,
		ExtraHeaders:        headers,
	}
}

// SiteURLs returns the configured site roots.
func (c Config) SiteURLs() sites.URLs {
	return sites.URLs{
		Entries:  c.Sites.EntriesURL,
		Rankings: c.Sites.RankingsURL,
		News:     c.Sites.NewsURL,
		Results:  c.Sites.ResultsURL,
	}
}
