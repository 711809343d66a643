// Package config initializes the application's configuration. It uses Viper
// to merge a config file, environment variables, and defaults into one
// typed view handed to the app container.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pwnlabs/gymscout/internal/storage/gcs"
	"github.com/pwnlabs/gymscout/internal/storage/local"
	"github.com/pwnlabs/gymscout/internal/ticket"
)

// PlatformConfig locates the training platform and its credentials.
type PlatformConfig struct {
	RootURL           string        `mapstructure:"root_url"`
	LoginURL          string        `mapstructure:"login_url"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// CrawlerConfig tunes the crawl phase.
type CrawlerConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	GraphPath      string        `mapstructure:"graph_path"`
	SurveyPath     string        `mapstructure:"survey_path"`
}

// ExtractorConfig configures the vision extraction model.
type ExtractorConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AnalysisConfig configures the generate/evaluate/refine phase.
type AnalysisConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	GeneratorModel  string        `mapstructure:"generator_model"`
	EvaluatorModel  string        `mapstructure:"evaluator_model"`
	CallsPerMinute  int           `mapstructure:"calls_per_minute"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	StepAttempts    int           `mapstructure:"step_attempts"`
	StepBaseDelay   time.Duration `mapstructure:"step_base_delay"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	KeepExhausted   bool          `mapstructure:"keep_exhausted"`
	CompletionTopic string        `mapstructure:"completion_topic"`
}

// StorageConfig selects the capture blob store.
type StorageConfig struct {
	Provider string       `mapstructure:"provider"` // local | gcs | noop
	Local    local.Config `mapstructure:"local"`
	GCS      gcs.Config   `mapstructure:"gcs"`
}

// TicketsConfig selects the ticket sink.
type TicketsConfig struct {
	Sink     string                `mapstructure:"sink"` // fs | postgres
	Dir      string                `mapstructure:"dir"`
	Postgres ticket.PostgresConfig `mapstructure:"postgres"`
}

// PublisherConfig selects the completion publisher.
type PublisherConfig struct {
	Provider string `mapstructure:"provider"` // none | pubsub | memory
	Project  string `mapstructure:"project"`
	Topic    string `mapstructure:"topic"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Config is the full application configuration.
type Config struct {
	Platform  PlatformConfig  `mapstructure:"platform"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Tickets   TicketsConfig   `mapstructure:"tickets"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Init wires defaults, search paths, and the GYMSCOUT_ environment prefix
// into the given viper instance and reads the config file if one exists.
func Init(v *viper.Viper) error {
	v.SetConfigName("gymscout")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gymscout/")
	v.AddConfigPath("$HOME/.gymscout")

	v.SetDefault("platform.user_agent", "GymScout/1.0")
	v.SetDefault("platform.navigation_timeout", "45s")

	v.SetDefault("crawler.max_workers", 4)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_base_delay", "250ms")
	v.SetDefault("crawler.retry_max_delay", "5s")
	v.SetDefault("crawler.graph_path", "data/sitegraph.json")
	v.SetDefault("crawler.survey_path", "data/survey.md")

	v.SetDefault("extractor.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("extractor.model", "qwen/qwen2.5-vl-72b-instruct")
	v.SetDefault("extractor.calls_per_minute", 50)
	v.SetDefault("extractor.request_timeout", "90s")

	v.SetDefault("analysis.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("analysis.generator_model", "deepseek/deepseek-chat")
	v.SetDefault("analysis.evaluator_model", "anthropic/claude-sonnet-4")
	v.SetDefault("analysis.calls_per_minute", 50)
	v.SetDefault("analysis.request_timeout", "120s")
	v.SetDefault("analysis.max_iterations", 3)
	v.SetDefault("analysis.step_attempts", 3)
	v.SetDefault("analysis.step_base_delay", "1s")
	v.SetDefault("analysis.max_concurrent", 2)
	v.SetDefault("analysis.keep_exhausted", true)
	v.SetDefault("analysis.completion_topic", "gymscout.tickets")

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local.base_dir", "data/captures")

	v.SetDefault("tickets.sink", "fs")
	v.SetDefault("tickets.dir", "data/tickets")
	v.SetDefault("tickets.postgres.table", "tickets")

	v.SetDefault("publisher.provider", "none")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":9090")

	v.SetDefault("logging.development", false)

	v.SetEnvPrefix("GYMSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

// Load unmarshals the viper instance into the typed Config and validates
// the fields every run needs.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Platform.RootURL == "" {
		return Config{}, fmt.Errorf("platform.root_url is required")
	}
	if cfg.Platform.LoginURL == "" {
		cfg.Platform.LoginURL = cfg.Platform.RootURL
	}
	return cfg, nil
}
