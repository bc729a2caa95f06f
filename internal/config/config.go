// Package config loads application configuration and initializes logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory | sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures the document fetcher.
type FetchConfig struct {
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries      int    `yaml:"max_retries" mapstructure:"max_retries"`
	MinRequestGapMs int    `yaml:"min_request_gap_ms" mapstructure:"min_request_gap_ms"`
	RespectRobots   bool   `yaml:"respect_robots" mapstructure:"respect_robots"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// CrawlConfig configures pagination crawling.
type CrawlConfig struct {
	MaxPages       int    `yaml:"max_pages" mapstructure:"max_pages"`
	BudgetSecs     int    `yaml:"budget_secs" mapstructure:"budget_secs"`
	HeuristicsFile string `yaml:"heuristics_file" mapstructure:"heuristics_file"`
}

// NormalizeConfig configures dataset normalization.
type NormalizeConfig struct {
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows"`
}

// JobsConfig configures the job controller.
type JobsConfig struct {
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
}

// ExportConfig configures result file writers.
type ExportConfig struct {
	DataDir string   `yaml:"data_dir" mapstructure:"data_dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCRAPEEASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("fetch.user_agent", "ScrapeEase/1.0 (Web Scraping Platform)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.min_request_gap_ms", 500)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.max_body_bytes", 8*1024*1024)
	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("crawl.budget_secs", 300)
	v.SetDefault("normalize.max_rows", 10000)
	v.SetDefault("jobs.max_concurrent_fetches", 10)
	v.SetDefault("export.data_dir", "data/processed")
	v.SetDefault("export.formats", []string{"csv", "json"})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
