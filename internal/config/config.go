package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/proxyfetch/internal/fetch"
)

// Config holds the full application configuration.
type Config struct {
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Broker BrokerConfig `yaml:"broker" mapstructure:"broker"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// FetchConfig configures the adaptive fetch client.
type FetchConfig struct {
	Strategies  []string           `yaml:"strategies" mapstructure:"strategies"`
	Credentials map[string]string  `yaml:"credentials" mapstructure:"credentials"`
	PauseSecs   int                `yaml:"pause_secs" mapstructure:"pause_secs"`
	MaxRounds   int                `yaml:"max_rounds" mapstructure:"max_rounds"`
	TimeoutSecs int                `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimits  map[string]float64 `yaml:"rate_limits" mapstructure:"rate_limits"`
	BaseURLs    map[string]string  `yaml:"base_urls" mapstructure:"base_urls"`
}

// ClientConfig converts the file settings into a fetch.Config.
func (f FetchConfig) ClientConfig() fetch.Config {
	return fetch.Config{
		Strategies:    f.Strategies,
		Credentials:   f.Credentials,
		PauseDuration: time.Duration(f.PauseSecs) * time.Second,
		MaxRounds:     f.MaxRounds,
		Timeout:       time.Duration(f.TimeoutSecs) * time.Second,
		RateLimits:    f.RateLimits,
		BaseURLs:      f.BaseURLs,
	}
}

// StoreConfig configures the optional stats store. An empty driver disables persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BrokerConfig configures the NATS publisher and its worker pool.
type BrokerConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	Subject        string `yaml:"subject" mapstructure:"subject"`
	Workers        int    `yaml:"workers" mapstructure:"workers"`
	QueueSize      int    `yaml:"queue_size" mapstructure:"queue_size"`
	PublishRetries int    `yaml:"publish_retries" mapstructure:"publish_retries"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("PROXYFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("fetch.strategies", fetch.DefaultStrategies)
	v.SetDefault("fetch.pause_secs", int(fetch.DefaultPauseDuration/time.Second))
	v.SetDefault("fetch.max_rounds", fetch.DefaultMaxRounds)
	v.SetDefault("fetch.timeout_secs", int(fetch.DefaultTimeout/time.Second))
	v.SetDefault("store.driver", "")
	v.SetDefault("broker.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.subject", "doujins.search")
	v.SetDefault("broker.workers", 4)
	v.SetDefault("broker.queue_size", 256)
	v.SetDefault("broker.publish_retries", 3)
	v.SetDefault("server.port", 8080)
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

// Validate checks the settings a command depends on. Mode is one of
// "fetch", "publish", "serve", or "stats".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "fetch", "serve":
		if len(c.Fetch.Strategies) == 0 {
			problems = append(problems, "fetch.strategies must not be empty")
		}
		if c.Fetch.PauseSecs < 0 {
			problems = append(problems, "fetch.pause_secs must be >= 0")
		}
		if c.Fetch.MaxRounds < 1 {
			problems = append(problems, "fetch.max_rounds must be >= 1")
		}
		if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	case "publish":
		if c.Broker.URL == "" {
			problems = append(problems, "broker.url is required")
		}
		if c.Broker.Subject == "" {
			problems = append(problems, "broker.subject is required")
		}
		if c.Broker.Workers < 1 {
			problems = append(problems, "broker.workers must be >= 1")
		}
	case "stats":
		if c.Store.Driver == "" {
			problems = append(problems, "store.driver is required")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
