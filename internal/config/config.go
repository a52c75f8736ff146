package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"panelforge.db"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address          string        `envconfig:"PANELFORGE_ADDRESS" default:":3443"`
	MetricsAddress   string        `envconfig:"PANELFORGE_METRICS_ADDRESS" default:":8080"`
	LogLevel         string        `envconfig:"PANELFORGE_LOG_LEVEL" default:"info"`
	CorsOrigins      []string      `envconfig:"PANELFORGE_CORS_ORIGINS" default:"http://localhost:3000"`
	GeneratorURL     string        `envconfig:"PANELFORGE_GENERATOR_URL" default:"http://localhost:9090"`
	GeneratorTimeout time.Duration `envconfig:"PANELFORGE_GENERATOR_TIMEOUT" default:"120s"`
	MaxRetries       int           `envconfig:"PANELFORGE_MAX_RETRIES" default:"2"`
	RetryBackoff     time.Duration `envconfig:"PANELFORGE_RETRY_BACKOFF" default:"1s"`
	PersistDebounce  time.Duration `envconfig:"PANELFORGE_PERSIST_DEBOUNCE" default:"250ms"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config populated with defaults only, for tests.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("panelforge_test_unset", cfg); err != nil {
		panic(err)
	}
	return cfg
}
