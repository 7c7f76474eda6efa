package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/stratopt/internal/backtest/remote"
	"github.com/copyleftdev/stratopt/internal/errors"
	"github.com/copyleftdev/stratopt/internal/logging"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Backtest struct {
		URL        string        `env:"BACKTEST_URL" envDefault:"http://localhost:9090/api/v1/backtest"`
		Timeout    time.Duration `env:"BACKTEST_TIMEOUT" envDefault:"5m"`
		MaxRetries int           `env:"BACKTEST_MAX_RETRIES" envDefault:"3"`
		BackoffMin time.Duration `env:"BACKTEST_BACKOFF_MIN" envDefault:"100ms"`
		BackoffMax time.Duration `env:"BACKTEST_BACKOFF_MAX" envDefault:"5s"`
		Breaker    struct {
			MinRequests     uint32        `env:"BACKTEST_BREAKER_MIN_REQUESTS" envDefault:"5"`
			FailureRatio    float64       `env:"BACKTEST_BREAKER_FAILURE_RATIO" envDefault:"0.6"`
			OpenTimeout     time.Duration `env:"BACKTEST_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
			HalfOpenMaxReqs uint32        `env:"BACKTEST_BREAKER_HALF_OPEN_MAX_REQUESTS" envDefault:"1"`
			CountInterval   time.Duration `env:"BACKTEST_BREAKER_COUNT_INTERVAL" envDefault:"60s"`
		}
	}
	Optimization struct {
		DefaultSeed        int64         `env:"OPT_DEFAULT_SEED" envDefault:"42"`
		MaxGridCombination int           `env:"OPT_MAX_GRID_COMBINATIONS" envDefault:"100000"`
		TrialTimeout       time.Duration `env:"OPT_TRIAL_TIMEOUT" envDefault:"0s"`
		MaxConcurrentJobs  int           `env:"OPT_MAX_CONCURRENT_JOBS" envDefault:"4"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(errors.KindConfiguration, err, "parse environment").WithComponent("config")
	}

	// Unset log level defaults to debug in development and info elsewhere.
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return errors.Configurationf("HTTP_PORT out of range: %d", c.HTTP.Port).WithComponent("config")
	case c.Backtest.MaxRetries < 0:
		return errors.Configurationf("BACKTEST_MAX_RETRIES must not be negative: %d", c.Backtest.MaxRetries).WithComponent("config")
	case c.Backtest.Breaker.FailureRatio < 0 || c.Backtest.Breaker.FailureRatio > 1:
		return errors.Configurationf("BACKTEST_BREAKER_FAILURE_RATIO must be within [0, 1]: %v", c.Backtest.Breaker.FailureRatio).WithComponent("config")
	case c.Optimization.MaxGridCombination <= 0:
		return errors.Configurationf("OPT_MAX_GRID_COMBINATIONS must be positive: %d", c.Optimization.MaxGridCombination).WithComponent("config")
	case c.Optimization.TrialTimeout < 0:
		return errors.Configurationf("OPT_TRIAL_TIMEOUT must not be negative: %s", c.Optimization.TrialTimeout).WithComponent("config")
	case c.Optimization.MaxConcurrentJobs <= 0:
		return errors.Configurationf("OPT_MAX_CONCURRENT_JOBS must be positive: %d", c.Optimization.MaxConcurrentJobs).WithComponent("config")
	}
	return nil
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// RemoteBacktest returns the settings of the remote backtest client.
func (c *Config) RemoteBacktest() remote.Config {
	b := c.Backtest
	return remote.Config{
		URL:        b.URL,
		Timeout:    b.Timeout,
		MaxRetries: b.MaxRetries,
		BackoffMin: b.BackoffMin,
		BackoffMax: b.BackoffMax,
		Breaker: remote.BreakerSettings{
			MinRequests:     b.Breaker.MinRequests,
			FailureRatio:    b.Breaker.FailureRatio,
			OpenTimeout:     b.Breaker.OpenTimeout,
			HalfOpenMaxReqs: b.Breaker.HalfOpenMaxReqs,
			CountInterval:   b.Breaker.CountInterval,
		},
	}
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
