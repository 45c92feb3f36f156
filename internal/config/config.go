package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
)

// Controller holds the default controller settings read from the environment.
type Controller struct {
	Mode               string  `env:"MODE" envDefault:"min"`
	Factor             float64 `env:"FACTOR" envDefault:"1"`
	Patience           int     `env:"PATIENCE" envDefault:"5"`
	Threshold          float64 `env:"THRESHOLD" envDefault:"1e-3"`
	ThresholdMode      string  `env:"THRESHOLD_MODE" envDefault:"rel"`
	InitialIterTerm    float64 `env:"INITIAL_ITER_TERM" envDefault:"1"`
	MaxIter            float64 `env:"MAX_ITER" envDefault:"10"`
	Verbose            bool    `env:"VERBOSE" envDefault:"true"`
	EarlyStopThreshold float64 `env:"EARLY_STOP_THRESHOLD" envDefault:"1e-4"`
}

// Adaptive converts the settings to a controller configuration. The result
// is not validated.
func (c Controller) Adaptive() adaptive.Config {
	return adaptive.Config{
		Mode:               adaptive.Mode(c.Mode),
		Factor:             c.Factor,
		Patience:           c.Patience,
		Threshold:          c.Threshold,
		ThresholdMode:      adaptive.ThresholdMode(c.ThresholdMode),
		InitialIterTerm:    c.InitialIterTerm,
		MaxIter:            c.MaxIter,
		Verbose:            c.Verbose,
		EarlyStopThreshold: c.EarlyStopThreshold,
	}
}

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
	Controller Controller `envPrefix:"CTRL_"`
	Sessions   struct {
		Max int `env:"SESSION_MAX" envDefault:"1024"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	return cfg, nil
}

// LoadControllerFile overlays the YAML document at path onto base. Keys that
// do not name a controller setting are rejected.
func LoadControllerFile(path string, base adaptive.Config) (adaptive.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	return ParseController(data, base)
}

// ParseController overlays a YAML document onto base.
func ParseController(data []byte, base adaptive.Config) (adaptive.Config, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return base, nil
		}
		return base, fmt.Errorf("parse controller config: %w", err)
	}
	return cfg, nil
}
