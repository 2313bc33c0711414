package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
	"github.com/mcdev12/touchline/go/internal/matchclock/engine"
	"github.com/mcdev12/touchline/go/internal/matchclock/store"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverNATS     = "nats"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	LogLevel string      `yaml:"log_level"`
	Store    StoreConfig `yaml:"store"`
	Clock    ClockConfig `yaml:"clock"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	NATS       struct {
		URL    string `yaml:"url"`
		Bucket string `yaml:"bucket"`
	} `yaml:"nats"`
}

type ClockConfig struct {
	SnapshotEveryTicks int           `yaml:"snapshot_every_ticks"`
	EventBuffer        int           `yaml:"event_buffer"`
	DriftThreshold     time.Duration `yaml:"drift_threshold"`
	WriterQueueSize    int           `yaml:"writer_queue_size"`
	StopFlushTimeout   time.Duration `yaml:"stop_flush_timeout"`
	TeardownTimeout    time.Duration `yaml:"teardown_timeout"`
}

func defaultConfig() *Config {
	cfg := &Config{LogLevel: "info"}
	cfg.Server.Port = "8080"
	cfg.Store.Driver = driverMemory
	cfg.Store.SQLitePath = "touchline.db"
	cfg.Store.NATS.URL = "nats://localhost:4222"
	cfg.Store.NATS.Bucket = store.DefaultKVBucket
	cfg.Clock = ClockConfig{
		SnapshotEveryTicks: engine.DefaultSnapshotEvery,
		EventBuffer:        engine.DefaultEventBuffer,
		DriftThreshold:     coordinator.DefaultDriftThreshold,
		WriterQueueSize:    coordinator.DefaultWriterQueueSize,
		StopFlushTimeout:   coordinator.DefaultStopFlushTimeout,
		TeardownTimeout:    5 * time.Second,
	}
	return cfg
}

// loadConfig reads the YAML file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnvOverrides(c *Config) error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.NATS.URL = getEnv("NATS_URL", c.Store.NATS.URL)
	c.Store.NATS.Bucket = getEnv("NATS_BUCKET", c.Store.NATS.Bucket)
	c.Clock.SnapshotEveryTicks = getEnvAsInt("CLOCK_SNAPSHOT_EVERY_TICKS", c.Clock.SnapshotEveryTicks)
	c.Clock.EventBuffer = getEnvAsInt("CLOCK_EVENT_BUFFER", c.Clock.EventBuffer)
	c.Clock.WriterQueueSize = getEnvAsInt("CLOCK_WRITER_QUEUE_SIZE", c.Clock.WriterQueueSize)

	var err error
	if c.Clock.DriftThreshold, err = getEnvAsDuration("CLOCK_DRIFT_THRESHOLD", c.Clock.DriftThreshold); err != nil {
		return err
	}
	if c.Clock.StopFlushTimeout, err = getEnvAsDuration("CLOCK_STOP_FLUSH_TIMEOUT", c.Clock.StopFlushTimeout); err != nil {
		return err
	}
	if c.Clock.TeardownTimeout, err = getEnvAsDuration("CLOCK_TEARDOWN_TIMEOUT", c.Clock.TeardownTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case driverMemory, driverPostgres, driverNATS:
	case driverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Clock.SnapshotEveryTicks <= 0 {
		return errors.New("clock.snapshot_every_ticks must be positive")
	}
	if c.Clock.EventBuffer <= 0 || c.Clock.WriterQueueSize <= 0 {
		return errors.New("clock.event_buffer and clock.writer_queue_size must be positive")
	}
	if c.Clock.DriftThreshold <= 0 || c.Clock.StopFlushTimeout <= 0 || c.Clock.TeardownTimeout <= 0 {
		return errors.New("clock durations must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
