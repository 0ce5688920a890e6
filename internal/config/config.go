// Package config loads server configuration. Sources are applied in order,
// later ones winning: built-in defaults, an optional YAML file, an optional
// .env file, then HUNTSYNC_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/huntsync/internal/observability"
	"github.com/signalsfoundry/huntsync/model"
)

// Config is the complete server configuration.
type Config struct {
	HTTPAddr       string   `yaml:"http_addr" validate:"required"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	AdminGRPCAddr  string   `yaml:"admin_grpc_addr"`
	DataPath       string   `yaml:"data_path"`
	OutboxSize     int      `yaml:"outbox_size" validate:"gt=0"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	DefaultMarker model.ReferenceMarker       `yaml:"default_marker"`
	Persistence   Persistence                 `yaml:"persistence"`
	Log           Log                         `yaml:"log"`
	Tracing       observability.TracingConfig `yaml:"tracing"`
}

// Persistence tunes the asynchronous writer.
type Persistence struct {
	QueueSize      int           `yaml:"queue_size" validate:"gt=0"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" validate:"gt=0"`
	Breaker        Breaker       `yaml:"breaker"`
}

// Breaker tunes the persistence circuit breaker.
type Breaker struct {
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gt=0"`
	HalfOpenRequests uint32        `yaml:"half_open_requests" validate:"gt=0"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// Log selects the logging handler.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Options says where to look for optional configuration files.
type Options struct {
	// File is a YAML config file. Empty skips it; a missing file is an error.
	File string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		AdminGRPCAddr:  ":50051",
		DataPath:       "data/markers.json",
		OutboxSize:     256,
		AllowedOrigins: []string{"*"},
		DefaultMarker:  model.ReferenceMarker{Lat: 51.988488, Lng: 5.896824},
		Persistence: Persistence{
			QueueSize:      1024,
			EnqueueTimeout: 50 * time.Millisecond,
			Breaker: Breaker{
				FailureThreshold: 5,
				HalfOpenRequests: 1,
				OpenTimeout:      30 * time.Second,
			},
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load builds the configuration from defaults and the sources in opts.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		raw, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(bytes.NewReader(raw), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.DefaultMarker.Lat < 0 || c.DefaultMarker.Lat > 90 || c.DefaultMarker.Lng < 0 || c.DefaultMarker.Lng > 180 {
		return fmt.Errorf("invalid config: default_marker out of range: %+v", c.DefaultMarker)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("invalid config: tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

// MemoryOnly reports whether persistence is disabled.
func (c Config) MemoryOnly() bool {
	return strings.TrimSpace(c.DataPath) == ""
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("HUNTSYNC_HTTP_ADDR", &cfg.HTTPAddr)
	str("HUNTSYNC_METRICS_ADDR", &cfg.MetricsAddr)
	str("HUNTSYNC_ADMIN_GRPC_ADDR", &cfg.AdminGRPCAddr)
	str("HUNTSYNC_DATA_PATH", &cfg.DataPath)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("HUNTSYNC_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.AllowedOrigins = origins
	}

	var err error
	if cfg.OutboxSize, err = envInt("HUNTSYNC_OUTBOX_SIZE", cfg.OutboxSize); err != nil {
		return err
	}
	if cfg.Persistence.QueueSize, err = envInt("HUNTSYNC_PERSISTENCE_QUEUE_SIZE", cfg.Persistence.QueueSize); err != nil {
		return err
	}
	if cfg.Persistence.EnqueueTimeout, err = envDuration("HUNTSYNC_PERSISTENCE_ENQUEUE_TIMEOUT", cfg.Persistence.EnqueueTimeout); err != nil {
		return err
	}
	if cfg.DefaultMarker.Lat, err = envFloat("HUNTSYNC_DEFAULT_MARKER_LAT", cfg.DefaultMarker.Lat); err != nil {
		return err
	}
	if cfg.DefaultMarker.Lng, err = envFloat("HUNTSYNC_DEFAULT_MARKER_LNG", cfg.DefaultMarker.Lng); err != nil {
		return err
	}

	cfg.Tracing = cfg.Tracing.ApplyEnv()
	return nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
