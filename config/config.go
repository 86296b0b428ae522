package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/sink"
)

const (
	StateMemory   = "memory"
	StatePebble   = "pebble"
	StatePostgres = "postgres"
)

type Config struct {
	AppName  string `json:"app_name" toml:"app_name"`
	LogLevel string `json:"log_level" toml:"log_level"`

	Source      SourceConfig      `json:"source" toml:"source"`
	Destination DestinationConfig `json:"destination" toml:"destination"`
	State       StateConfig       `json:"state" toml:"state"`
	Pipeline    PipelineConfig    `json:"pipeline" toml:"pipeline"`
	Metrics     MetricsConfig     `json:"metrics" toml:"metrics"`
	Bindings    []BindingConfig   `json:"bindings" toml:"bindings"`
}

// SourceConfig locates the MongoDB deployment whose change streams are watched.
type SourceConfig struct {
	URI      string `json:"uri" toml:"uri"`
	Database string `json:"database" toml:"database"`
}

type DestinationConfig struct {
	sink.PgConfig
	StatementTimeoutMs int `json:"statement_timeout_ms" toml:"statement_timeout_ms"`
}

type StateConfig struct {
	Type  string `json:"type" toml:"type"` // memory, pebble or postgres
	Path  string `json:"path" toml:"path"`
	DSN   string `json:"dsn" toml:"dsn"`
	Table string `json:"table" toml:"table"`
}

type PipelineConfig struct {
	QueueCapacity      int  `json:"queue_capacity" toml:"queue_capacity"`
	MaxRetry           int  `json:"max_retry" toml:"max_retry"`
	RetryInitialMs     int  `json:"retry_initial_ms" toml:"retry_initial_ms"`
	RetryMaxMs         int  `json:"retry_max_ms" toml:"retry_max_ms"`
	WatchdogIntervalMs int  `json:"watchdog_interval_ms" toml:"watchdog_interval_ms"`
	DryRun             bool `json:"dry_run" toml:"dry_run"`
}

type MetricsConfig struct {
	Address string `json:"address" toml:"address"`
}

type BindingConfig struct {
	Entity     string   `json:"entity" toml:"entity"`
	Collection string   `json:"collection" toml:"collection"`
	Table      string   `json:"table" toml:"table"`
	Fields     []string `json:"fields" toml:"fields"`
	Handler    string   `json:"handler" toml:"handler"`
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".toml"):
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		AppName:  "cdc-sentinel",
		LogLevel: "info",
		Source: SourceConfig{
			URI: "mongodb://localhost:27017",
		},
		Destination: DestinationConfig{
			PgConfig: sink.PgConfig{
				Hosts:    []string{"127.0.0.1"},
				Port:     5433,
				Username: "yugabyte",
				Database: "yugabyte",
				MaxConns: 4,
			},
			StatementTimeoutMs: int(sink.DefaultAttemptTimeout / time.Millisecond),
		},
		State: StateConfig{
			Type: StateMemory,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:  1000,
			MaxRetry:       sink.DefaultMaxRetry,
			RetryInitialMs: int(sink.DefaultRetryInitial / time.Millisecond),
			RetryMaxMs:     int(sink.DefaultRetryMax / time.Millisecond),
		},
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Source.URI == "" {
		errs = append(errs, errors.New("source.uri is required"))
	}
	if c.Source.Database == "" {
		errs = append(errs, errors.New("source.database is required"))
	}
	if !c.Pipeline.DryRun && len(c.Destination.Hosts) == 0 {
		errs = append(errs, errors.New("destination.hosts is required unless pipeline.dry_run is set"))
	}

	switch c.State.Type {
	case StateMemory:
	case StatePebble:
		if c.State.Path == "" {
			errs = append(errs, errors.New("state.path is required for pebble state"))
		}
	case StatePostgres:
		if c.State.DSN == "" {
			errs = append(errs, errors.New("state.dsn is required for postgres state"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported state type %q", c.State.Type))
	}

	for name, v := range map[string]int{
		"pipeline.queue_capacity":          c.Pipeline.QueueCapacity,
		"pipeline.max_retry":               c.Pipeline.MaxRetry,
		"pipeline.retry_initial_ms":        c.Pipeline.RetryInitialMs,
		"pipeline.retry_max_ms":            c.Pipeline.RetryMaxMs,
		"pipeline.watchdog_interval_ms":    c.Pipeline.WatchdogIntervalMs,
		"destination.statement_timeout_ms": c.Destination.StatementTimeoutMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if len(c.Bindings) == 0 {
		errs = append(errs, errors.New("at least one binding is required"))
	}
	if _, err := binding.NewRegistry(c.EntityBindings()...); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// EntityBindings converts the configured bindings. In dry-run mode every
// binding is routed to the console handler.
func (c *Config) EntityBindings() []binding.Binding {
	out := make([]binding.Binding, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		handler := b.Handler
		if c.Pipeline.DryRun {
			handler = sink.ConsoleHandlerName
		}
		out = append(out, binding.Binding{
			Entity:  binding.Entity{Name: b.Entity, Collection: b.Collection},
			Fields:  b.Fields,
			Table:   b.Table,
			Handler: handler,
		})
	}
	return out
}

func (p PipelineConfig) RetryInitial() time.Duration {
	return time.Duration(p.RetryInitialMs) * time.Millisecond
}

func (p PipelineConfig) RetryMax() time.Duration {
	return time.Duration(p.RetryMaxMs) * time.Millisecond
}

func (p PipelineConfig) WatchdogInterval() time.Duration {
	return time.Duration(p.WatchdogIntervalMs) * time.Millisecond
}

func (d DestinationConfig) StatementTimeout() time.Duration {
	return time.Duration(d.StatementTimeoutMs) * time.Millisecond
}
