// Package di assembles the pipeline from a config file. Providers are lazy, so
// commands that only need the state store never connect to MongoDB or the
// destination.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/config"
	"github.com/web3tea/cdc-sentinel/coordinator"
	"github.com/web3tea/cdc-sentinel/dispatcher"
	"github.com/web3tea/cdc-sentinel/pkg/log"
	"github.com/web3tea/cdc-sentinel/sentinel"
	"github.com/web3tea/cdc-sentinel/sink"
	"github.com/web3tea/cdc-sentinel/store"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const connectTimeout = 30 * time.Second

func SetupContainer(cfgPath string) do.Injector {
	injector := do.New()

	do.ProvideNamedValue(injector, "configPath", cfgPath)
	do.Provide(injector, NewConfig)
	do.Provide(injector, NewLogger)
	do.Provide(injector, NewStateStore)
	do.Provide(injector, NewRegistry)
	do.Provide(injector, NewMongoClient)
	do.Provide(injector, NewChangeSource)
	do.Provide(injector, NewDestination)
	do.Provide(injector, NewQueue)
	do.Provide(injector, NewDispatcher)
	do.Provide(injector, NewCoordinator)
	do.Provide(injector, NewSentinel)

	return injector
}

func NewConfig(i do.Injector) (*config.Config, error) {
	return config.LoadFromFile(do.MustInvokeNamed[string](i, "configPath"))
}

// NewLogger returns the root logger and applies the configured level.
func NewLogger(i do.Injector) (*log.ZeroLogger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return log.NewLogger(cfg.AppName, nil), nil
}

func NewStateStore(i do.Injector) (*store.StateStore, error) {
	cfg := do.MustInvoke[*config.Config](i)

	var (
		kv  store.Store
		err error
	)
	switch cfg.State.Type {
	case config.StateMemory:
		kv = store.NewMemoryStore()
	case config.StatePebble:
		kv, err = store.NewPebbleStore(cfg.State.Path)
	case config.StatePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		kv, err = store.NewPostgresStore(ctx, cfg.State.DSN, cfg.State.Table)
	default:
		err = fmt.Errorf("unsupported state type %q", cfg.State.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s state store: %w", cfg.State.Type, err)
	}
	return store.NewStateStore(kv), nil
}

func NewRegistry(i do.Injector) (*binding.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return binding.NewRegistry(cfg.EntityBindings()...)
}

func NewMongoClient(i do.Injector) (*mongo.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, _, err := capturer.ConnectMongo(ctx, cfg.Source.URI, cfg.Source.Database)
	return client, err
}

func NewChangeSource(i do.Injector) (*capturer.MongoSource, error) {
	cfg := do.MustInvoke[*config.Config](i)
	client := do.MustInvoke[*mongo.Client](i)
	logger := do.MustInvoke[*log.ZeroLogger](i)

	return capturer.NewMongoSource(
		client.Database(cfg.Source.Database),
		capturer.WithMongoLogger(logger.Named("source")),
	), nil
}

func NewDestination(i do.Injector) (*sink.PgDestination, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*log.ZeroLogger](i)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return sink.NewPgDestination(ctx, cfg.Destination.PgConfig, logger.Named("destination"))
}

func NewQueue(i do.Injector) (*dispatcher.Queue, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*log.ZeroLogger](i)
	return dispatcher.NewQueue(cfg.Pipeline.QueueCapacity, logger.Named("queue")), nil
}

// NewDispatcher registers the console handler always and the SQL handler
// unless the pipeline runs dry.
func NewDispatcher(i do.Injector) (*dispatcher.Dispatcher, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*log.ZeroLogger](i)
	registry := do.MustInvoke[*binding.Registry](i)
	queue := do.MustInvoke[*dispatcher.Queue](i)
	state := do.MustInvoke[*store.StateStore](i)

	opts := []dispatcher.Option{
		dispatcher.WithLogger(logger.Named("dispatcher")),
		dispatcher.WithCheckpointer(state),
		dispatcher.WithHandler(sink.NewConsoleHandler()),
	}

	if !cfg.Pipeline.DryRun {
		dest, err := do.Invoke[*sink.PgDestination](i)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dispatcher.WithHandler(sink.NewSQLHandler(dest,
			sink.WithLogger(logger.Named("sql")),
			sink.WithMaxRetry(cfg.Pipeline.MaxRetry),
			sink.WithBackoff(cfg.Pipeline.RetryInitial(), cfg.Pipeline.RetryMax()),
			sink.WithAttemptTimeout(cfg.Destination.StatementTimeout()),
		)))
	}

	return dispatcher.New(queue, registry, opts...), nil
}

func NewCoordinator(i do.Injector) (*coordinator.Coordinator, error) {
	logger := do.MustInvoke[*log.ZeroLogger](i)
	registry := do.MustInvoke[*binding.Registry](i)
	state := do.MustInvoke[*store.StateStore](i)

	source, err := do.Invoke[*capturer.MongoSource](i)
	if err != nil {
		return nil, err
	}
	return coordinator.New(registry, source, state, logger.Named("coordinator")), nil
}

func NewSentinel(i do.Injector) (*sentinel.Sentinel, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*log.ZeroLogger](i)
	queue := do.MustInvoke[*dispatcher.Queue](i)

	worker, err := do.Invoke[*dispatcher.Dispatcher](i)
	if err != nil {
		return nil, err
	}
	listeners, err := do.Invoke[*coordinator.Coordinator](i)
	if err != nil {
		return nil, err
	}

	sl := logger.Named("sentinel")
	return sentinel.NewSentinel(listeners, worker, queue,
		sentinel.WithLogger(sl),
		sentinel.WithWatchdog(cfg.Pipeline.WatchdogInterval()),
		sentinel.WithStatusReporter(statusLogger{sl}),
	), nil
}

type statusLogger struct {
	logger capturer.Logger
}

func (s statusLogger) ReportStatus(status sentinel.Status, message string) {
	if status == sentinel.StatusError {
		s.logger.Errorf("sentinel status %s: %s", status, message)
		return
	}
	s.logger.Infof("sentinel status %s %s", status, message)
}
