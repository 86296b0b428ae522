package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"
	"github.com/web3tea/cdc-sentinel/config"
	"github.com/web3tea/cdc-sentinel/di"
	"github.com/web3tea/cdc-sentinel/metrics"
	"github.com/web3tea/cdc-sentinel/pkg/log"
	"github.com/web3tea/cdc-sentinel/sentinel"
	"github.com/web3tea/cdc-sentinel/sink"
	"github.com/web3tea/cdc-sentinel/store"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Run the change capture pipeline until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "stop-timeout",
			Usage: "how long to wait for the pipeline to stop",
			Value: 30 * time.Second,
		},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		injector := di.SetupContainer(c.String("config"))

		cfg, err := do.Invoke[*config.Config](injector)
		if err != nil {
			return err
		}
		if cfg.Metrics.Address != "" {
			metrics.Initialize()
		}

		s, err := do.Invoke[*sentinel.Sentinel](injector)
		if err != nil {
			return fmt.Errorf("failed to setup pipeline: %w", err)
		}
		defer closeResources(injector, cfg)

		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start sentinel: %w", err)
		}
		log.Infof("Sentinel started, watching %d bindings", len(cfg.Bindings))

		var server *http.Server
		if cfg.Metrics.Address != "" {
			server = &http.Server{
				Addr:              cfg.Metrics.Address,
				Handler:           newRouter(s),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("Metrics server failed: %v", err)
				}
			}()
			log.Infof("Serving /metrics and /healthz on %s", cfg.Metrics.Address)
		}

		<-ctx.Done()
		log.Infof("Shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), c.Duration("stop-timeout"))
		defer cancel()

		if server != nil {
			if err := server.Shutdown(stopCtx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}
		if err := s.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to stop sentinel: %w", err)
		}

		log.Infof("Sentinel stopped")
		return nil
	},
}

func closeResources(injector do.Injector, cfg *config.Config) {
	if state, err := do.Invoke[*store.StateStore](injector); err == nil {
		if err := state.Close(); err != nil {
			log.Warnf("Failed to close state store: %v", err)
		}
	}
	if !cfg.Pipeline.DryRun {
		if dest, err := do.Invoke[*sink.PgDestination](injector); err == nil {
			dest.Close()
		}
	}
	if client, err := do.Invoke[*mongo.Client](injector); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Warnf("Failed to disconnect from mongodb: %v", err)
		}
	}
}
