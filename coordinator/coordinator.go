// Package coordinator decides which entities to watch and starts the change
// source from their last persisted positions.
package coordinator

import (
	"context"
	"fmt"

	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/metrics"
)

// TokenLoader reads the last saved resume token of a watched type.
type TokenLoader interface {
	LastToken(ctx context.Context, key string) (token string, ok bool, err error)
}

type Coordinator struct {
	catalog binding.Catalog
	source  capturer.ChangeSource
	tokens  TokenLoader
	logger  capturer.Logger
}

// New returns a Coordinator. A nil TokenLoader starts every listener from now.
func New(catalog binding.Catalog, source capturer.ChangeSource, tokens TokenLoader, logger capturer.Logger) *Coordinator {
	if logger == nil {
		logger = capturer.NoopLogger()
	}
	return &Coordinator{
		catalog: catalog,
		source:  source,
		tokens:  tokens,
		logger:  logger,
	}
}

// TrackingInfos builds one TrackingInfo per watched entity. Tokens are read
// once per entity, keyed by entity name.
func (c *Coordinator) TrackingInfos(ctx context.Context, sub capturer.Subscriber) ([]capturer.TrackingInfo, error) {
	entities := c.catalog.Entities()
	infos := make([]capturer.TrackingInfo, 0, len(entities))

	for _, entity := range entities {
		info := capturer.TrackingInfo{Entity: entity, Subscriber: sub}

		if c.tokens != nil {
			token, ok, err := c.tokens.LastToken(ctx, entity.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to load resume token for %s: %w", entity.Name, err)
			}
			if ok {
				info.LastToken = token
			}
		}

		if info.LastToken == "" {
			c.logger.Infof("%s (%s): no saved position, streaming from now", entity.Name, entity.Collection)
		} else {
			c.logger.Infof("%s (%s): resuming from saved position", entity.Name, entity.Collection)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// StartChangeListeners starts the change source for every watched entity.
// It must not be called concurrently.
func (c *Coordinator) StartChangeListeners(ctx context.Context, sub capturer.Subscriber) error {
	infos, err := c.TrackingInfos(ctx, sub)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("no entities are bound, nothing to watch")
	}

	if err := c.source.Start(ctx, infos); err != nil {
		return fmt.Errorf("failed to start change source: %w", err)
	}
	metrics.ListenersAlive.Set(1)
	return nil
}

func (c *Coordinator) IsAnyChangeListenerAlive() bool {
	alive := c.source.IsAlive()
	if alive {
		metrics.ListenersAlive.Set(1)
	} else {
		metrics.ListenersAlive.Set(0)
	}
	return alive
}

func (c *Coordinator) StopChangeListeners() error {
	defer metrics.ListenersAlive.Set(0)

	if err := c.source.Stop(); err != nil {
		return fmt.Errorf("failed to stop change source: %w", err)
	}
	return nil
}
