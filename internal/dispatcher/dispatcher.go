// Package dispatcher schedules pipeline runs from item-created notifications.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
	"github.com/keepsake-labs/keepsake/internal/metrics"
)

// Config tunes dispatch behavior.
type Config struct {
	// Concurrency bounds the number of pipelines in flight at once.
	Concurrency int
}

// Dispatcher consumes item ids from a Listener and hands each pending item to
// the Processor under a concurrency limit. It is the only scheduling path;
// nothing else starts pipelines.
type Dispatcher struct {
	cfg       Config
	listener  capture.Listener
	items     capture.ItemStore
	processor capture.Processor
	logger    *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Dispatcher.
func New(cfg Config, listener capture.Listener, items capture.ItemStore, processor capture.Processor, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("dispatcher concurrency must be > 0")
	}
	return &Dispatcher{
		cfg:       cfg,
		listener:  listener,
		items:     items,
		processor: processor,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Concurrency),
	}, nil
}

// Run consumes notifications until ctx finishes, then waits for in-flight
// pipelines to drain. Always returns ctx's error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", zap.Int("concurrency", d.cfg.Concurrency))

	for {
		itemID, err := d.listener.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			d.logger.Warn("notification stream error", zap.Error(err))
			continue
		}
		d.handle(ctx, itemID)
	}

	d.logger.Info("dispatcher stopping, draining in-flight pipelines")
	d.wg.Wait()
	return ctx.Err()
}

// handle validates the payload, drops non-pending items, and schedules the
// rest. Blocks while the concurrency limit is saturated.
func (d *Dispatcher) handle(ctx context.Context, itemID string) {
	if _, err := uuid.Parse(itemID); err != nil {
		metrics.ObserveNotification("invalid")
		d.logger.Warn("ignoring malformed notification payload", zap.String("payload", itemID))
		return
	}

	item, err := d.items.GetItem(ctx, itemID)
	if err != nil {
		metrics.ObserveNotification("invalid")
		d.logger.Warn("notified item not loadable", zap.String("item_id", itemID), zap.Error(err))
		return
	}

	// A double-delivered notification, or an item another path already
	// picked up. The status check keeps the race window small; the engine
	// tolerates the rest.
	if item.Status != capture.StatusPending {
		metrics.ObserveNotification("dropped")
		d.logger.Debug("dropping non-pending item",
			zap.String("item_id", itemID),
			zap.String("status", string(item.Status)),
		)
		return
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	metrics.ObserveNotification("scheduled")

	d.wg.Add(1)
	go func() {
		defer func() {
			<-d.sem
			d.wg.Done()
		}()
		d.processor.Process(ctx, item.ID, item.URL, item.RawContent)
	}()
}
