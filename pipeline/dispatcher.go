package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/notify"
	"github.com/mateNemeth/kona2.0/pacing"
	"github.com/mateNemeth/kona2.0/store"
)

// Dispatcher drains the work queue and hands every payload to the
// notifiers.
type Dispatcher struct {
	queue         store.QueueStore
	notifiers     []notify.Notifier
	interval      *pacing.Interval
	notifyTimeout time.Duration
	staleAfter    time.Duration
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewDispatcher builds the dispatch loop.
func NewDispatcher(queue store.QueueStore, notifiers []notify.Notifier, cfg config.DispatcherConfig, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:         queue,
		notifiers:     notifiers,
		interval:      pacing.NewInterval(cfg.Pacing),
		notifyTimeout: cfg.NotifyTimeout,
		staleAfter:    cfg.StaleAfter,
		now:           time.Now,
		metrics:       m,
		logger:        logger.With(slog.String("loop", DispatcherLoop)),
	}
}

// Run releases stale claims, then dispatches until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if _, err := d.RecoverStale(ctx); err != nil {
		d.logger.Warn("stale work item recovery failed", slog.Any("error", err))
	}
	return run(ctx, DispatcherLoop, d.interval, d.metrics, d.logger, d.RunOnce)
}

// Interval returns the current polling interval.
func (d *Dispatcher) Interval() time.Duration {
	return d.interval.Current()
}

// RecoverStale unclaims items claimed more than staleAfter ago.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int64, error) {
	if d.staleAfter <= 0 {
		return 0, nil
	}
	released, err := d.queue.ReleaseStaleWorkItems(ctx, d.now().Add(-d.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("release stale work items: %w", err)
	}
	if released > 0 {
		d.logger.Info("released stale work items", slog.Int64("count", released))
	}
	return released, nil
}

// RunOnce claims and dispatches one work item. The item is deleted before
// the notifiers run, so delivery is attempted at most once.
func (d *Dispatcher) RunOnce(ctx context.Context) (Outcome, time.Duration) {
	item, err := d.queue.ClaimWorkItem(ctx)
	if errors.Is(err, store.ErrNotFound) {
		d.interval.SlowDown()
		d.logger.Debug("work queue empty", slog.Duration("next_in", d.interval.Current()))
		return OutcomeIdle, d.interval.Current()
	}
	if err != nil {
		return d.fail(ctx, "claim work item", err)
	}

	log := d.logger.With(slog.Int64("listing_id", item.ListingID))

	payload, err := d.queue.LoadPayload(ctx, item.ListingID)
	if errors.Is(err, store.ErrNotFound) {
		if delErr := d.queue.DeleteWorkItem(ctx, item.ListingID); delErr != nil {
			return d.fail(ctx, "delete orphaned work item", delErr)
		}
		d.metrics.IncDropped("missing_spec")
		log.Warn("work item without spec dropped")
		return OutcomeDropped, d.interval.Current()
	}
	if err != nil {
		d.release(ctx, item.ListingID)
		return d.fail(ctx, "load payload", err)
	}

	if err := d.queue.DeleteWorkItem(ctx, item.ListingID); err != nil {
		d.release(ctx, item.ListingID)
		return d.fail(ctx, "delete work item", err)
	}

	d.notify(ctx, *payload)
	d.interval.SpeedUp()
	log.Info("work item dispatched",
		slog.Int("notifiers", len(d.notifiers)),
		slog.Duration("next_in", d.interval.Current()),
	)
	return OutcomeWork, d.interval.Current()
}

// notify runs every notifier concurrently and waits for all of them. A
// failing or panicking notifier does not affect the others.
func (d *Dispatcher) notify(ctx context.Context, payload models.VehiclePayload) {
	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n notify.Notifier) {
			defer wg.Done()
			d.notifyOne(ctx, n, payload)
		}(n)
	}
	wg.Wait()
}

func (d *Dispatcher) notifyOne(ctx context.Context, n notify.Notifier, payload models.VehiclePayload) {
	log := d.logger.With(
		slog.String("notifier", n.Name()),
		slog.Int64("listing_id", payload.ListingID),
	)
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncNotification(n.Name(), "panic")
			log.Error("notifier panicked", slog.Any("panic", r))
		}
	}()

	if d.notifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.notifyTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := n.Notify(ctx, payload); err != nil {
		d.metrics.IncNotification(n.Name(), "failed")
		log.Error("notifier failed", slog.Any("error", err))
		return
	}
	d.metrics.IncNotification(n.Name(), "ok")
	log.Debug("notifier finished", slog.Duration("took", time.Since(start)))
}

func (d *Dispatcher) release(ctx context.Context, listingID int64) {
	if err := d.queue.ReleaseWorkItem(ctx, listingID); err != nil {
		d.logger.Error("release work item",
			slog.Int64("listing_id", listingID),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) fail(ctx context.Context, op string, err error) (Outcome, time.Duration) {
	if ctx.Err() != nil {
		return OutcomeError, 0
	}
	d.interval.SlowDown()
	d.logger.Error(op+" failed",
		slog.Any("error", err),
		slog.Duration("next_in", d.interval.Current()),
	)
	return OutcomeError, d.interval.Current()
}
