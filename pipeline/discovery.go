package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/pacing"
	"github.com/mateNemeth/kona2.0/scraper"
	"github.com/mateNemeth/kona2.0/store"
)

// Discovery polls the listing page and records new listings.
type Discovery struct {
	source     SourceAdapter
	store      store.ListingStore
	interval   *pacing.Interval
	errorDelay time.Duration
	threshold  int
	seen       *lru.Cache[string, struct{}]
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewDiscovery builds the discovery loop for source. A non-positive
// SeenCacheSize disables the seen cache.
func NewDiscovery(source SourceAdapter, s store.ListingStore, cfg config.DiscoveryConfig, m *metrics.Metrics, logger *slog.Logger) (*Discovery, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discovery{
		source:     source,
		store:      s,
		interval:   pacing.NewInterval(cfg.Pacing),
		errorDelay: cfg.ErrorDelay,
		threshold:  cfg.SpeedUpThreshold,
		metrics:    m,
		logger: logger.With(
			slog.String("loop", DiscoveryLoop),
			slog.String("source", source.Name()),
		),
	}
	if cfg.SeenCacheSize > 0 {
		cache, err := lru.New[string, struct{}](cfg.SeenCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create seen cache: %w", err)
		}
		d.seen = cache
	}
	return d, nil
}

// Run polls until ctx is canceled.
func (d *Discovery) Run(ctx context.Context) error {
	return run(ctx, DiscoveryLoop, d.interval, d.metrics, d.logger, d.RunOnce)
}

// Interval returns the current polling interval.
func (d *Discovery) Interval() time.Duration {
	return d.interval.Current()
}

// RunOnce fetches one listing page and stores the listings it has not
// seen. More than threshold insertions shorten the interval, anything less
// lengthens it. Failures wait errorDelay without touching the interval.
func (d *Discovery) RunOnce(ctx context.Context) (Outcome, time.Duration) {
	raw, err := d.source.DiscoverPage(ctx)
	if err != nil {
		return d.fail(ctx, "fetch listing page", err)
	}
	refs, err := d.source.ParseListingPage(raw)
	if err != nil {
		return d.fail(ctx, "parse listing page", err)
	}

	inserted := 0
	for _, ref := range refs {
		if d.seen != nil && d.seen.Contains(ref.ExternalID) {
			continue
		}
		ok, err := d.store.InsertListing(ctx, d.source.Name(), ref)
		if err != nil {
			d.metrics.AddDiscovered(inserted)
			return d.fail(ctx, "insert listing", err)
		}
		if d.seen != nil {
			d.seen.Add(ref.ExternalID, struct{}{})
		}
		if ok {
			inserted++
		}
	}
	d.metrics.AddDiscovered(inserted)

	if inserted > d.threshold {
		d.interval.SpeedUp()
	} else {
		d.interval.SlowDown()
	}
	d.logger.Info("listing page processed",
		slog.Int("listed", len(refs)),
		slog.Int("inserted", inserted),
		slog.Duration("next_in", d.interval.Current()),
	)

	if inserted == 0 {
		return OutcomeIdle, d.interval.Current()
	}
	return OutcomeWork, d.interval.Current()
}

func (d *Discovery) fail(ctx context.Context, op string, err error) (Outcome, time.Duration) {
	if ctx.Err() != nil {
		return OutcomeError, 0
	}
	d.logger.Warn(op+" failed",
		slog.String("error_type", scraper.ErrorTypeLabel(err)),
		slog.Any("error", err),
		slog.Duration("retry_in", d.errorDelay),
	)
	return OutcomeError, d.errorDelay
}
