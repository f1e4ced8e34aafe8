package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/pacing"
	"github.com/mateNemeth/kona2.0/scraper"
	"github.com/mateNemeth/kona2.0/store"
)

// ExtractionStore is the store surface the extraction loop writes to.
type ExtractionStore interface {
	store.ListingStore
	store.ExtractionStore
}

// Recomputer refreshes the price statistic of a category.
type Recomputer interface {
	Recompute(ctx context.Context, categoryID int64) (bool, error)
}

// Extraction fetches detail pages of discovered listings one at a time.
type Extraction struct {
	source   SourceAdapter
	store    ExtractionStore
	stats    Recomputer
	interval *pacing.Interval
	retry    *pacing.RetryPolicy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewExtraction builds the extraction loop. stats may be nil.
func NewExtraction(source SourceAdapter, s ExtractionStore, stats Recomputer, cfg config.ExtractionConfig, m *metrics.Metrics, logger *slog.Logger) *Extraction {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extraction{
		source:   source,
		store:    s,
		stats:    stats,
		interval: pacing.NewInterval(cfg.Pacing),
		retry:    pacing.NewRetryPolicy(cfg.MaxErrors),
		metrics:  m,
		logger: logger.With(
			slog.String("loop", ExtractionLoop),
			slog.String("source", source.Name()),
		),
	}
}

// Run extracts until ctx is canceled.
func (e *Extraction) Run(ctx context.Context) error {
	return run(ctx, ExtractionLoop, e.interval, e.metrics, e.logger, e.RunOnce)
}

// Interval returns the current polling interval.
func (e *Extraction) Interval() time.Duration {
	return e.interval.Current()
}

// RunOnce processes the oldest unextracted listing, if any.
func (e *Extraction) RunOnce(ctx context.Context) (Outcome, time.Duration) {
	listing, err := e.store.NextUnextracted(ctx, e.source.Name())
	if errors.Is(err, store.ErrNotFound) {
		e.interval.SlowDown()
		e.logger.Debug("no listing to extract", slog.Duration("next_in", e.interval.Current()))
		return OutcomeIdle, e.interval.Current()
	}
	if err != nil {
		return e.fail(ctx, nil, err)
	}

	log := e.logger.With(
		slog.Int64("listing_id", listing.ID),
		slog.String("url", listing.DetailURL),
	)

	detail, err := e.extract(ctx, listing)
	if err != nil {
		return e.fail(ctx, listing, err)
	}

	categoryID, err := e.store.SaveExtraction(ctx, listing.ID, detail)
	if errors.Is(err, store.ErrNotFound) {
		e.retry.Reset()
		log.Info("listing vanished before it was saved")
		return OutcomeSkipped, e.interval.Current()
	}
	if err != nil {
		return e.fail(ctx, listing, err)
	}

	e.retry.Reset()
	e.metrics.IncExtracted()
	e.interval.SpeedUp()
	log.Info("listing extracted",
		slog.String("make", detail.Category.Make),
		slog.String("model", detail.Category.Model),
		slog.Int("age", detail.Category.AgeYears),
		slog.Int("price", detail.Spec.Price),
		slog.Int64("category_id", categoryID),
	)

	if e.stats != nil {
		if _, err := e.stats.Recompute(ctx, categoryID); err != nil {
			log.Warn("price statistic update failed",
				slog.Int64("category_id", categoryID),
				slog.Any("error", err),
			)
		}
	}
	return OutcomeWork, e.interval.Current()
}

func (e *Extraction) extract(ctx context.Context, listing *models.Listing) (*models.VehicleDetail, error) {
	raw, err := e.source.FetchDetail(ctx, listing.DetailURL)
	if err != nil {
		return nil, err
	}
	return e.source.ParseDetail(raw)
}

// fail applies the retry policy. Terminal errors delete the listing and
// continue at once; transient errors lengthen the interval and retry
// until the policy abandons the cycle.
func (e *Extraction) fail(ctx context.Context, listing *models.Listing, err error) (Outcome, time.Duration) {
	if ctx.Err() != nil {
		return OutcomeError, 0
	}
	label := scraper.ErrorTypeLabel(err)
	log := e.logger
	if listing != nil {
		log = log.With(slog.Int64("listing_id", listing.ID))
	}

	decision := e.retry.Record(err)
	if decision == pacing.Drop && listing != nil {
		if delErr := e.store.DeleteListing(ctx, listing.ID); delErr != nil {
			log.Error("delete failed listing",
				slog.Any("error", delErr),
				slog.Any("cause", err),
			)
			e.interval.SlowDown()
			return OutcomeError, e.interval.Current()
		}
		e.metrics.IncDropped(label)
		log.Warn("listing dropped",
			slog.String("error_type", label),
			slog.Any("error", err),
		)
		return OutcomeDropped, 0
	}

	e.interval.SlowDown()
	if decision == pacing.Abandon {
		log.Warn("abandoning listing after repeated failures",
			slog.String("error_type", label),
			slog.Any("error", err),
			slog.Duration("next_in", e.interval.Current()),
		)
		return OutcomeAbandoned, e.interval.Current()
	}
	log.Warn("extraction failed, retrying",
		slog.String("error_type", label),
		slog.Int("failures", e.retry.Failures()),
		slog.Any("error", err),
		slog.Duration("retry_in", e.interval.Current()),
	)
	return OutcomeRetry, e.interval.Current()
}
