// Package pipeline runs the discovery, extraction and dispatch loops.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/pacing"
)

// SourceAdapter fetches and parses one marketplace.
type SourceAdapter interface {
	Name() string
	DiscoverPage(ctx context.Context) ([]byte, error)
	ParseListingPage(raw []byte) ([]models.ListingRef, error)
	FetchDetail(ctx context.Context, detailURL string) ([]byte, error)
	// ParseDetail returns a terminal error when required attributes are
	// missing.
	ParseDetail(raw []byte) (*models.VehicleDetail, error)
}

// Outcome labels a finished cycle.
type Outcome string

const (
	OutcomeWork      Outcome = "work"
	OutcomeIdle      Outcome = "idle"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRetry     Outcome = "retry"
	OutcomeDropped   Outcome = "dropped"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeError     Outcome = "error"
)

// Loop names used in logs and metric labels.
const (
	DiscoveryLoop  = "discovery"
	ExtractionLoop = "extraction"
	DispatcherLoop = "dispatcher"
)

type cycleFunc func(ctx context.Context) (Outcome, time.Duration)

// run repeats cycle until ctx is done, sleeping for the duration each
// cycle returns. Cancellation ends the loop without an error.
func run(ctx context.Context, name string, interval *pacing.Interval, m *metrics.Metrics, logger *slog.Logger, cycle cycleFunc) error {
	logger.Info("loop started", slog.Duration("interval", interval.Current()))
	defer logger.Info("loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		outcome, wait := cycle(ctx)
		m.IncCycle(name, string(outcome))
		m.SetInterval(name, interval.Current())

		if err := sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// sleep waits for d or until ctx is done, returning ctx.Err in that case.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
