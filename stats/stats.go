// Package stats maintains the rolling price statistics of vehicle
// categories.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/mateNemeth/kona2.0/metrics"
	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/store"
)

// MinSampleSize is the fewest prices a statistic is computed from.
const MinSampleSize = 5

// AgeWindow is how many years either side of a category's age are pooled.
const AgeWindow = 1

// Average returns the arithmetic mean rounded half away from zero. It
// returns 0 for an empty slice.
func Average(prices []int) int {
	if len(prices) == 0 {
		return 0
	}
	sum := 0
	for _, p := range prices {
		sum += p
	}
	return int(math.Round(float64(sum) / float64(len(prices))))
}

// Median returns the middle price. For an even count it is the rounded
// mean of the two middle prices, so Median([10 20 30 40]) is 25.
func Median(prices []int) int {
	n := len(prices)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(prices)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return int(math.Round(float64(sorted[n/2-1]+sorted[n/2]) / 2))
}

// Aggregator recomputes and stores category statistics.
type Aggregator struct {
	store   store.StatisticsStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAggregator returns an aggregator writing through s.
func NewAggregator(s store.StatisticsStore, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, metrics: m, logger: logger}
}

// Recompute pools the prices of the category's make and model within
// AgeWindow years and upserts the statistic. It reports false without
// writing when fewer than MinSampleSize prices exist.
func (a *Aggregator) Recompute(ctx context.Context, categoryID int64) (bool, error) {
	category, err := a.store.Category(ctx, categoryID)
	if err != nil {
		return false, fmt.Errorf("resolve category %d: %w", categoryID, err)
	}

	prices, err := a.store.PricesInAgeRange(ctx, category.Make, category.Model,
		category.AgeYears-AgeWindow, category.AgeYears+AgeWindow)
	if err != nil {
		return false, fmt.Errorf("gather prices for category %d: %w", categoryID, err)
	}
	if len(prices) < MinSampleSize {
		a.logger.Debug("insufficient sample for price statistic",
			slog.Int64("category_id", categoryID),
			slog.Int("samples", len(prices)),
		)
		return false, nil
	}

	stat := models.PriceStatistic{
		CategoryID: categoryID,
		Average:    Average(prices),
		Median:     Median(prices),
		SampleSize: len(prices),
	}
	if err := a.store.UpsertPriceStatistic(ctx, stat); err != nil {
		return false, fmt.Errorf("store statistic for category %d: %w", categoryID, err)
	}
	a.metrics.IncStatistics()
	return true, nil
}

// RecomputeAll recomputes every known category and returns how many
// statistics were written. It stops at the first store error.
func (a *Aggregator) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := a.store.ListCategoryIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	written := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		ok, err := a.Recompute(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}
	return written, nil
}
