// Package store persists listings, extracted specs, price statistics, the
// dispatch work queue and subscriber alert filters.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mateNemeth/kona2.0/models"
)

// ErrNotFound is returned when a lookup or claim matches no row.
var ErrNotFound = errors.New("store: not found")

// ListingStore is used by discovery and extraction.
type ListingStore interface {
	// InsertListing stores ref unless (source, external id) is already
	// known. It reports whether a row was inserted.
	InsertListing(ctx context.Context, source string, ref models.ListingRef) (bool, error)
	// NextUnextracted returns the oldest listing of source still waiting for
	// extraction, or ErrNotFound.
	NextUnextracted(ctx context.Context, source string) (*models.Listing, error)
	DeleteListing(ctx context.Context, id int64) error
}

// ExtractionStore persists a parsed detail page.
type ExtractionStore interface {
	// SaveExtraction looks up or creates the category, inserts the spec,
	// flags the listing extracted and enqueues it for dispatch in one
	// transaction. It returns ErrNotFound when the listing is gone or was
	// already extracted.
	SaveExtraction(ctx context.Context, listingID int64, detail *models.VehicleDetail) (int64, error)
}

// StatisticsStore backs the price statistics aggregator.
type StatisticsStore interface {
	Category(ctx context.Context, id int64) (*models.VehicleCategory, error)
	// PricesInAgeRange returns the price of every spec whose category has
	// make and model and an age within [minAge, maxAge].
	PricesInAgeRange(ctx context.Context, vehicleMake, model string, minAge, maxAge int) ([]int, error)
	UpsertPriceStatistic(ctx context.Context, stat models.PriceStatistic) error
	PriceStatistic(ctx context.Context, categoryID int64) (*models.PriceStatistic, error)
	ListCategoryIDs(ctx context.Context) ([]int64, error)
}

// QueueStore is the dispatcher's view of the work queue.
type QueueStore interface {
	// ClaimWorkItem marks the oldest unclaimed item in progress and returns
	// it, or ErrNotFound when the queue holds none.
	ClaimWorkItem(ctx context.Context) (*models.WorkItem, error)
	ReleaseWorkItem(ctx context.Context, listingID int64) error
	// ReleaseStaleWorkItems unclaims items claimed before olderThan.
	ReleaseStaleWorkItems(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteWorkItem(ctx context.Context, listingID int64) error
	// LoadPayload joins spec, category and listing, or returns ErrNotFound.
	LoadPayload(ctx context.Context, listingID int64) (*models.VehiclePayload, error)
}

// AlertStore exposes subscriber filters to the alert notifier.
type AlertStore interface {
	ListAlertFilters(ctx context.Context) ([]models.AlertFilter, error)
	// SubscriberEmails maps each filter id to its owner's address.
	SubscriberEmails(ctx context.Context, filterIDs []int64) (map[int64]string, error)
}

// Store is the full persistence surface.
type Store interface {
	ListingStore
	ExtractionStore
	StatisticsStore
	QueueStore
	AlertStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
