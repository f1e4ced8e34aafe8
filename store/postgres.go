package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/models"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres implements Store on PostgreSQL.
type Postgres struct {
	db DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Postgres) Close() {
	p.db.Close()
}

const insertListingSQL = `
INSERT INTO listings (source, external_id, detail_url)
VALUES ($1, $2, $3)
ON CONFLICT (source, external_id) DO NOTHING`

func (p *Postgres) InsertListing(ctx context.Context, source string, ref models.ListingRef) (bool, error) {
	tag, err := p.db.Exec(ctx, insertListingSQL, source, ref.ExternalID, ref.DetailURL)
	if err != nil {
		return false, fmt.Errorf("insert listing %s: %w", ref.ExternalID, err)
	}
	return tag.RowsAffected() == 1, nil
}

const nextUnextractedSQL = `
SELECT id, source, external_id, detail_url, discovered_at, extracted
FROM listings
WHERE source = $1 AND NOT extracted
ORDER BY id
LIMIT 1`

func (p *Postgres) NextUnextracted(ctx context.Context, source string) (*models.Listing, error) {
	var l models.Listing
	err := p.db.QueryRow(ctx, nextUnextractedSQL, source).Scan(
		&l.ID, &l.Source, &l.ExternalID, &l.DetailURL, &l.DiscoveredAt, &l.Extracted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next unextracted listing: %w", err)
	}
	return &l, nil
}

func (p *Postgres) DeleteListing(ctx context.Context, id int64) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete listing %d: %w", id, err)
	}
	return nil
}

const upsertCategorySQL = `
WITH ins AS (
	INSERT INTO vehicle_categories (make, model, age_years)
	VALUES ($1, $2, $3)
	ON CONFLICT (make, model, age_years) DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM vehicle_categories WHERE make = $1 AND model = $2 AND age_years = $3
LIMIT 1`

const markExtractedSQL = `UPDATE listings SET extracted = true WHERE id = $1 AND NOT extracted`

const insertSpecSQL = `
INSERT INTO vehicle_specs (
	listing_id, category_id, price, mileage, power, displacement,
	fuel_type, transmission, city, postal_code
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const enqueueSQL = `INSERT INTO work_queue (listing_id) VALUES ($1) ON CONFLICT (listing_id) DO NOTHING`

func (p *Postgres) SaveExtraction(ctx context.Context, listingID int64, detail *models.VehicleDetail) (int64, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin extraction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, markExtractedSQL, listingID)
	if err != nil {
		return 0, fmt.Errorf("mark listing %d extracted: %w", listingID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	c := detail.Category
	var categoryID int64
	if err := tx.QueryRow(ctx, upsertCategorySQL, c.Make, c.Model, c.AgeYears).Scan(&categoryID); err != nil {
		return 0, fmt.Errorf("upsert category %s %s %d: %w", c.Make, c.Model, c.AgeYears, err)
	}

	s := detail.Spec
	if _, err := tx.Exec(ctx, insertSpecSQL,
		listingID, categoryID, s.Price,
		models.NullableInt(s.Mileage), models.NullableInt(s.Power), s.Displacement,
		s.FuelType, s.Transmission, s.City, s.PostalCode,
	); err != nil {
		return 0, fmt.Errorf("insert spec for listing %d: %w", listingID, err)
	}

	if _, err := tx.Exec(ctx, enqueueSQL, listingID); err != nil {
		return 0, fmt.Errorf("enqueue listing %d: %w", listingID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit extraction: %w", err)
	}
	return categoryID, nil
}

func (p *Postgres) Category(ctx context.Context, id int64) (*models.VehicleCategory, error) {
	var c models.VehicleCategory
	err := p.db.QueryRow(ctx,
		`SELECT id, make, model, age_years FROM vehicle_categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Make, &c.Model, &c.AgeYears)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load category %d: %w", id, err)
	}
	return &c, nil
}

const pricesInAgeRangeSQL = `
SELECT s.price
FROM vehicle_specs s
JOIN vehicle_categories c ON c.id = s.category_id
WHERE c.make = $1 AND c.model = $2 AND c.age_years BETWEEN $3 AND $4`

func (p *Postgres) PricesInAgeRange(ctx context.Context, vehicleMake, model string, minAge, maxAge int) ([]int, error) {
	rows, err := p.db.Query(ctx, pricesInAgeRangeSQL, vehicleMake, model, minAge, maxAge)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var prices []int
	for rows.Next() {
		var price int
		if err := rows.Scan(&price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, price)
	}
	return prices, rows.Err()
}

const upsertStatisticSQL = `
INSERT INTO price_statistics (category_id, average, median, sample_size, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (category_id) DO UPDATE
SET average = EXCLUDED.average,
	median = EXCLUDED.median,
	sample_size = EXCLUDED.sample_size,
	updated_at = EXCLUDED.updated_at`

func (p *Postgres) UpsertPriceStatistic(ctx context.Context, stat models.PriceStatistic) error {
	if _, err := p.db.Exec(ctx, upsertStatisticSQL, stat.CategoryID, stat.Average, stat.Median, stat.SampleSize); err != nil {
		return fmt.Errorf("upsert price statistic %d: %w", stat.CategoryID, err)
	}
	return nil
}

func (p *Postgres) PriceStatistic(ctx context.Context, categoryID int64) (*models.PriceStatistic, error) {
	var s models.PriceStatistic
	err := p.db.QueryRow(ctx,
		`SELECT category_id, average, median, sample_size, updated_at FROM price_statistics WHERE category_id = $1`,
		categoryID,
	).Scan(&s.CategoryID, &s.Average, &s.Median, &s.SampleSize, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load price statistic %d: %w", categoryID, err)
	}
	return &s, nil
}

func (p *Postgres) ListCategoryIDs(ctx context.Context) ([]int64, error) {
	rows, err := p.db.Query(ctx, `SELECT id FROM vehicle_categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const claimWorkItemSQL = `
UPDATE work_queue
SET in_progress = true, claimed_at = now()
WHERE listing_id = (
	SELECT listing_id FROM work_queue
	WHERE NOT in_progress
	ORDER BY enqueued_at, listing_id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) AND NOT in_progress
RETURNING listing_id, in_progress, enqueued_at, claimed_at`

func (p *Postgres) ClaimWorkItem(ctx context.Context) (*models.WorkItem, error) {
	var w models.WorkItem
	err := p.db.QueryRow(ctx, claimWorkItemSQL).Scan(&w.ListingID, &w.InProgress, &w.EnqueuedAt, &w.ClaimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim work item: %w", err)
	}
	return &w, nil
}

func (p *Postgres) ReleaseWorkItem(ctx context.Context, listingID int64) error {
	if _, err := p.db.Exec(ctx,
		`UPDATE work_queue SET in_progress = false, claimed_at = NULL WHERE listing_id = $1`, listingID,
	); err != nil {
		return fmt.Errorf("release work item %d: %w", listingID, err)
	}
	return nil
}

func (p *Postgres) ReleaseStaleWorkItems(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE work_queue SET in_progress = false, claimed_at = NULL WHERE in_progress AND claimed_at < $1`, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale work items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) DeleteWorkItem(ctx context.Context, listingID int64) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM work_queue WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("delete work item %d: %w", listingID, err)
	}
	return nil
}

const loadPayloadSQL = `
SELECT s.listing_id, s.category_id, l.detail_url, c.make, c.model, c.age_years,
	s.price, s.mileage, s.power, s.displacement, s.fuel_type, s.transmission,
	s.city, s.postal_code, q.enqueued_at
FROM vehicle_specs s
JOIN vehicle_categories c ON c.id = s.category_id
JOIN listings l ON l.id = s.listing_id
LEFT JOIN work_queue q ON q.listing_id = s.listing_id
WHERE s.listing_id = $1`

func (p *Postgres) LoadPayload(ctx context.Context, listingID int64) (*models.VehiclePayload, error) {
	var (
		v          models.VehiclePayload
		enqueuedAt *time.Time
	)
	err := p.db.QueryRow(ctx, loadPayloadSQL, listingID).Scan(
		&v.ListingID, &v.CategoryID, &v.DetailURL, &v.Make, &v.Model, &v.AgeYears,
		&v.Price, &v.Mileage, &v.Power, &v.Displacement, &v.FuelType, &v.Transmission,
		&v.City, &v.PostalCode, &enqueuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payload %d: %w", listingID, err)
	}
	if enqueuedAt != nil {
		v.EnqueuedAt = *enqueuedAt
	}
	return &v, nil
}

const listAlertFiltersSQL = `
SELECT id, subscriber_id, zipcodes, age_min, age_max, price_min, price_max,
	displacement_min, displacement_max, mileage_min, mileage_max, power_min, power_max,
	fuel_type, transmission, make, model
FROM alert_filters
ORDER BY id`

func (p *Postgres) ListAlertFilters(ctx context.Context) ([]models.AlertFilter, error) {
	rows, err := p.db.Query(ctx, listAlertFiltersSQL)
	if err != nil {
		return nil, fmt.Errorf("query alert filters: %w", err)
	}
	defer rows.Close()

	var filters []models.AlertFilter
	for rows.Next() {
		var f models.AlertFilter
		if err := rows.Scan(
			&f.ID, &f.SubscriberID, &f.Zipcodes, &f.AgeMin, &f.AgeMax, &f.PriceMin, &f.PriceMax,
			&f.DisplacementMin, &f.DisplacementMax, &f.MileageMin, &f.MileageMax, &f.PowerMin, &f.PowerMax,
			&f.FuelType, &f.Transmission, &f.Make, &f.Model,
		); err != nil {
			return nil, fmt.Errorf("scan alert filter: %w", err)
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

const subscriberEmailsSQL = `
SELECT f.id, s.email
FROM alert_filters f
JOIN subscribers s ON s.id = f.subscriber_id
WHERE f.id = ANY($1)`

func (p *Postgres) SubscriberEmails(ctx context.Context, filterIDs []int64) (map[int64]string, error) {
	emails := make(map[int64]string, len(filterIDs))
	if len(filterIDs) == 0 {
		return emails, nil
	}
	rows, err := p.db.Query(ctx, subscriberEmailsSQL, filterIDs)
	if err != nil {
		return nil, fmt.Errorf("query subscriber emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			email string
		)
		if err := rows.Scan(&id, &email); err != nil {
			return nil, fmt.Errorf("scan subscriber email: %w", err)
		}
		emails[id] = email
	}
	return emails, rows.Err()
}
