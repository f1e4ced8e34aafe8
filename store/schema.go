package store

// migrations creates the schema. Every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id            BIGSERIAL PRIMARY KEY,
		source        TEXT NOT NULL,
		external_id   TEXT NOT NULL,
		detail_url    TEXT NOT NULL,
		discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		extracted     BOOLEAN NOT NULL DEFAULT false,
		UNIQUE (source, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS listings_pending_idx ON listings (source, id) WHERE NOT extracted`,
	`CREATE TABLE IF NOT EXISTS vehicle_categories (
		id        BIGSERIAL PRIMARY KEY,
		make      TEXT NOT NULL,
		model     TEXT NOT NULL,
		age_years INTEGER NOT NULL,
		UNIQUE (make, model, age_years)
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_specs (
		listing_id   BIGINT PRIMARY KEY REFERENCES listings (id) ON DELETE CASCADE,
		category_id  BIGINT NOT NULL REFERENCES vehicle_categories (id),
		price        INTEGER NOT NULL,
		mileage      INTEGER,
		power        INTEGER,
		displacement INTEGER,
		fuel_type    TEXT,
		transmission TEXT,
		city         TEXT,
		postal_code  INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS vehicle_specs_category_idx ON vehicle_specs (category_id)`,
	`CREATE TABLE IF NOT EXISTS price_statistics (
		category_id BIGINT PRIMARY KEY REFERENCES vehicle_categories (id),
		average     INTEGER NOT NULL,
		median      INTEGER NOT NULL,
		sample_size INTEGER NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS work_queue (
		listing_id  BIGINT PRIMARY KEY REFERENCES listings (id) ON DELETE CASCADE,
		in_progress BOOLEAN NOT NULL DEFAULT false,
		enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		claimed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS work_queue_pending_idx ON work_queue (enqueued_at, listing_id) WHERE NOT in_progress`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		id    BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS alert_filters (
		id               BIGSERIAL PRIMARY KEY,
		subscriber_id    BIGINT NOT NULL REFERENCES subscribers (id) ON DELETE CASCADE,
		zipcodes         INTEGER[],
		age_min          INTEGER,
		age_max          INTEGER,
		price_min        INTEGER,
		price_max        INTEGER,
		displacement_min INTEGER,
		displacement_max INTEGER,
		mileage_min      INTEGER,
		mileage_max      INTEGER,
		power_min        INTEGER,
		power_max        INTEGER,
		fuel_type        TEXT,
		transmission     TEXT,
		make             TEXT,
		model            TEXT
	)`,
}
