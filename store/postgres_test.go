package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/mateNemeth/kona2.0/models"
	"github.com/pashagolub/pgxmock/v3"
)

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func expectMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	for _, stmt := range migrations {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectCommit()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresInsertListing(t *testing.T) {
	s, mock := newMockStore(t)
	ref := models.ListingRef{ExternalID: "abc-1", DetailURL: "https://example.test/ajanlat/abc-1"}

	mock.ExpectExec("INSERT INTO listings").
		WithArgs("autoscout24", "abc-1", ref.DetailURL).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO listings").
		WithArgs("autoscout24", "abc-1", ref.DetailURL).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertListing(context.Background(), "autoscout24", ref)
	if err != nil || !inserted {
		t.Fatalf("first insert = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.InsertListing(context.Background(), "autoscout24", ref)
	if err != nil || inserted {
		t.Fatalf("duplicate insert = (%v, %v), want (false, nil)", inserted, err)
	}
	expectMet(t, mock)
}

func TestPostgresNextUnextracted(t *testing.T) {
	s, mock := newMockStore(t)
	discovered := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	columns := []string{"id", "source", "external_id", "detail_url", "discovered_at", "extracted"}
	mock.ExpectQuery("SELECT id, source, external_id, detail_url, discovered_at, extracted FROM listings").
		WithArgs("autoscout24").
		WillReturnRows(mock.NewRows(columns).AddRow(int64(7), "autoscout24", "abc-1", "https://example.test/a", discovered, false))
	mock.ExpectQuery("FROM listings").
		WithArgs("autoscout24").
		WillReturnRows(mock.NewRows(columns))

	l, err := s.NextUnextracted(context.Background(), "autoscout24")
	if err != nil {
		t.Fatalf("next unextracted: %v", err)
	}
	if l.ID != 7 || l.ExternalID != "abc-1" || !l.DiscoveredAt.Equal(discovered) {
		t.Fatalf("listing = %+v", l)
	}

	if _, err := s.NextUnextracted(context.Background(), "autoscout24"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresSaveExtraction(t *testing.T) {
	s, mock := newMockStore(t)
	detail := &models.VehicleDetail{
		Category: models.VehicleCategory{Make: "Skoda", Model: "Octavia", AgeYears: 2015},
		Spec: models.VehicleSpec{
			Price:        9800,
			Mileage:      154300,
			Displacement: models.IntPtr(1968),
			FuelType:     models.StringPtr("Dízel"),
			PostalCode:   models.IntPtr(1024),
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings SET extracted = true").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("WITH ins AS").
		WithArgs("Skoda", "Octavia", 2015).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO vehicle_specs").
		WithArgs(int64(7), int64(3), 9800, models.IntPtr(154300), (*int)(nil), models.IntPtr(1968),
			models.StringPtr("Dízel"), (*string)(nil), (*string)(nil), models.IntPtr(1024)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO work_queue").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	categoryID, err := s.SaveExtraction(context.Background(), 7, detail)
	if err != nil {
		t.Fatalf("save extraction: %v", err)
	}
	if categoryID != 3 {
		t.Fatalf("category id = %d, want 3", categoryID)
	}
	expectMet(t, mock)
}

func TestPostgresSaveExtractionAlreadyExtracted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings SET extracted = true").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	detail := &models.VehicleDetail{Category: models.VehicleCategory{Make: "Opel", Model: "Astra", AgeYears: 2012}}
	if _, err := s.SaveExtraction(context.Background(), 7, detail); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresSaveExtractionRollsBackOnSpecFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listings SET extracted = true").
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("WITH ins AS").
		WithArgs("Opel", "Astra", 2012).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO vehicle_specs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	detail := &models.VehicleDetail{
		Category: models.VehicleCategory{Make: "Opel", Model: "Astra", AgeYears: 2012},
		Spec:     models.VehicleSpec{Price: 4000},
	}
	if _, err := s.SaveExtraction(context.Background(), 9, detail); err == nil {
		t.Fatalf("expected error")
	}
	expectMet(t, mock)
}

func TestPostgresPricesInAgeRange(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT s.price").
		WithArgs("Skoda", "Octavia", 2014, 2016).
		WillReturnRows(mock.NewRows([]string{"price"}).AddRow(9000).AddRow(9500).AddRow(11000))

	prices, err := s.PricesInAgeRange(context.Background(), "Skoda", "Octavia", 2014, 2016)
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if len(prices) != 3 || prices[2] != 11000 {
		t.Fatalf("prices = %v", prices)
	}
	expectMet(t, mock)
}

func TestPostgresUpsertPriceStatistic(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO price_statistics").
		WithArgs(int64(3), 10000, 9800, 6).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	stat := models.PriceStatistic{CategoryID: 3, Average: 10000, Median: 9800, SampleSize: 6}
	if err := s.UpsertPriceStatistic(context.Background(), stat); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresClaimWorkItem(t *testing.T) {
	s, mock := newMockStore(t)
	enqueued := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	claimed := enqueued.Add(time.Minute)

	columns := []string{"listing_id", "in_progress", "enqueued_at", "claimed_at"}
	mock.ExpectQuery("UPDATE work_queue SET in_progress = true").
		WillReturnRows(mock.NewRows(columns).AddRow(int64(7), true, enqueued, &claimed))
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(mock.NewRows(columns))

	item, err := s.ClaimWorkItem(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if item.ListingID != 7 || !item.InProgress || item.ClaimedAt == nil || !item.ClaimedAt.Equal(claimed) {
		t.Fatalf("item = %+v", item)
	}

	if _, err := s.ClaimWorkItem(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresReleaseStaleWorkItems(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE work_queue SET in_progress = false, claimed_at = NULL WHERE in_progress").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ReleaseStaleWorkItems(context.Background(), cutoff)
	if err != nil || n != 2 {
		t.Fatalf("release stale = (%d, %v), want (2, nil)", n, err)
	}
	expectMet(t, mock)
}

func TestPostgresLoadPayload(t *testing.T) {
	s, mock := newMockStore(t)
	enqueued := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	columns := []string{
		"listing_id", "category_id", "detail_url", "make", "model", "age_years",
		"price", "mileage", "power", "displacement", "fuel_type", "transmission",
		"city", "postal_code", "enqueued_at",
	}
	mock.ExpectQuery("FROM vehicle_specs s").
		WithArgs(int64(7)).
		WillReturnRows(mock.NewRows(columns).AddRow(
			int64(7), int64(3), "https://example.test/ajanlat/a", "Skoda", "Octavia", 2015,
			models.IntPtr(9800), nil, models.IntPtr(110), nil, models.StringPtr("Dízel"), nil,
			models.StringPtr("Budapest"), models.IntPtr(1024), &enqueued,
		))
	mock.ExpectQuery("FROM vehicle_specs s").
		WithArgs(int64(8)).
		WillReturnRows(mock.NewRows(columns))

	p, err := s.LoadPayload(context.Background(), 7)
	if err != nil {
		t.Fatalf("load payload: %v", err)
	}
	if p.Make != "Skoda" || p.Price == nil || *p.Price != 9800 || p.Mileage != nil || *p.PostalCode != 1024 {
		t.Fatalf("payload = %+v", p)
	}
	if !p.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("enqueued at = %v", p.EnqueuedAt)
	}

	if _, err := s.LoadPayload(context.Background(), 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPostgresAlertFiltersAndEmails(t *testing.T) {
	s, mock := newMockStore(t)

	columns := []string{
		"id", "subscriber_id", "zipcodes", "age_min", "age_max", "price_min", "price_max",
		"displacement_min", "displacement_max", "mileage_min", "mileage_max", "power_min", "power_max",
		"fuel_type", "transmission", "make", "model",
	}
	mock.ExpectQuery("FROM alert_filters").
		WillReturnRows(mock.NewRows(columns).AddRow(
			int64(1), int64(4), []int{10, 11}, models.IntPtr(2012), nil, nil, models.IntPtr(12000),
			nil, nil, nil, nil, nil, nil,
			nil, nil, models.StringPtr("Skoda"), nil,
		))
	mock.ExpectQuery("JOIN subscribers s").
		WithArgs([]int64{1}).
		WillReturnRows(mock.NewRows([]string{"id", "email"}).AddRow(int64(1), "buyer@example.test"))

	filters, err := s.ListAlertFilters(context.Background())
	if err != nil {
		t.Fatalf("list filters: %v", err)
	}
	if len(filters) != 1 || filters[0].SubscriberID != 4 || len(filters[0].Zipcodes) != 2 || *filters[0].PriceMax != 12000 {
		t.Fatalf("filters = %+v", filters)
	}
	if filters[0].AgeMax != nil || filters[0].Make == nil || *filters[0].Make != "Skoda" {
		t.Fatalf("nullable columns = %+v", filters[0])
	}

	emails, err := s.SubscriberEmails(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("subscriber emails: %v", err)
	}
	if emails[1] != "buyer@example.test" {
		t.Fatalf("emails = %v", emails)
	}

	empty, err := s.SubscriberEmails(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty lookup = (%v, %v)", empty, err)
	}
	expectMet(t, mock)
}
