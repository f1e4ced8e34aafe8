package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mateNemeth/kona2.0/models"
)

// Memory implements Store in process memory. It is used by tests and by
// the "memory" driver for offline runs.
type Memory struct {
	mu sync.Mutex

	now func() time.Time

	nextListingID    int64
	nextCategoryID   int64
	nextSubscriberID int64
	nextFilterID     int64

	listings    map[int64]*models.Listing
	categories  map[int64]*models.VehicleCategory
	specs       map[int64]*models.VehicleSpec
	statistics  map[int64]*models.PriceStatistic
	queue       map[int64]*models.WorkItem
	subscribers map[int64]*models.Subscriber
	filters     map[int64]*models.AlertFilter
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		listings:    make(map[int64]*models.Listing),
		categories:  make(map[int64]*models.VehicleCategory),
		specs:       make(map[int64]*models.VehicleSpec),
		statistics:  make(map[int64]*models.PriceStatistic),
		queue:       make(map[int64]*models.WorkItem),
		subscribers: make(map[int64]*models.Subscriber),
		filters:     make(map[int64]*models.AlertFilter),
	}
}

// SetClock replaces the time source used for timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) InsertListing(_ context.Context, source string, ref models.ListingRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.listings {
		if l.Source == source && l.ExternalID == ref.ExternalID {
			return false, nil
		}
	}
	m.nextListingID++
	m.listings[m.nextListingID] = &models.Listing{
		ID:           m.nextListingID,
		Source:       source,
		ExternalID:   ref.ExternalID,
		DetailURL:    ref.DetailURL,
		DiscoveredAt: m.now(),
	}
	return true, nil
}

func (m *Memory) NextUnextracted(_ context.Context, source string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *models.Listing
	for _, l := range m.listings {
		if l.Source != source || l.Extracted {
			continue
		}
		if next == nil || l.ID < next.ID {
			next = l
		}
	}
	if next == nil {
		return nil, ErrNotFound
	}
	out := *next
	return &out, nil
}

func (m *Memory) DeleteListing(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.listings, id)
	delete(m.specs, id)
	delete(m.queue, id)
	return nil
}

func (m *Memory) SaveExtraction(_ context.Context, listingID int64, detail *models.VehicleDetail) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingID]
	if !ok || l.Extracted {
		return 0, ErrNotFound
	}

	c := detail.Category
	categoryID := int64(0)
	for _, existing := range m.categories {
		if existing.Make == c.Make && existing.Model == c.Model && existing.AgeYears == c.AgeYears {
			categoryID = existing.ID
			break
		}
	}
	if categoryID == 0 {
		m.nextCategoryID++
		categoryID = m.nextCategoryID
		m.categories[categoryID] = &models.VehicleCategory{
			ID:       categoryID,
			Make:     c.Make,
			Model:    c.Model,
			AgeYears: c.AgeYears,
		}
	}

	spec := detail.Spec
	spec.ListingID = listingID
	spec.CategoryID = categoryID
	m.specs[listingID] = &spec
	l.Extracted = true
	if _, queued := m.queue[listingID]; !queued {
		m.queue[listingID] = &models.WorkItem{ListingID: listingID, EnqueuedAt: m.now()}
	}
	return categoryID, nil
}

func (m *Memory) Category(_ context.Context, id int64) (*models.VehicleCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.categories[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *Memory) PricesInAgeRange(_ context.Context, vehicleMake, model string, minAge, maxAge int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prices []int
	for _, s := range m.specs {
		c, ok := m.categories[s.CategoryID]
		if !ok || c.Make != vehicleMake || c.Model != model {
			continue
		}
		if c.AgeYears < minAge || c.AgeYears > maxAge {
			continue
		}
		prices = append(prices, s.Price)
	}
	return prices, nil
}

func (m *Memory) UpsertPriceStatistic(_ context.Context, stat models.PriceStatistic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stat.UpdatedAt = m.now()
	m.statistics[stat.CategoryID] = &stat
	return nil
}

func (m *Memory) PriceStatistic(_ context.Context, categoryID int64) (*models.PriceStatistic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statistics[categoryID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *Memory) ListCategoryIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.categories))
	for id := range m.categories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) ClaimWorkItem(context.Context) (*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *models.WorkItem
	for _, w := range m.queue {
		if w.InProgress {
			continue
		}
		if next == nil || w.EnqueuedAt.Before(next.EnqueuedAt) ||
			(w.EnqueuedAt.Equal(next.EnqueuedAt) && w.ListingID < next.ListingID) {
			next = w
		}
	}
	if next == nil {
		return nil, ErrNotFound
	}
	claimedAt := m.now()
	next.InProgress = true
	next.ClaimedAt = &claimedAt
	out := *next
	return &out, nil
}

func (m *Memory) ReleaseWorkItem(_ context.Context, listingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.queue[listingID]; ok {
		w.InProgress = false
		w.ClaimedAt = nil
	}
	return nil
}

func (m *Memory) ReleaseStaleWorkItems(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released int64
	for _, w := range m.queue {
		if w.InProgress && w.ClaimedAt != nil && w.ClaimedAt.Before(olderThan) {
			w.InProgress = false
			w.ClaimedAt = nil
			released++
		}
	}
	return released, nil
}

func (m *Memory) DeleteWorkItem(_ context.Context, listingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.queue, listingID)
	return nil
}

func (m *Memory) LoadPayload(_ context.Context, listingID int64) (*models.VehiclePayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	c, ok := m.categories[s.CategoryID]
	if !ok {
		return nil, ErrNotFound
	}
	l, ok := m.listings[listingID]
	if !ok {
		return nil, ErrNotFound
	}

	p := &models.VehiclePayload{
		ListingID:    listingID,
		CategoryID:   c.ID,
		DetailURL:    l.DetailURL,
		Make:         c.Make,
		Model:        c.Model,
		AgeYears:     c.AgeYears,
		Price:        models.IntPtr(s.Price),
		Mileage:      models.NullableInt(s.Mileage),
		Power:        models.NullableInt(s.Power),
		Displacement: s.Displacement,
		FuelType:     s.FuelType,
		Transmission: s.Transmission,
		City:         s.City,
		PostalCode:   s.PostalCode,
	}
	if w, ok := m.queue[listingID]; ok {
		p.EnqueuedAt = w.EnqueuedAt
	}
	return p, nil
}

func (m *Memory) ListAlertFilters(context.Context) ([]models.AlertFilter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filters := make([]models.AlertFilter, 0, len(m.filters))
	for _, f := range m.filters {
		filters = append(filters, *f)
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].ID < filters[j].ID })
	return filters, nil
}

func (m *Memory) SubscriberEmails(_ context.Context, filterIDs []int64) (map[int64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	emails := make(map[int64]string, len(filterIDs))
	for _, id := range filterIDs {
		f, ok := m.filters[id]
		if !ok {
			continue
		}
		if s, ok := m.subscribers[f.SubscriberID]; ok {
			emails[id] = s.Email
		}
	}
	return emails, nil
}

// AddSubscriber registers an address and returns its id.
func (m *Memory) AddSubscriber(email string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subscribers {
		if s.Email == email {
			return s.ID
		}
	}
	m.nextSubscriberID++
	m.subscribers[m.nextSubscriberID] = &models.Subscriber{ID: m.nextSubscriberID, Email: email}
	return m.nextSubscriberID
}

// AddAlertFilter stores f for its subscriber and returns the filter id.
func (m *Memory) AddAlertFilter(f models.AlertFilter) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFilterID++
	f.ID = m.nextFilterID
	m.filters[f.ID] = &f
	return f.ID
}

// Listings returns a snapshot of every stored listing ordered by id.
func (m *Memory) Listings() []models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Spec returns the stored spec of a listing.
func (m *Memory) Spec(listingID int64) (models.VehicleSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[listingID]
	if !ok {
		return models.VehicleSpec{}, false
	}
	return *s, true
}

// WorkItems returns a snapshot of the queue ordered by listing id.
func (m *Memory) WorkItems() []models.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.WorkItem, 0, len(m.queue))
	for _, w := range m.queue {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID < out[j].ListingID })
	return out
}
