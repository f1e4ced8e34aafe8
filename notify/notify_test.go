package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/store"
)

type sentMail struct {
	alert   Alert
	address string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[string]error
}

func (f *fakeTransport) Send(_ context.Context, a Alert, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[address]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{alert: a, address: address})
	return nil
}

func testPayload() models.VehiclePayload {
	return models.VehiclePayload{
		ListingID:  7,
		CategoryID: 3,
		DetailURL:  "https://www.autoscout24.hu/ajanlat/skoda-octavia-abc",
		Make:       "Skoda",
		Model:      "Octavia",
		AgeYears:   2015,
		Price:      models.IntPtr(9800),
		FuelType:   models.StringPtr("Dízel"),
		PostalCode: models.IntPtr(1024),
	}
}

func TestAlertNotifierSendsToMatchingSubscribers(t *testing.T) {
	m := store.NewMemory()
	buyer := m.AddSubscriber("buyer@example.test")
	other := m.AddSubscriber("other@example.test")
	m.AddAlertFilter(models.AlertFilter{SubscriberID: buyer, Make: models.StringPtr("Skoda")})
	m.AddAlertFilter(models.AlertFilter{SubscriberID: buyer, PriceMax: models.IntPtr(10000)})
	m.AddAlertFilter(models.AlertFilter{SubscriberID: other, Make: models.StringPtr("BMW")})
	if err := m.UpsertPriceStatistic(context.Background(), models.PriceStatistic{CategoryID: 3, Average: 11000, Median: 10500, SampleSize: 6}); err != nil {
		t.Fatalf("seed statistic: %v", err)
	}

	transport := &fakeTransport{}
	n := NewAlertNotifier(m, m, transport, nil, nil)

	if err := n.Notify(context.Background(), testPayload()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d mails, want 1 (one per subscriber)", len(transport.sent))
	}
	got := transport.sent[0]
	if got.address != "buyer@example.test" {
		t.Fatalf("sent to %q", got.address)
	}
	if got.alert.Statistic == nil || got.alert.Statistic.Median != 10500 {
		t.Fatalf("statistic = %+v", got.alert.Statistic)
	}
}

func TestAlertNotifierNoMatch(t *testing.T) {
	m := store.NewMemory()
	sub := m.AddSubscriber("buyer@example.test")
	m.AddAlertFilter(models.AlertFilter{SubscriberID: sub, PriceMax: models.IntPtr(5000)})

	transport := &fakeTransport{}
	n := NewAlertNotifier(m, m, transport, nil, nil)

	payload := testPayload()
	payload.Price = nil
	if err := n.Notify(context.Background(), payload); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("sent %d mails for a filter that fails closed", len(transport.sent))
	}
}

func TestAlertNotifierContinuesAfterSendFailure(t *testing.T) {
	m := store.NewMemory()
	for _, addr := range []string{"a@example.test", "b@example.test"} {
		id := m.AddSubscriber(addr)
		m.AddAlertFilter(models.AlertFilter{SubscriberID: id})
	}
	bounce := errors.New("mailbox unavailable")
	transport := &fakeTransport{fail: map[string]error{"a@example.test": bounce}}
	n := NewAlertNotifier(m, m, transport, rate.NewLimiter(rate.Inf, 1), nil)

	err := n.Notify(context.Background(), testPayload())
	if !errors.Is(err, bounce) {
		t.Fatalf("expected joined send error, got %v", err)
	}
	if len(transport.sent) != 1 || transport.sent[0].address != "b@example.test" {
		t.Fatalf("sent = %+v", transport.sent)
	}
	if got := transport.sent[0].alert.Statistic; got != nil {
		t.Fatalf("statistic = %+v, want nil", got)
	}
}

func TestAlertNotifierStopsWhenContextCanceled(t *testing.T) {
	m := store.NewMemory()
	id := m.AddSubscriber("a@example.test")
	m.AddAlertFilter(models.AlertFilter{SubscriberID: id})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := &fakeTransport{}
	n := NewAlertNotifier(m, m, transport, rate.NewLimiter(1, 1), nil)
	if err := n.Notify(ctx, testPayload()); err == nil {
		t.Fatalf("expected error on canceled context")
	}
	if len(transport.sent) != 0 {
		t.Fatalf("sent %d mails after cancellation", len(transport.sent))
	}
}

func TestUniqueAddresses(t *testing.T) {
	got := uniqueAddresses(map[int64]string{1: "b@x", 2: "a@x", 3: "b@x", 4: ""})
	if strings.Join(got, ",") != "a@x,b@x" {
		t.Fatalf("uniqueAddresses = %v", got)
	}
}
