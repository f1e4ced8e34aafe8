package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/mateNemeth/kona2.0/pacing"
	"github.com/mateNemeth/kona2.0/parser"
)

const listingPageHTML = `<html><body>
<div class="cldt-summary-full-item" id="li-3c1e-newest"><a href="/ajanlat/skoda-octavia-newest">Skoda</a></div>
<div class="cldt-summary-full-item" id="li-2b7f-middle"><a href="/ajanlat/bmw-320-middle">BMW</a></div>
<div class="cldt-summary-full-item" id="broken"><a href="/ajanlat/no-id">skip</a></div>
<div class="cldt-summary-full-item" id="li-1a2b-oldest"><a href="/ajanlat/opel-astra-oldest">Opel</a></div>
</body></html>`

const detailPageHTML = `<html><body>
<div class="cldt-stage-primary-keyfacts">
  <span class="sc-font-l cldt-stage-primary-keyfact">€ 9 800</span>
  <span class="sc-font-l cldt-stage-primary-keyfact">Használt</span>
  <span class="sc-font-l cldt-stage-primary-keyfact">Kézi</span>
  <span class="sc-font-l cldt-stage-primary-keyfact">154 300 km</span>
  <span class="sc-font-l cldt-stage-primary-keyfact">05/2015</span>
  <span class="sc-font-l cldt-stage-primary-keyfact">110 kW (150 LE)</span>
</div>
<div class="cldt-price"><h2>€ 9 500</h2></div>
<div class="cldt-price"><h2>€ 9 800,-</h2></div>
<div class="cldt-stage-vendor-text sc-font-s"><span class="sc-font-bold">Budapest</span></div>
<div data-item-name="vendor-contact-city">1024 Budapest</div>
<dl>
  <dt>Márka</dt><dd> Skoda </dd>
  <dt>Modell</dt><dd>Octavia</dd>
  <dt>Üzemanyag</dt><dd>Dízel (Particulate Filter)</dd>
  <dt>Váltó típusa</dt><dd>Sebességváltó</dd>
  <dt>Hengerűrtartalom</dt><dd>1 968 cm³</dd>
</dl>
</body></html>`

func newTestAutoScout(t *testing.T, transport *httpmock.MockTransport) *AutoScout {
	t.Helper()
	f, _ := newTestFetcher(t, transport)
	return NewAutoScout(f, testSourceConfig())
}

func TestParseListingPageOldestFirst(t *testing.T) {
	a := newTestAutoScout(t, httpmock.NewMockTransport())

	refs, err := a.ParseListingPage([]byte(listingPageHTML))
	if err != nil {
		t.Fatalf("parse listing page: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs=%d, want 3: %+v", len(refs), refs)
	}
	want := []struct{ id, url string }{
		{"1a2b-oldest", "http://example.test/ajanlat/opel-astra-oldest"},
		{"2b7f-middle", "http://example.test/ajanlat/bmw-320-middle"},
		{"3c1e-newest", "http://example.test/ajanlat/skoda-octavia-newest"},
	}
	for i, w := range want {
		if refs[i].ExternalID != w.id || refs[i].DetailURL != w.url {
			t.Fatalf("refs[%d] = %+v, want %s %s", i, refs[i], w.id, w.url)
		}
	}
}

func TestParseListingPageWithoutItems(t *testing.T) {
	a := newTestAutoScout(t, httpmock.NewMockTransport())
	if _, err := a.ParseListingPage([]byte("<html><body>captcha</body></html>")); !errors.Is(err, ErrNoListings) {
		t.Fatalf("expected ErrNoListings, got %v", err)
	}
}

func TestParseDetail(t *testing.T) {
	a := newTestAutoScout(t, httpmock.NewMockTransport())

	detail, err := a.ParseDetail([]byte(detailPageHTML))
	if err != nil {
		t.Fatalf("parse detail: %v", err)
	}
	c := detail.Category
	if c.Make != "Skoda" || c.Model != "Octavia" || c.AgeYears != 2015 {
		t.Fatalf("category = %+v", c)
	}
	s := detail.Spec
	if s.Price != 9800 || s.Mileage != 154300 || s.Power != 110 {
		t.Fatalf("spec numbers = %+v", s)
	}
	if s.Displacement == nil || *s.Displacement != 1968 {
		t.Fatalf("displacement = %v", s.Displacement)
	}
	if s.FuelType == nil || *s.FuelType != parser.FuelDiesel {
		t.Fatalf("fuel = %v", s.FuelType)
	}
	if s.Transmission == nil || *s.Transmission != parser.TransmissionManual {
		t.Fatalf("transmission = %v", s.Transmission)
	}
	if s.City == nil || *s.City != "Budapest" {
		t.Fatalf("city = %v", s.City)
	}
	if s.PostalCode == nil || *s.PostalCode != 1024 {
		t.Fatalf("postal code = %v", s.PostalCode)
	}
}

func TestParseDetailMissingMake(t *testing.T) {
	a := newTestAutoScout(t, httpmock.NewMockTransport())
	page := `<html><body>
<span class="sc-font-l cldt-stage-primary-keyfact"></span><span class="sc-font-l cldt-stage-primary-keyfact"></span>
<span class="sc-font-l cldt-stage-primary-keyfact"></span><span class="sc-font-l cldt-stage-primary-keyfact"></span>
<span class="sc-font-l cldt-stage-primary-keyfact">01/2012</span>
<div class="cldt-price"></div><div class="cldt-price"><h2>€ 4 000</h2></div>
<dl><dt>Modell</dt><dd>Astra</dd></dl>
</body></html>`

	_, err := a.ParseDetail([]byte(page))
	var incomplete parser.IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != "make" {
		t.Fatalf("missing = %v, want [make]", incomplete.Missing)
	}
	if !pacing.IsTerminal(err) {
		t.Fatalf("incomplete detail should be terminal")
	}
}

func TestAutoScoutFetches(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/lst/?sort=age", htmlResponder(listingPageHTML))
	transport.RegisterResponder("GET", "http://example.test/ajanlat/opel-astra-oldest", htmlResponder(detailPageHTML))

	a := newTestAutoScout(t, transport)
	if a.Name() != AutoScoutName {
		t.Fatalf("name = %q", a.Name())
	}

	raw, err := a.DiscoverPage(context.Background())
	if err != nil {
		t.Fatalf("discover page: %v", err)
	}
	refs, err := a.ParseListingPage(raw)
	if err != nil {
		t.Fatalf("parse listing page: %v", err)
	}

	raw, err = a.FetchDetail(context.Background(), refs[0].DetailURL)
	if err != nil {
		t.Fatalf("fetch detail: %v", err)
	}
	if _, err := a.ParseDetail(raw); err != nil {
		t.Fatalf("parse detail: %v", err)
	}
}
