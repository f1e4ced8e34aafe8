package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mateNemeth/kona2.0/config"
	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/pacing"
	"github.com/mateNemeth/kona2.0/parser"
)

// AutoScoutName identifies listings discovered on AutoScout24.
const AutoScoutName = "autoscout24"

// ErrNoListings is returned for a listing page without any result item,
// which happens when the layout changes or the request was blocked.
var ErrNoListings = errors.New("listing page contains no items")

// AutoScout adapts the Hungarian AutoScout24 site to the pipeline.
type AutoScout struct {
	fetcher    *Fetcher
	baseURL    string
	listingURL string
}

// NewAutoScout returns an adapter that fetches through f.
func NewAutoScout(f *Fetcher, cfg config.SourceConfig) *AutoScout {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	return &AutoScout{
		fetcher:    f,
		baseURL:    base,
		listingURL: base + cfg.ListingPath,
	}
}

// Name returns the source identifier stored on every listing.
func (a *AutoScout) Name() string {
	return AutoScoutName
}

// DiscoverPage fetches the newest-first result page.
func (a *AutoScout) DiscoverPage(ctx context.Context) ([]byte, error) {
	return a.fetcher.Get(ctx, "listing", a.listingURL)
}

// FetchDetail fetches a listing's detail page.
func (a *AutoScout) FetchDetail(ctx context.Context, detailURL string) ([]byte, error) {
	return a.fetcher.Get(ctx, "detail", detailURL)
}

// ParseListingPage returns the page's items oldest first.
func (a *AutoScout) ParseListingPage(raw []byte) ([]models.ListingRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	items := doc.Find(".cldt-summary-full-item")
	if items.Length() == 0 {
		return nil, ErrNoListings
	}

	refs := make([]models.ListingRef, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		id, ok := item.Attr("id")
		if !ok {
			return
		}
		parts := strings.Split(id, "-")
		if len(parts) < 2 {
			return
		}
		href, ok := item.Find("a").First().Attr("href")
		if !ok {
			return
		}
		segments := strings.Split(href, "/")
		if len(segments) < 3 || segments[2] == "" {
			return
		}
		refs = append(refs, models.ListingRef{
			ExternalID: strings.Join(parts[1:], "-"),
			DetailURL:  a.baseURL + "/ajanlat/" + segments[2],
		})
	})

	// The page is sorted newest first.
	for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
		refs[i], refs[j] = refs[j], refs[i]
	}
	return refs, nil
}

// ParseDetail extracts category and spec attributes from a detail page.
// A page missing make, model, registration year or price yields a terminal
// parser.IncompleteError.
func (a *AutoScout) ParseDetail(raw []byte) (*models.VehicleDetail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, pacing.Terminal(fmt.Errorf("parse detail page: %w", err))
	}

	detail := &models.VehicleDetail{}
	detail.Category.Make = definition(doc, "Márka")
	detail.Category.Model = definition(doc, "Modell")

	keyfacts := doc.Find(".sc-font-l.cldt-stage-primary-keyfact")
	if year, ok := parser.RegistrationYear(keyfacts.Eq(4).Text()); ok {
		detail.Category.AgeYears = year
	}
	if km, ok := parser.Digits(keyfacts.Eq(3).Text()); ok {
		detail.Spec.Mileage = km
	}
	if kw, ok := parser.FirstNumber(keyfacts.Eq(5).Text()); ok {
		detail.Spec.Power = kw
	}

	if fuel := definition(doc, "Üzemanyag"); fuel != "" {
		detail.Spec.FuelType = models.StringPtr(parser.NormalizeFuel(fuel))
	}
	if transmission := definition(doc, "Váltó típusa"); transmission != "" {
		detail.Spec.Transmission = models.StringPtr(parser.NormalizeTransmission(transmission))
	}
	if ccm, ok := parser.Digits(definition(doc, "Hengerűrtartalom")); ok {
		detail.Spec.Displacement = models.IntPtr(ccm)
	}

	if price, ok := parser.Digits(doc.Find(".cldt-price").Eq(1).Find("h2").Text()); ok {
		detail.Spec.Price = price
	}
	if city := strings.TrimSpace(doc.Find(".cldt-stage-vendor-text.sc-font-s span.sc-font-bold").Eq(0).Text()); city != "" {
		detail.Spec.City = models.StringPtr(city)
	}
	if zip, ok := parser.PostalCode(doc.Find("div[data-item-name='vendor-contact-city']").Eq(0).Text()); ok {
		detail.Spec.PostalCode = models.IntPtr(zip)
	}

	if err := parser.ValidateDetail(detail, ""); err != nil {
		return nil, err
	}
	return detail, nil
}

// definition returns the trimmed text of the <dd> following the <dt>
// labelled label, or "" when the page has no such term.
func definition(doc *goquery.Document, label string) string {
	term := doc.Find("dt").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == label
	}).First()
	if term.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(term.Next().Text())
}
