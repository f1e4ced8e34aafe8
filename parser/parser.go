// Package parser normalises attribute text scraped from detail pages.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mateNemeth/kona2.0/models"
)

var numberPattern = regexp.MustCompile(`\d+`)

// IncompleteError reports a detail page without the attributes every
// listing needs. Retrying will not help.
type IncompleteError struct {
	ListingURL string
	Missing    []string
}

func (e IncompleteError) Error() string {
	if e.ListingURL == "" {
		return fmt.Sprintf("incomplete listing: missing %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("incomplete listing %s: missing %s", e.ListingURL, strings.Join(e.Missing, ", "))
}

// Terminal marks the error as non-retryable.
func (e IncompleteError) Terminal() bool { return true }

// ValidateDetail ensures the detail carries make, model, registration year
// and price.
func ValidateDetail(d *models.VehicleDetail, listingURL string) error {
	if d == nil {
		return IncompleteError{ListingURL: listingURL, Missing: []string{"detail"}}
	}
	var missing []string
	if strings.TrimSpace(d.Category.Make) == "" {
		missing = append(missing, "make")
	}
	if strings.TrimSpace(d.Category.Model) == "" {
		missing = append(missing, "model")
	}
	if d.Category.AgeYears <= 0 {
		missing = append(missing, "age")
	}
	if d.Spec.Price <= 0 {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return IncompleteError{ListingURL: listingURL, Missing: missing}
	}
	return nil
}

// Digits joins every digit in text into one number, so "123 456 km" is
// 123456. It reports false when text holds no digits.
func Digits(text string) (int, bool) {
	groups := numberPattern.FindAllString(text, -1)
	if len(groups) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.Join(groups, ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// FirstNumber returns the first run of digits, so "110 kW (150 LE)" is 110.
func FirstNumber(text string) (int, bool) {
	group := numberPattern.FindString(text)
	if group == "" {
		return 0, false
	}
	n, err := strconv.Atoi(group)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RegistrationYear extracts the year from a first-registration fact such
// as "05/2015".
func RegistrationYear(text string) (int, bool) {
	groups := numberPattern.FindAllString(text, -1)
	for i := len(groups) - 1; i >= 0; i-- {
		if len(groups[i]) != 4 {
			continue
		}
		year, err := strconv.Atoi(groups[i])
		if err == nil && year > 0 {
			return year, true
		}
	}
	return 0, false
}

// PostalCode reads the leading token of a "1024 Budapest" style line.
func PostalCode(text string) (int, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil || code <= 0 {
		return 0, false
	}
	return code, true
}

const (
	FuelDiesel = "Dízel"
	FuelPetrol = "Benzin"

	TransmissionManual = "Manuális"
)

var dieselLabels = map[string]struct{}{
	"Dízel (Particulate Filter)": {},
	"Dízel":                      {},
}

var petrolLabels = map[string]struct{}{
	"Benzin":                        {},
	"Benzin (Particulate Filter)":   {},
	"Super 95 (Particulate Filter)": {},
	"Super 95":                      {},
	"91-es normálbenzin":            {},
	"Super E10 Plus 95-ös":          {},
	"Super Plus 98-as":              {},
	"E10-es 91-es normálbenzin":     {},
	"Super Plus E10 98-as":          {},
}

// NormalizeFuel folds the many petrol and diesel labels of the source into
// two values. Other fuels pass through trimmed.
func NormalizeFuel(text string) string {
	text = strings.TrimSpace(text)
	parts := strings.Split(text, "/")
	for _, part := range parts {
		if _, ok := dieselLabels[strings.TrimSpace(part)]; ok {
			return FuelDiesel
		}
	}
	for _, part := range parts {
		if _, ok := petrolLabels[strings.TrimSpace(part)]; ok {
			return FuelPetrol
		}
	}
	return text
}

// NormalizeTransmission maps the source's gearbox label to "Manuális".
func NormalizeTransmission(text string) string {
	text = strings.TrimSpace(text)
	if text == "Sebességváltó" {
		return TransmissionManual
	}
	return text
}
