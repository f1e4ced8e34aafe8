// Package alert decides which subscriber filters a vehicle satisfies.
package alert

import (
	"strconv"
	"strings"

	"github.com/mateNemeth/kona2.0/models"
)

// Matches reports whether payload satisfies every bound set on f. A bound
// whose payload field is unknown does not match.
func Matches(f models.AlertFilter, p models.VehiclePayload) bool {
	if !matchZipcode(f.Zipcodes, p.PostalCode) {
		return false
	}

	age := p.AgeYears
	ranges := []struct {
		lo, hi *int
		value  *int
	}{
		{f.AgeMin, f.AgeMax, &age},
		{f.PriceMin, f.PriceMax, p.Price},
		{f.DisplacementMin, f.DisplacementMax, p.Displacement},
		{f.MileageMin, f.MileageMax, p.Mileage},
		{f.PowerMin, f.PowerMax, p.Power},
	}
	for _, r := range ranges {
		if !inRange(r.lo, r.hi, r.value) {
			return false
		}
	}

	if !equal(f.Make, &p.Make) ||
		!equal(f.FuelType, p.FuelType) ||
		!equal(f.Transmission, p.Transmission) {
		return false
	}

	if want := optional(f.Model); want != "" && !strings.Contains(p.Model, want) {
		return false
	}
	return true
}

// Filter returns the filters payload satisfies, in input order.
func Filter(filters []models.AlertFilter, p models.VehiclePayload) []models.AlertFilter {
	var matched []models.AlertFilter
	for _, f := range filters {
		if Matches(f, p) {
			matched = append(matched, f)
		}
	}
	return matched
}

func inRange(lo, hi, value *int) bool {
	if lo == nil && hi == nil {
		return true
	}
	if value == nil {
		return false
	}
	if lo != nil && *value < *lo {
		return false
	}
	if hi != nil && *value > *hi {
		return false
	}
	return true
}

func equal(want, got *string) bool {
	w := optional(want)
	if w == "" {
		return true
	}
	return got != nil && *got == w
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// matchZipcode accepts a code equal to the postal code or a leading
// digit prefix of it, so region 10 covers 1024.
func matchZipcode(codes []int, postal *int) bool {
	if len(codes) == 0 {
		return true
	}
	if postal == nil {
		return false
	}
	pc := strconv.Itoa(*postal)
	for _, code := range codes {
		if code < 0 {
			continue
		}
		if strings.HasPrefix(pc, strconv.Itoa(code)) {
			return true
		}
	}
	return false
}
