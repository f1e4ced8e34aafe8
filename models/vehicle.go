// Package models defines data structures shared by the pipeline stages.
package models

import "time"

// Listing is a marketplace item discovered on a listing page.
type Listing struct {
	ID           int64     `json:"id"`
	Source       string    `json:"source"`
	ExternalID   string    `json:"external_id"`
	DetailURL    string    `json:"detail_url"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Extracted    bool      `json:"extracted"`
}

// ListingRef is one entry parsed from a listing page, before it is stored.
type ListingRef struct {
	ExternalID string `json:"external_id"`
	DetailURL  string `json:"detail_url"`
}

// VehicleCategory groups listings by make, model and registration year.
type VehicleCategory struct {
	ID       int64  `json:"id"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	AgeYears int    `json:"age_years"`
}

// VehicleSpec holds the attributes extracted from a detail page.
// Mileage and Power are zero when the page did not show them.
type VehicleSpec struct {
	ListingID    int64   `json:"listing_id"`
	CategoryID   int64   `json:"category_id"`
	Price        int     `json:"price"`
	Mileage      int     `json:"mileage"`
	Power        int     `json:"power"`
	Displacement *int    `json:"displacement,omitempty"`
	FuelType     *string `json:"fuel_type,omitempty"`
	Transmission *string `json:"transmission,omitempty"`
	City         *string `json:"city,omitempty"`
	PostalCode   *int    `json:"postal_code,omitempty"`
}

// VehicleDetail is the parsed result of a detail page.
type VehicleDetail struct {
	Category VehicleCategory
	Spec     VehicleSpec
}

// PriceStatistic is the rolling price summary of a category.
type PriceStatistic struct {
	CategoryID int64     `json:"category_id"`
	Average    int       `json:"average"`
	Median     int       `json:"median"`
	SampleSize int       `json:"sample_size"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WorkItem is a pending notification dispatch for an extracted listing.
type WorkItem struct {
	ListingID  int64      `json:"listing_id"`
	InProgress bool       `json:"in_progress"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
}

// Subscriber receives alerts for the filters it owns.
type Subscriber struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// AlertFilter is a subscriber's standing search. Nil bounds and empty
// strings are unconstrained.
type AlertFilter struct {
	ID              int64   `json:"id" yaml:"id"`
	SubscriberID    int64   `json:"subscriber_id" yaml:"subscriber_id"`
	Zipcodes        []int   `json:"zipcodes,omitempty" yaml:"zipcodes"`
	AgeMin          *int    `json:"age_min,omitempty" yaml:"age_min"`
	AgeMax          *int    `json:"age_max,omitempty" yaml:"age_max"`
	PriceMin        *int    `json:"price_min,omitempty" yaml:"price_min"`
	PriceMax        *int    `json:"price_max,omitempty" yaml:"price_max"`
	DisplacementMin *int    `json:"displacement_min,omitempty" yaml:"displacement_min"`
	DisplacementMax *int    `json:"displacement_max,omitempty" yaml:"displacement_max"`
	MileageMin      *int    `json:"mileage_min,omitempty" yaml:"mileage_min"`
	MileageMax      *int    `json:"mileage_max,omitempty" yaml:"mileage_max"`
	PowerMin        *int    `json:"power_min,omitempty" yaml:"power_min"`
	PowerMax        *int    `json:"power_max,omitempty" yaml:"power_max"`
	FuelType        *string `json:"fuel_type,omitempty" yaml:"fuel_type"`
	Transmission    *string `json:"transmission,omitempty" yaml:"transmission"`
	Make            *string `json:"make,omitempty" yaml:"make"`
	Model           *string `json:"model,omitempty" yaml:"model"`
}

// VehiclePayload is the flattened view of a dispatched listing.
// Numeric fields are nil when the value is unknown.
type VehiclePayload struct {
	ListingID    int64     `json:"listing_id"`
	CategoryID   int64     `json:"category_id"`
	DetailURL    string    `json:"detail_url"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	AgeYears     int       `json:"age_years"`
	Price        *int      `json:"price,omitempty"`
	Mileage      *int      `json:"mileage,omitempty"`
	Power        *int      `json:"power,omitempty"`
	Displacement *int      `json:"displacement,omitempty"`
	FuelType     *string   `json:"fuel_type,omitempty"`
	Transmission *string   `json:"transmission,omitempty"`
	City         *string   `json:"city,omitempty"`
	PostalCode   *int      `json:"postal_code,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}

// NullableInt maps zero to nil.
func NullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
