// Package listing defines the normalized rental listing record produced by
// scraper strategies and consumed by storage.
package listing

import "time"

// PropertyType classifies the kind of dwelling being offered.
type PropertyType string

// Property types recognized across portals.
const (
	PropertyApartment PropertyType = "apartment"
	PropertyStudio    PropertyType = "studio"
	PropertyHouse     PropertyType = "house"
	PropertyRoom      PropertyType = "room"
)

// OfferingType distinguishes rentals from sales.
type OfferingType string

// Offering types.
const (
	OfferingRental OfferingType = "rental"
	OfferingSale   OfferingType = "sale"
)

// Feature is a single name/value attribute attached to a listing. Order is
// preserved as extracted.
type Feature struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Listing is the normalized record for one rental property. Fields that a
// portal does not expose stay at their zero value; extraction code must treat
// zero as absent. Once the content hash is computed the listing is considered
// immutable.
type Listing struct {
	Source       string       `json:"source"`
	SourceID     string       `json:"source_id,omitempty"`
	URL          string       `json:"url,omitempty"`
	Title        string       `json:"title,omitempty"`
	Address      string       `json:"address,omitempty"`
	PostalCode   string       `json:"postal_code,omitempty"`
	City         string       `json:"city,omitempty"`
	Price        string       `json:"price,omitempty"`
	PriceNumeric int          `json:"price_numeric,omitempty"`
	PricePeriod  string       `json:"price_period,omitempty"`
	ServiceCosts int          `json:"service_costs,omitempty"`
	LivingArea   int          `json:"living_area,omitempty"`
	Rooms        int          `json:"rooms,omitempty"`
	PropertyType PropertyType `json:"property_type,omitempty"`
	OfferingType OfferingType `json:"offering_type,omitempty"`
	Images       []string     `json:"images,omitempty"`
	Features     []Feature    `json:"features,omitempty"`
	ScrapedAt    time.Time    `json:"scraped_at,omitempty"`
	ContentHash  string       `json:"content_hash"`
}

// AddFeature appends a name/value pair to the listing's feature list.
func (l *Listing) AddFeature(name, value string) {
	l.Features = append(l.Features, Feature{Name: name, Value: value})
}
