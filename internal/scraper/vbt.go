package scraper

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

const (
	vbtSource  = "vb&t"
	vbtAPIBase = "https://api.vbtverhuurmakelaars.nl/properties"
	vbtSite    = "https://www.vbtverhuurmakelaars.nl"
)

var vbtListingIDPattern = regexp.MustCompile(`/woning/[^/]+-([^/]+)/?$`)

func init() {
	Register(NewVBT(nil))
}

// VBT scrapes the VBT Verhuurmakelaars JSON API.
type VBT struct {
	logger *zap.Logger
}

// NewVBT builds the VBT strategy.
func NewVBT(logger *zap.Logger) *VBT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VBT{logger: logger}
}

// Source implements Strategy.
func (s *VBT) Source() string { return vbtSource }

// BuildSearchURL implements Strategy.
func (s *VBT) BuildSearchURL(city string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	q := url.Values{}
	if city != "" {
		q.Set("city", strings.ToLower(strings.ReplaceAll(city, " ", "-")))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", "20")
	q.Set("sort", "newest")
	return vbtAPIBase + "?" + q.Encode(), nil
}

type vbtAddress struct {
	City  string `json:"city"`
	House string `json:"house"`
}

type vbtRental struct {
	Price           float64 `json:"price"`
	ServiceCharges  float64 `json:"serviceCharges"`
	SecurityDeposit float64 `json:"securityDeposit"`
	MinMonths       int     `json:"minMonths"`
}

type vbtWOZ struct {
	Value   float64 `json:"value"`
	RefDate string  `json:"refdate"`
}

type vbtPrices struct {
	Rental                *vbtRental `json:"rental"`
	WOZ                   *vbtWOZ    `json:"woz"`
	RentalPoints          int        `json:"rentalpoints"`
	ParkingCharges        float64    `json:"parkingCharges"`
	ParkingServiceCharges float64    `json:"parkingServiceCharges"`
}

type vbtType struct {
	Category  string `json:"category"`
	BuildType string `json:"buildType"`
}

type vbtAttributes struct {
	Type *vbtType `json:"type"`
}

type vbtStatus struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type vbtUSP struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type vbtExternal struct {
	ExternalLink string `json:"externalLink"`
	LastImported string `json:"lastImported"`
}

// vbtID tolerates the API serving ids as either a JSON number or a string.
type vbtID string

func (id *vbtID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = vbtID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("house id is neither string nor number: %s", data)
	}
	*id = vbtID(n.String())
	return nil
}

type vbtHouse struct {
	ID                vbtID          `json:"id"`
	SourceID          string         `json:"sourceId"`
	URL               string         `json:"url"`
	IsBouwinvest      bool           `json:"isBouwinvest"`
	Address           *vbtAddress    `json:"address"`
	Prices            *vbtPrices     `json:"prices"`
	Attributes        *vbtAttributes `json:"attributes"`
	Plot              float64        `json:"plot"`
	Rooms             int            `json:"rooms"`
	InterestedParties int            `json:"interestedParties"`
	Status            *vbtStatus     `json:"status"`
	USPs              []vbtUSP       `json:"usps"`
	Coordinate        []float64      `json:"coordinate"`
	Image             string         `json:"image"`
	Source            *vbtExternal   `json:"source"`
}

// ParseSearchPage implements Strategy. One malformed house is skipped; the
// rest of the page still comes through.
func (s *VBT) ParseSearchPage(text string) ([]*listing.Listing, error) {
	var payload struct {
		Houses []json.RawMessage `json:"houses"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode vbt search payload: %w", err)
	}
	if len(payload.Houses) == 0 {
		s.logger.Debug("no houses in vbt response")
		return nil, nil
	}

	listings := make([]*listing.Listing, 0, len(payload.Houses))
	for _, raw := range payload.Houses {
		var house vbtHouse
		if err := json.Unmarshal(raw, &house); err != nil {
			s.logger.Warn("skipping malformed vbt house", zap.Error(err))
			continue
		}
		l := s.projectHouse(&house)
		if l == nil {
			continue
		}
		l.Finalize()
		listings = append(listings, l)
	}
	return listings, nil
}

// ParseListingPage implements Strategy. Detail pages are served as
// {"house": {...}}; anything else degrades to a bare listing identified by
// its URL.
func (s *VBT) ParseListingPage(text string, pageURL string) (*listing.Listing, error) {
	var payload struct {
		House *vbtHouse `json:"house"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err == nil && payload.House != nil {
		if l := s.projectHouse(payload.House); l != nil {
			l.Finalize()
			return l, nil
		}
	}

	l := &listing.Listing{Source: vbtSource, URL: pageURL}
	if m := vbtListingIDPattern.FindStringSubmatch(pageURL); m != nil {
		l.SourceID = m[1]
	}
	l.Finalize()
	return l, nil
}

// projectHouse maps one API house object onto the normalized record,
// applying the skip rules. Returns nil when the house must not be harvested.
func (s *VBT) projectHouse(house *vbtHouse) *listing.Listing {
	if house.Attributes != nil && house.Attributes.Type != nil && house.Attributes.Type.Category == "other" {
		return nil
	}
	if house.Status == nil || house.Status.Name != "available" {
		return nil
	}
	if house.IsBouwinvest {
		return nil
	}

	l := &listing.Listing{
		Source:       vbtSource,
		OfferingType: listing.OfferingRental,
	}

	if id := string(house.ID); id != "" {
		l.SourceID = id
	} else if house.SourceID != "" {
		l.SourceID = house.SourceID
	}

	if house.URL != "" {
		if strings.HasPrefix(house.URL, "/") {
			l.URL = vbtSite + house.URL
		} else {
			l.URL = house.URL
		}
	}

	if house.Address != nil {
		if house.Address.City != "" {
			l.City = strings.ToUpper(house.Address.City)
		}
		if house.Address.House != "" {
			l.Address = house.Address.House
			l.Title = house.Address.House
		}
	}

	if house.Prices != nil {
		s.projectPrices(l, house.Prices)
	}

	if house.Attributes != nil && house.Attributes.Type != nil {
		l.PropertyType = mapVBTPropertyType(house.Attributes.Type.Category)
		if house.Attributes.Type.BuildType != "" {
			l.AddFeature("build_type", house.Attributes.Type.BuildType)
		}
	}

	if house.Plot > 0 {
		l.LivingArea = int(house.Plot)
	}
	if house.Rooms > 0 {
		l.Rooms = house.Rooms
	}
	if house.InterestedParties > 0 {
		l.AddFeature("interested_parties", strconv.Itoa(house.InterestedParties))
	}

	if house.Status.Name != "" {
		l.AddFeature("status", house.Status.Name)
	}
	if house.Status.Code != "" {
		l.AddFeature("status_code", house.Status.Code)
	}

	for i, usp := range house.USPs {
		if usp.Text == "" {
			continue
		}
		kind := usp.Type
		if kind == "" {
			kind = "usp"
		}
		l.AddFeature(fmt.Sprintf("%s_%d", kind, i+1), usp.Text)
	}

	if len(house.Coordinate) >= 2 {
		// API order is [longitude, latitude].
		l.AddFeature("coordinates", fmt.Sprintf("%v,%v", house.Coordinate[1], house.Coordinate[0]))
	}

	if house.Image != "" {
		img := house.Image
		if strings.HasPrefix(img, "/") {
			img = vbtSite + img
		}
		l.Images = []string{img}
	}

	if house.Source != nil {
		if house.Source.ExternalLink != "" {
			l.AddFeature("external_link", house.Source.ExternalLink)
		}
		if d := vbtDate(house.Source.LastImported); d != "" {
			l.AddFeature("last_imported", d)
		}
	}

	return l
}

func (s *VBT) projectPrices(l *listing.Listing, prices *vbtPrices) {
	if r := prices.Rental; r != nil {
		if r.Price > 0 {
			l.PriceNumeric = int(r.Price)
			l.Price = fmt.Sprintf("€ %d per month", l.PriceNumeric)
			l.PricePeriod = "month"
		}
		if r.ServiceCharges > 0 {
			l.ServiceCosts = int(r.ServiceCharges)
		}
		if r.SecurityDeposit > 0 {
			l.AddFeature("security_deposit", strconv.Itoa(int(r.SecurityDeposit)))
		}
		if r.MinMonths > 0 {
			l.AddFeature("min_rental_months", strconv.Itoa(r.MinMonths))
		}
	}
	if w := prices.WOZ; w != nil {
		if w.Value > 0 {
			l.AddFeature("woz_value", strconv.Itoa(int(w.Value)))
		}
		if d := vbtDate(w.RefDate); d != "" {
			l.AddFeature("woz_date", d)
		}
	}
	if prices.RentalPoints > 0 {
		l.AddFeature("rental_points", strconv.Itoa(prices.RentalPoints))
	}
	if prices.ParkingCharges > 0 {
		l.AddFeature("parking_charges", strconv.Itoa(int(prices.ParkingCharges)))
	}
	if prices.ParkingServiceCharges > 0 {
		l.AddFeature("parking_service_charges", strconv.Itoa(int(prices.ParkingServiceCharges)))
	}
}

func mapVBTPropertyType(category string) listing.PropertyType {
	switch strings.ToLower(category) {
	case "apartment":
		return listing.PropertyApartment
	case "studio":
		return listing.PropertyStudio
	case "house", "family_house":
		return listing.PropertyHouse
	case "room":
		return listing.PropertyRoom
	default:
		return listing.PropertyApartment
	}
}

// vbtDate normalizes the API's timestamp format to YYYY-MM-DD. The fraction
// varies in width between endpoints, so the parse must not pin its length.
// Epoch placeholders are treated as absent.
func vbtDate(value string) string {
	if value == "" || strings.Contains(value, "1970-01-01") {
		return ""
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return ""
	}
	return ts.Format("2006-01-02")
}
