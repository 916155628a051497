package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/huurwatch/rental-crawler/internal/listing"
)

const vbtSearchFixture = `{
  "houses": [
    {
      "id": 4711,
      "url": "/woning/leiden-breestraat-12",
      "isBouwinvest": false,
      "address": {"city": "Leiden", "house": "Breestraat 12"},
      "prices": {
        "rental": {"price": 1450.0, "serviceCharges": 50.0, "securityDeposit": 2900.0, "minMonths": 12},
        "woz": {"value": 310000, "refdate": "2024-01-01T00:00:00.000Z"},
        "rentalpoints": 187
      },
      "attributes": {"type": {"category": "apartment", "buildType": "existing"}},
      "plot": 62,
      "rooms": 3,
      "interestedParties": 12,
      "status": {"name": "available", "code": "A"},
      "usps": [{"text": "Balkon op het zuiden", "type": "highlight"}],
      "coordinate": [4.4897, 52.1601],
      "image": "/media/4711/front.jpg",
      "source": {"externalLink": "https://example.nl/4711", "lastImported": "2025-08-01T09:30:00.000Z"}
    },
    {
      "id": 4712,
      "status": {"name": "rented"},
      "address": {"city": "Leiden", "house": "Haarlemmerstraat 3"}
    },
    {
      "id": 4713,
      "status": {"name": "available"},
      "attributes": {"type": {"category": "other"}}
    },
    {
      "id": 4714,
      "status": {"name": "available"},
      "isBouwinvest": true
    }
  ]
}`

func TestVBTBuildSearchURL(t *testing.T) {
	t.Parallel()

	s := NewVBT(nil)
	u, err := s.BuildSearchURL("Den Haag", 2)
	require.NoError(t, err)
	require.Contains(t, u, "city=den-haag")
	require.Contains(t, u, "page=2")
	require.Contains(t, u, "limit=20")
	require.Contains(t, u, "sort=newest")

	_, err = s.BuildSearchURL("Leiden", 0)
	require.Error(t, err)
}

func TestVBTParseSearchPage(t *testing.T) {
	t.Parallel()

	s := NewVBT(nil)
	listings, err := s.ParseSearchPage(vbtSearchFixture)
	require.NoError(t, err)
	require.Len(t, listings, 1, "rented, category-other and bouwinvest houses are skipped")

	l := listings[0]
	require.Equal(t, "vb&t", l.Source)
	require.Equal(t, "4711", l.SourceID)
	require.Equal(t, "https://www.vbtverhuurmakelaars.nl/woning/leiden-breestraat-12", l.URL)
	require.Equal(t, "LEIDEN", l.City)
	require.Equal(t, "Breestraat 12", l.Address)
	require.Equal(t, "Breestraat 12", l.Title)
	require.Equal(t, 1450, l.PriceNumeric)
	require.Equal(t, "€ 1450 per month", l.Price)
	require.Equal(t, "month", l.PricePeriod)
	require.Equal(t, 50, l.ServiceCosts)
	require.Equal(t, 62, l.LivingArea)
	require.Equal(t, 3, l.Rooms)
	require.Equal(t, listing.PropertyApartment, l.PropertyType)
	require.Equal(t, listing.OfferingRental, l.OfferingType)
	require.Equal(t, []string{"https://www.vbtverhuurmakelaars.nl/media/4711/front.jpg"}, l.Images)
	require.NotEmpty(t, l.ContentHash)

	features := map[string]string{}
	for _, f := range l.Features {
		features[f.Name] = f.Value
	}
	require.Equal(t, "2900", features["security_deposit"])
	require.Equal(t, "12", features["min_rental_months"])
	require.Equal(t, "310000", features["woz_value"])
	require.Equal(t, "2024-01-01", features["woz_date"])
	require.Equal(t, "187", features["rental_points"])
	require.Equal(t, "existing", features["build_type"])
	require.Equal(t, "12", features["interested_parties"])
	require.Equal(t, "available", features["status"])
	require.Equal(t, "Balkon op het zuiden", features["highlight_1"])
	require.Equal(t, "52.1601,4.4897", features["coordinates"])
	require.Equal(t, "2025-08-01", features["last_imported"])
}

func TestVBTParseSearchPageSkipsMalformedItems(t *testing.T) {
	t.Parallel()

	payload := `{"houses": [
		{"id": 7, "rooms": "three", "status": {"name": "available"}},
		{"id": 1, "status": {"name": "available"}, "address": {"city": "Leiden", "house": "Hooigracht 8"}}
	]}`
	s := NewVBT(nil)
	listings, err := s.ParseSearchPage(payload)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "Hooigracht 8", listings[0].Address)
}

func TestVBTParseSearchPageAcceptsStringIDs(t *testing.T) {
	t.Parallel()

	payload := `{"houses": [
		{"id": "A-4711", "status": {"name": "available"}, "address": {"city": "Leiden", "house": "Hooigracht 8"}},
		{"id": 4712, "status": {"name": "available"}, "address": {"city": "Leiden", "house": "Hooigracht 9"}}
	]}`
	s := NewVBT(nil)
	listings, err := s.ParseSearchPage(payload)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, "A-4711", listings[0].SourceID)
	require.Equal(t, "4712", listings[1].SourceID)
}

func TestVBTDateAcceptsVaryingFractions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"2025-08-01T09:30:00.000Z", "2025-08-01"},
		{"2025-08-01T09:30:00.1Z", "2025-08-01"},
		{"2025-08-01T09:30:00.123456Z", "2025-08-01"},
		{"2025-08-01T09:30:00Z", "2025-08-01"},
		{"1970-01-01T00:00:00.000Z", ""},
		{"not a date", ""},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, vbtDate(tt.in), "vbtDate(%q)", tt.in)
	}
}

func TestVBTParseSearchPageBadJSON(t *testing.T) {
	t.Parallel()

	s := NewVBT(nil)
	_, err := s.ParseSearchPage("<html>definitely not json</html>")
	require.Error(t, err)
}

func TestVBTParseListingPageJSON(t *testing.T) {
	t.Parallel()

	payload := `{"house": {"id": 99, "status": {"name": "available"}, "address": {"city": "Leiden", "house": "Rapenburg 1"}}}`
	s := NewVBT(nil)
	l, err := s.ParseListingPage(payload, "https://www.vbtverhuurmakelaars.nl/woning/leiden-rapenburg-99")
	require.NoError(t, err)
	require.Equal(t, "99", l.SourceID)
	require.Equal(t, "Rapenburg 1", l.Address)
	require.NotEmpty(t, l.ContentHash)
}

func TestVBTParseListingPageFallsBackToURL(t *testing.T) {
	t.Parallel()

	s := NewVBT(nil)
	l, err := s.ParseListingPage("<html>not json</html>", "https://www.vbtverhuurmakelaars.nl/woning/leiden-breestraat-4711")
	require.NoError(t, err)
	require.Equal(t, "4711", l.SourceID)
	require.Equal(t, "https://www.vbtverhuurmakelaars.nl/woning/leiden-breestraat-4711", l.URL)
	require.NotEmpty(t, l.ContentHash)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	s, err := Get("vb&t")
	require.NoError(t, err)
	require.Equal(t, "vb&t", s.Source())

	_, err = Get("unknown-portal")
	require.Error(t, err)

	require.Contains(t, Sources(), "vb&t")
}
