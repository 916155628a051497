package telemetry

import (
	"testing"
	"time"
)

func TestSiteLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://Vbtverhuurmakelaars.nl/woningen?page=2", "vbtverhuurmakelaars.nl"},
		{"http://localhost:8080/path", "localhost"},
		{"vbtverhuurmakelaars.nl/woningen", "vbtverhuurmakelaars.nl"},
		{"", "unknown"},
		{"://bad", "unknown"},
	}
	for _, tt := range tests {
		if got := SiteLabel(tt.in); got != tt.want {
			t.Fatalf("SiteLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Observations after Init must not panic.
	ObserveFetchAttempt("https://example.com", 200, 120*time.Millisecond)
	ObserveAntiBotDetection("https://example.com")
	ObserveRateLimited("https://example.com")
	ObserveProxyFallback()
	ObserveListings("vb&t", 20, 3)
	ObserveScrapeRun(42 * time.Second)
}
