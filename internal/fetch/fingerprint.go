package fetch

import (
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"time"
)

// Fingerprint is one emulated browser identity: the header set and cookie
// template sent with a request. Catalog entries are never mutated; cookie
// templates are copied before per-session values are mixed in.
type Fingerprint struct {
	Name    string
	Headers map[string]string
	Cookies map[string]string
}

// clone returns a Fingerprint whose maps can be mutated safely.
func (f Fingerprint) clone() Fingerprint {
	out := Fingerprint{Name: f.Name}
	out.Headers = make(map[string]string, len(f.Headers))
	for k, v := range f.Headers {
		out.Headers[k] = v
	}
	out.Cookies = make(map[string]string, len(f.Cookies))
	for k, v := range f.Cookies {
		out.Cookies[k] = v
	}
	return out
}

// defaultProfiles are the baseline browser identities used on attempt zero.
type defaultProfile struct {
	name           string
	userAgent      string
	secChUA        string
	secChUAMobile  string
	secChUAPlatfrm string
	chromium       bool
}

var defaultProfiles = []defaultProfile{
	{
		name:           "Chrome Windows",
		userAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
		secChUA:        `"Chromium";v="112", "Google Chrome";v="112", "Not:A-Brand";v="99"`,
		secChUAMobile:  "?0",
		secChUAPlatfrm: `"Windows"`,
		chromium:       true,
	},
	{
		name:           "Chrome macOS",
		userAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
		secChUA:        `"Chromium";v="112", "Google Chrome";v="112", "Not:A-Brand";v="99"`,
		secChUAMobile:  "?0",
		secChUAPlatfrm: `"macOS"`,
		chromium:       true,
	},
	{
		name:           "Chrome Linux",
		userAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
		secChUA:        `"Chromium";v="112", "Google Chrome";v="112", "Not:A-Brand";v="99"`,
		secChUAMobile:  "?0",
		secChUAPlatfrm: `"Linux"`,
		chromium:       true,
	},
	{
		name:      "Firefox Windows",
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/109.0",
	},
	{
		name:      "Safari macOS",
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15",
	},
	{
		name:           "Edge Windows",
		userAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36 Edg/112.0.1722.48",
		secChUA:        `"Chromium";v="112", "Microsoft Edge";v="112", "Not:A-Brand";v="99"`,
		secChUAMobile:  "?0",
		secChUAPlatfrm: `"Windows"`,
		chromium:       true,
	},
}

var referers = []string{
	"https://www.google.com/",
	"https://www.google.nl/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
	"https://www.startpage.com/",
}

// DefaultFingerprint builds an attempt-zero identity: a randomly chosen
// baseline browser profile with a full emulated header set and no cookies.
func DefaultFingerprint(rng *rand.Rand) Fingerprint {
	p := defaultProfiles[rng.Intn(len(defaultProfiles))]
	headers := map[string]string{
		"User-Agent":                p.userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Language":           "en-US,en;q=0.9,nl;q=0.8",
		"Accept-Encoding":           "gzip, deflate, br",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Cache-Control":             "max-age=0",
		"DNT":                       "1",
		"Referer":                   referers[rng.Intn(len(referers))],
	}
	if p.chromium {
		headers["Sec-Fetch-Dest"] = "document"
		headers["Sec-Fetch-Mode"] = "navigate"
		headers["Sec-Fetch-Site"] = "none"
		headers["Sec-Fetch-User"] = "?1"
		headers["Priority"] = "u=0, i"
	}
	if p.secChUA != "" {
		headers["sec-ch-ua"] = p.secChUA
		headers["sec-ch-ua-mobile"] = p.secChUAMobile
		headers["sec-ch-ua-platform"] = p.secChUAPlatfrm
	}
	return Fingerprint{Name: p.name, Headers: headers}
}

// Catalog is the ordered set of evasion fingerprints walked across anti-bot
// retries. It is a package-level table so retry-sequencing tests can assert
// against it, and clients may swap in their own via Config.
var Catalog = []Fingerprint{
	{
		Name: "Desktop Chrome",
		Headers: map[string]string{
			"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9,nl;q=0.8",
			"Accept-Encoding":           "gzip, deflate, br",
			"Connection":                "keep-alive",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "same-origin",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
			"Cache-Control":             "max-age=0",
		},
		Cookies: map[string]string{
			"has_js":         "1",
			"accept_cookies": "true",
		},
	},
	{
		Name: "Mobile Safari",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (iPhone; CPU iPhone OS 16_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Mobile/15E148 Safari/604.1",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "nl-NL,nl;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
			"Connection":      "keep-alive",
			"Referer":         "https://www.google.com/",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
		},
		Cookies: map[string]string{
			"session_depth":  "3",
			"has_js":         "1",
			"resolution":     "375x812",
			"accept_cookies": "true",
			"cookieConsent":  "true",
			"device":         "mobile",
		},
	},
	{
		Name: "Desktop Safari",
		Headers: map[string]string{
			"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language":           "nl-NL,nl;q=0.8,en-US;q=0.5,en;q=0.3",
			"Accept-Encoding":           "gzip, deflate, br",
			"Connection":                "keep-alive",
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
		},
		Cookies: map[string]string{
			"session_depth":  "5",
			"has_js":         "1",
			"resolution":     "1440x900",
			"accept_cookies": "true",
			"visited_before": "true",
			"consent_level":  "ALL",
		},
	},
	{
		Name: "Firefox Linux",
		Headers: map[string]string{
			"User-Agent":                "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/113.0",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.5",
			"Accept-Encoding":           "gzip, deflate, br",
			"Connection":                "keep-alive",
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
		},
		Cookies: map[string]string{
			"session_depth":  "2",
			"has_js":         "1",
			"resolution":     "1920x1080",
			"accept_cookies": "true",
		},
	},
	{
		Name: "Edge Windows",
		Headers: map[string]string{
			"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36 Edg/113.0.1774.57",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
			"Accept-Language":           "en-US,en;q=0.9",
			"Accept-Encoding":           "gzip, deflate, br",
			"Connection":                "keep-alive",
			"Referer":                   "https://www.bing.com/",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "cross-site",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
			"sec-ch-ua":                 `"Microsoft Edge";v="113", "Chromium";v="113", "Not-A.Brand";v="24"`,
			"sec-ch-ua-mobile":          "?0",
			"sec-ch-ua-platform":        `"Windows"`,
		},
		Cookies: map[string]string{
			"session_depth":  "4",
			"has_js":         "1",
			"resolution":     "1366x768",
			"accept_cookies": "true",
			"visited_before": "true",
		},
	},
}

var resolutionWidths = []int{1920, 1440, 1366, 1280}
var resolutionHeights = []int{1080, 900, 768, 720}

// sessionCookies generates cookies resembling a renewed human browsing
// session. Regenerated on every attempt so repeated retries do not present
// identical session state.
func sessionCookies(rng *rand.Rand, now time.Time) map[string]string {
	return map[string]string{
		"session_depth":  strconv.Itoa(5 + rng.Intn(6)),
		"has_js":         "1",
		"resolution":     fmt.Sprintf("%dx%d", resolutionWidths[rng.Intn(len(resolutionWidths))], resolutionHeights[rng.Intn(len(resolutionHeights))]),
		"accept_cookies": "true",
		"visited_before": "true",
		"lastVisit":      strconv.FormatInt(now.Unix()-int64(3600+rng.Intn(82800)), 10),
	}
}

// SynthesizedFingerprint builds a fresh randomized identity for attempts past
// the end of the catalog, so the same fingerprint is never replayed verbatim.
func SynthesizedFingerprint(rng *rand.Rand, now time.Time) Fingerprint {
	fp := DefaultFingerprint(rng)
	fp.Name = fp.Name + " (randomized)"
	fp.Cookies = sessionCookies(rng, now)
	return fp
}

// fingerprintForAttempt selects the identity for one retry attempt: the
// catalog entry at min(attempt-1, len-1), or a synthesized one when the
// catalog has already been walked end to end. Attempt 0 is handled by
// DefaultFingerprint and never reaches here.
func fingerprintForAttempt(catalog []Fingerprint, attempt int, rng *rand.Rand, now time.Time) Fingerprint {
	if len(catalog) == 0 || attempt > len(catalog) {
		return SynthesizedFingerprint(rng, now)
	}
	idx := attempt - 1
	if idx >= len(catalog) {
		idx = len(catalog) - 1
	}
	fp := catalog[idx].clone()
	// Refresh session-looking cookies so each retry presents a new session.
	if ts, ok := fp.Cookies["lastVisit"]; ok && ts != "" {
		fp.Cookies["lastVisit"] = strconv.FormatInt(now.Unix(), 10)
	}
	return fp
}

// originReferer derives a same-origin referer for a target URL, matching how
// a human would arrive at a deep link from the site's front page.
func originReferer(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
