package fetch

import "strings"

// antiBotSignatures are phrases that indicate an automated-traffic wall was
// served instead of the requested page. Matching is case-insensitive
// substring; the Dutch phrases come from the housing portals this system
// targets.
var antiBotSignatures = []string{
	"je bent bijna op de pagina die je zoekt",
	"we houden ons platform graag veilig en spamvrij",
	"robot",
	"captcha",
	"cloudfare",
	"ddos protection",
	"ik ben geen robot",
	"just a moment",
}

// DetectAntiBot reports whether the body matches a known anti-bot signature,
// returning the matched phrase for logging.
func DetectAntiBot(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, sig := range antiBotSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}
