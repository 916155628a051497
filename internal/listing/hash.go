package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ComputeHash derives the content-addressed identifier for a listing. The
// identifying fields are joined in a fixed priority order so that two builds
// of the same real-world listing, from the same or different crawls, hash
// identically. A listing with no identifying fields at all receives a random
// identifier so that two such listings never collide.
func ComputeHash(l *Listing) string {
	identifiers := make([]string, 0, 8)
	if l.URL != "" {
		identifiers = append(identifiers, l.URL)
	}
	if l.SourceID != "" {
		identifiers = append(identifiers, l.SourceID)
	}
	if l.Title != "" {
		identifiers = append(identifiers, l.Title)
	}
	if l.Address != "" {
		identifiers = append(identifiers, l.Address)
	}
	if l.PostalCode != "" {
		identifiers = append(identifiers, l.PostalCode)
	}
	if l.City != "" {
		identifiers = append(identifiers, l.City)
	}
	if l.LivingArea > 0 {
		identifiers = append(identifiers, fmt.Sprintf("area:%d", l.LivingArea))
	}
	if l.PriceNumeric > 0 {
		identifiers = append(identifiers, fmt.Sprintf("price:%d", l.PriceNumeric))
	}
	if len(identifiers) == 0 {
		identifiers = append(identifiers, uuid.NewString())
	}

	sum := sha256.Sum256([]byte(strings.Join(identifiers, "|")))
	return hex.EncodeToString(sum[:])
}

// Finalize computes and stores the content hash. Call once, after extraction
// has filled in every field it is going to fill.
func (l *Listing) Finalize() {
	l.ContentHash = ComputeHash(l)
}
