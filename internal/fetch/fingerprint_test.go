package fetch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultFingerprintDeterministicWithSeededRand(t *testing.T) {
	t.Parallel()

	a := DefaultFingerprint(rand.New(rand.NewSource(7)))
	b := DefaultFingerprint(rand.New(rand.NewSource(7)))
	require.Equal(t, a.Name, b.Name)
	require.Equal(t, a.Headers["User-Agent"], b.Headers["User-Agent"])
	require.NotEmpty(t, a.Headers["Accept-Encoding"])
	require.Contains(t, a.Headers["Accept-Encoding"], "br")
}

func TestFingerprintForAttemptWalksCatalogInOrder(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	now := time.Now()
	for i := 1; i <= len(Catalog); i++ {
		fp := fingerprintForAttempt(Catalog, i, rng, now)
		require.Equal(t, Catalog[i-1].Name, fp.Name, "attempt %d", i)
	}
}

func TestFingerprintForAttemptSynthesizesPastCatalog(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))
	now := time.Now()
	fp := fingerprintForAttempt(Catalog, len(Catalog)+1, rng, now)
	require.Contains(t, fp.Name, "randomized")
	require.NotEmpty(t, fp.Cookies["session_depth"])
	require.NotEmpty(t, fp.Cookies["lastVisit"])
}

func TestFingerprintCloneDoesNotAliasCatalog(t *testing.T) {
	t.Parallel()

	fp := Catalog[0].clone()
	fp.Headers["User-Agent"] = "mutated"
	fp.Cookies["extra"] = "1"
	require.NotEqual(t, "mutated", Catalog[0].Headers["User-Agent"])
	_, ok := Catalog[0].Cookies["extra"]
	require.False(t, ok)
}

func TestOriginReferer(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.vbtverhuurmakelaars.nl/", originReferer("https://www.vbtverhuurmakelaars.nl/woning/leiden-1"))
	require.Equal(t, "", originReferer("not a url"))
}
