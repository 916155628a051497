package fetch

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProxyRouterDisabledWithEmptySet(t *testing.T) {
	t.Parallel()

	r := NewProxyRouter(true, nil, rand.New(rand.NewSource(1)), zap.NewNop())
	require.False(t, r.Enabled())
	_, ok := r.Pick()
	require.False(t, ok)
}

func TestProxyRouterPicksFromSet(t *testing.T) {
	t.Parallel()

	proxies := []string{"http://10.0.0.1:8080", "http://10.0.0.2:8080"}
	r := NewProxyRouter(true, proxies, rand.New(rand.NewSource(1)), zap.NewNop())
	require.True(t, r.Enabled())

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		p, ok := r.Pick()
		require.True(t, ok)
		require.Contains(t, proxies, p)
		seen[p] = true
	}
	require.Len(t, seen, 2, "both proxies should be drawn over 50 picks")
}

func TestProxyRouterDisabledPickReturnsNothing(t *testing.T) {
	t.Parallel()

	r := NewProxyRouter(false, []string{"http://10.0.0.1:8080"}, rand.New(rand.NewSource(1)), zap.NewNop())
	_, ok := r.Pick()
	require.False(t, ok)
}
