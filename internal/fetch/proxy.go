package fetch

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// ProxyRouter picks a proxy for outbound requests. A fresh proxy is drawn on
// every attempt so anti-bot retries do not reuse a burned exit address.
type ProxyRouter struct {
	enabled bool
	proxies []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProxyRouter builds a router over the configured proxy set. Enabling
// proxies with an empty set is a configuration mistake: it is force-disabled
// with a warning rather than failing every request later.
func NewProxyRouter(enabled bool, proxies []string, rng *rand.Rand, logger *zap.Logger) *ProxyRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if enabled && len(proxies) == 0 {
		logger.Warn("proxy usage enabled but no proxies configured, disabling proxy usage")
		enabled = false
	}
	return &ProxyRouter{
		enabled: enabled,
		proxies: append([]string(nil), proxies...),
		rng:     rng,
	}
}

// Enabled reports whether proxy routing is active.
func (r *ProxyRouter) Enabled() bool {
	if r == nil {
		return false
	}
	return r.enabled
}

// Pick returns a uniformly random proxy address, or ok=false when proxy
// usage is disabled or the set is empty.
func (r *ProxyRouter) Pick() (string, bool) {
	if r == nil || !r.enabled || len(r.proxies) == 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proxies[r.rng.Intn(len(r.proxies))], true
}
