// Package fetch implements the resilient HTTP acquisition layer: a gated
// client that drives each logical fetch through an anti-bot retry loop with
// rotating browser fingerprints, manual decompression and charset decoding,
// and proxy routing with direct fallback.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/huurwatch/rental-crawler/internal/telemetry"
)

// Config controls client behavior.
type Config struct {
	// Timeout bounds one attempt end to end.
	Timeout time.Duration
	// MaxAntiBotRetries is the retry budget for one logical fetch. Zero
	// means a single attempt with no retries; negative means the default.
	MaxAntiBotRetries int
	// MaxConcurrent caps simultaneous in-flight attempts across all callers.
	MaxConcurrent int64
	// DelayUnit scales the humanlike inter-attempt delays. Production leaves
	// it at one second; tests shrink it so retry sequences run instantly.
	DelayUnit time.Duration
	// PerHostRPS and PerHostBurst configure the politeness limiter. Zero RPS
	// disables it.
	PerHostRPS   float64
	PerHostBurst int
	// Catalog overrides the default fingerprint catalog when non-nil.
	Catalog []Fingerprint
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAntiBotRetries < 0 {
		c.MaxAntiBotRetries = 8
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.DelayUnit <= 0 {
		c.DelayUnit = time.Second
	}
	if c.Catalog == nil {
		c.Catalog = Catalog
	}
	return c
}

// Options tunes a single Fetch call.
type Options struct {
	// Headers are merged over the fingerprint's header set.
	Headers map[string]string
	// Cookies are merged over the fingerprint's cookie template.
	Cookies map[string]string
	// DisableAntiBotRetry turns off content-based retries. Transport-level
	// conditions (429, 5xx, request errors) are still retried.
	DisableAntiBotRetry bool
}

// Result is what a successful fetch hands back to the caller. Ownership
// transfers fully; the client keeps no reference.
type Result struct {
	URL         string
	StatusCode  int
	Header      http.Header
	Body        []byte
	Text        string
	Redirects   int
	Attempts    int
	Fingerprint string

	// raw holds the pre-decompression bytes for the suspicious-payload pass.
	raw []byte
}

// Suspicious reports whether the payload looks like it was not decoded
// properly: near-empty text or binary markers in the raw bytes.
func (r *Result) Suspicious() bool {
	return len(r.Text) < 100 || bytes.IndexByte(r.raw, 0x00) >= 0
}

// Client is the single public entry point for network acquisition. Concurrency
// is bounded by a weighted semaphore; callers block in Acquire until a slot
// frees up, which is the primary backpressure mechanism protecting target
// servers.
type Client struct {
	cfg     Config
	gate    *semaphore.Weighted
	proxies *ProxyRouter
	limiter *hostLimiter
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand

	base http.RoundTripper

	transportMu sync.Mutex
	transports  map[string]*http.Transport
}

// Option customizes a Client.
type Option func(*Client)

// WithRand injects the random source, making fingerprint rotation and delay
// draws deterministic in tests.
func WithRand(rng *rand.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// WithTransport replaces the HTTP transport for every attempt, proxied or
// not. Intended for tests that stub the network.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// NewClient builds a Client.
func NewClient(cfg Config, proxies *ProxyRouter, logger *zap.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		gate:       semaphore.NewWeighted(cfg.MaxConcurrent),
		proxies:    proxies,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		transports: make(map[string]*http.Transport),
	}
	if cfg.PerHostRPS > 0 {
		c.limiter = newHostLimiter(cfg.PerHostRPS, cfg.PerHostBurst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves a URL, driving the anti-bot retry state machine until it
// reaches a terminal state. It returns an error only after the retry budget
// is exhausted on hard failures or on a non-retryable condition; an exhausted
// budget with a response in hand returns that response best-effort.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	return c.fetch(ctx, rawURL, opts, false)
}

// FetchWithFallback behaves like Fetch, but when proxy routing is enabled and
// the proxied fetch fails with a request-level error it retries exactly once
// over a direct connection. The proxy preference is a per-call override, so
// concurrent fetches never observe a mutated shared flag.
func (c *Client) FetchWithFallback(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if !c.proxies.Enabled() {
		return c.fetch(ctx, rawURL, opts, false)
	}
	res, err := c.fetch(ctx, rawURL, opts, false)
	if err == nil {
		return res, nil
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindCanceled {
		return nil, err
	}
	c.logger.Warn("proxied fetch failed, falling back to direct connection",
		zap.String("url", rawURL),
		zap.Error(err),
	)
	telemetry.ObserveProxyFallback()
	return c.fetch(ctx, rawURL, opts, true)
}

func (c *Client) fetch(ctx context.Context, rawURL string, opts Options, noProxy bool) (*Result, error) {
	var (
		last    *Result
		lastErr error
	)

	maxRetries := c.cfg.MaxAntiBotRetries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		fp := c.selectFingerprint(attempt, rawURL)

		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelay(attempt)); err != nil {
				return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: err}
			}
			c.logger.Info("retrying fetch",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Int("budget", maxRetries),
				zap.String("fingerprint", fp.Name),
			)
		}

		res, err := c.attempt(ctx, rawURL, fp, opts, noProxy)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && (fe.Kind == KindRedirect || fe.Kind == KindCanceled) {
				return nil, err
			}
			c.logger.Warn("fetch attempt failed", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
			last, lastErr = nil, err
			continue
		}
		res.Attempts = attempt + 1
		res.Fingerprint = fp.Name

		switch {
		case res.StatusCode == http.StatusTooManyRequests:
			telemetry.ObserveRateLimited(rawURL)
			wait := retryAfter(res.Header)
			c.logger.Warn("rate limited",
				zap.String("url", rawURL),
				zap.Duration("retry_after", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: err}
			}
			last = res
			lastErr = &FetchError{Kind: KindRateLimited, URL: rawURL, StatusCode: res.StatusCode}
			continue

		case res.StatusCode == http.StatusNotFound:
			// Permanent: hand back to the caller, never retry.
			return res, nil

		case res.StatusCode >= 400:
			c.logger.Warn("http error response", zap.String("url", rawURL), zap.Int("status", res.StatusCode))
			last = nil
			lastErr = &FetchError{Kind: KindHTTPStatus, URL: rawURL, StatusCode: res.StatusCode}
			continue
		}

		// A 200 with a near-empty or binary body usually means the server lied
		// about (or omitted) the content encoding. Force a manual pass before
		// inspecting the text.
		if res.StatusCode == http.StatusOK && res.Suspicious() {
			decompressed := SniffDecompress(res.raw)
			res.Body = decompressed
			res.Text = Decode(decompressed, charsetFromContentType(res.Header.Get("Content-Type")))
		}

		if !opts.DisableAntiBotRetry {
			if sig, detected := DetectAntiBot(res.Text); detected {
				telemetry.ObserveAntiBotDetection(rawURL)
				c.logger.Warn("anti-bot signature detected",
					zap.String("url", rawURL),
					zap.String("signature", sig),
					zap.Int("attempt", attempt),
				)
				if attempt < maxRetries {
					last = res
					lastErr = nil
					continue
				}
				// Budget spent. The flagged body still goes back to the
				// caller; a false positive must not discard a good page.
				return res, nil
			}
		}

		if attempt > 0 {
			c.logger.Info("fetch recovered after retries", zap.String("url", rawURL), zap.Int("attempts", attempt+1))
		}
		return res, nil
	}

	// Budget exhausted. A response in hand goes back to the caller as
	// best-effort data: a false-positive anti-bot signature must not discard
	// a legitimately good page, and a final 429 body is still a body.
	if last != nil {
		c.logger.Warn("retry budget exhausted, returning last response",
			zap.String("url", rawURL),
			zap.Int("status", last.StatusCode),
		)
		return last, nil
	}
	return nil, &FetchError{Kind: KindExhausted, URL: rawURL, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, rawURL string, fp Fingerprint, opts Options, noProxy bool) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: err}
		}
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: err}
	}
	defer c.gate.Release(1)

	// Small humanlike pause inside the gate, like a reader settling on a page.
	if err := c.sleep(ctx, c.humanJitter()); err != nil {
		return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: err}
	}

	proxyURL := ""
	if !noProxy {
		if p, ok := c.proxies.Pick(); ok {
			proxyURL = p
		}
	}

	redirects := 0
	httpClient := &http.Client{
		Transport: c.transport(proxyURL),
		Timeout:   c.cfg.Timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			redirects = len(via)
			if len(via) > 10 {
				return errTooManyRedirects
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}
	applyFingerprint(req, fp, rawURL)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	for name, value := range opts.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) {
			return nil, &FetchError{Kind: KindRedirect, URL: rawURL, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &FetchError{Kind: KindCanceled, URL: rawURL, Err: ctx.Err()}
		}
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	telemetry.ObserveFetchAttempt(rawURL, resp.StatusCode, time.Since(start))

	body := Decompress(raw, resp.Header.Get("Content-Encoding"))
	text := Decode(body, charsetFromContentType(resp.Header.Get("Content-Type")))

	return &Result{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Text:       text,
		Redirects:  redirects,
		raw:        raw,
	}, nil
}

// selectFingerprint implements the rotation policy: a random baseline profile
// on attempt zero, then progressively deeper catalog entries, then synthesized
// randomized identities once the catalog is spent.
func (c *Client) selectFingerprint(attempt int, rawURL string) Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt == 0 {
		return DefaultFingerprint(c.rng)
	}
	fp := fingerprintForAttempt(c.cfg.Catalog, attempt, c.rng, time.Now())
	if _, ok := fp.Headers["Referer"]; !ok {
		if ref := originReferer(rawURL); ref != "" {
			fp.Headers["Referer"] = ref
		}
	}
	return fp
}

// retryDelay draws the pre-attempt sleep: uniform in [2u*n, 5u*n] where n is
// the attempt number and u the delay unit. Grows linearly so successive
// retries look like an increasingly patient human, not a tight loop.
func (c *Client) retryDelay(attempt int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo := 2.0 * float64(attempt)
	hi := 5.0 * float64(attempt)
	scale := lo + c.rng.Float64()*(hi-lo)
	return time.Duration(scale * float64(c.cfg.DelayUnit))
}

// humanJitter draws the short in-gate pause, uniform in [0.5u, 2u].
func (c *Client) humanJitter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	scale := 0.5 + c.rng.Float64()*1.5
	return time.Duration(scale * float64(c.cfg.DelayUnit) / 4)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transport returns a pooled transport for the given proxy address ("" means
// direct). Compression is disabled at the transport level: the codec layer
// owns decompression so the raw bytes stay available for the suspicious
// payload pass.
func (c *Client) transport(proxyURL string) http.RoundTripper {
	if c.base != nil {
		return c.base
	}
	c.transportMu.Lock()
	defer c.transportMu.Unlock()
	if t, ok := c.transports[proxyURL]; ok {
		return t
	}
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			t.Proxy = http.ProxyURL(u)
		} else {
			c.logger.Warn("invalid proxy address, using direct connection", zap.String("proxy", proxyURL))
		}
	}
	c.transports[proxyURL] = t
	return t
}

func applyFingerprint(req *http.Request, fp Fingerprint, rawURL string) {
	for k, v := range fp.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Referer") == "" {
		if ref := originReferer(rawURL); ref != "" {
			req.Header.Set("Referer", ref)
		}
	}
	for name, value := range fp.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// retryAfter parses the Retry-After header, defaulting to 5 seconds.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 5 * time.Second
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 5 * time.Second
	}
	return time.Duration(secs) * time.Second
}
