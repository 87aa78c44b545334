// Package fetcher issues polite HTTP GETs on behalf of the crawl pipeline:
// per-host rate limiting, bounded per-host concurrency, jittered retry, and
// distinguishable error kinds (spec §4.2, C2).
package fetcher

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultTimeout      = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultRatePerSec   = 1.0
	defaultBurst        = 3
	defaultHostPoolSize = 2
)

// Options overrides the per-request behaviour of Fetch.
type Options struct {
	Headers map[string]string
	Timeout time.Duration
}

// Result is the outcome of a successful fetch.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FinalURL   string // after redirects
	ElapsedMS  int64
}

// HostPolicy overrides the default rate/concurrency limits for one host,
// supplied from per-OEM "politeness_override" config (spec §6).
type HostPolicy struct {
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int
}

// Fetcher issues rate-limited, retried HTTP GETs. Safe for concurrent use;
// per-host state is created lazily and guarded by a mutex, per §5's "shared
// resources guarded by a mutex" model.
type Fetcher struct {
	client    *http.Client
	userAgent string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	gates    map[string]chan struct{}
	policies map[string]HostPolicy

	logger *slog.Logger
}

// New builds a Fetcher. logger may be nil, in which case slog.Default() is used.
func New(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: defaultUserAgent,
		limiters:  make(map[string]*rate.Limiter),
		gates:     make(map[string]chan struct{}),
		policies:  make(map[string]HostPolicy),
		logger:    logger,
	}
}

// SetHostPolicy installs a per-host override, replacing the default
// R=1req/s, burst 3, 2-concurrent policy for that host.
func (f *Fetcher) SetHostPolicy(host string, p HostPolicy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[host] = p
	delete(f.limiters, host)
	delete(f.gates, host)
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[host]; ok {
		return l
	}
	r, b := rate.Limit(defaultRatePerSec), defaultBurst
	if p, ok := f.policies[host]; ok {
		if p.RequestsPerSecond > 0 {
			r = rate.Limit(p.RequestsPerSecond)
		}
		if p.Burst > 0 {
			b = p.Burst
		}
	}
	l := rate.NewLimiter(r, b)
	f.limiters[host] = l
	return l
}

func (f *Fetcher) gateFor(host string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gates[host]; ok {
		return g
	}
	size := defaultHostPoolSize
	if p, ok := f.policies[host]; ok && p.MaxConcurrent > 0 {
		size = p.MaxConcurrent
	}
	g := make(chan struct{}, size)
	f.gates[host] = g
	return g
}

// Fetch issues a GET to rawURL, respecting the per-host rate limit and
// concurrency gate, retrying transient failures with jittered exponential
// backoff (spec §4.2).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindPermanent4xx, URL: rawURL, Err: err}
	}
	host := u.Hostname()

	limiter := f.limiterFor(host)
	gate := f.gateFor(host)

	var lastErr error
	var retryAfter time.Duration

	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		if retryAfter > 0 {
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return nil, &Error{Kind: KindTimeout, URL: rawURL, Attempts: attempt - 1, Err: ctx.Err()}
			}
			retryAfter = 0
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTimeout, URL: rawURL, Attempts: attempt - 1, Err: err}
		}

		select {
		case gate <- struct{}{}:
		case <-ctx.Done():
			return nil, &Error{Kind: KindTimeout, URL: rawURL, Attempts: attempt - 1, Err: ctx.Err()}
		}

		result, retryIn, fetchErr := f.attempt(ctx, rawURL, opts)
		<-gate

		if fetchErr == nil {
			return result, nil
		}
		lastErr = fetchErr

		var fe *Error
		if isFetchError(fetchErr, &fe) {
			if !isRetryableKind(fe.Kind) || attempt == defaultMaxAttempts {
				fe.Attempts = attempt
				return nil, fe
			}
		}

		if retryIn > 0 {
			retryAfter = retryIn
		} else {
			retryAfter = backoff(attempt)
		}

		f.logger.Warn("fetch attempt failed, retrying",
			"url", rawURL, "attempt", attempt, "retry_in", retryAfter, "error", fetchErr)
	}

	return nil, lastErr
}

func isFetchError(err error, target **Error) bool {
	fe, ok := err.(*Error)
	if ok {
		*target = fe
	}
	return ok
}

func isRetryableKind(k Kind) bool {
	return k == KindTransient || k == KindBlocked || k == KindTimeout
}

// attempt performs exactly one HTTP round trip. The returned duration is a
// server-requested Retry-After delay (0 if none was present).
func (f *Fetcher) attempt(ctx context.Context, rawURL string, opts Options) (*Result, time.Duration, error) {
	start := time.Now()

	timeout := defaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindPermanent4xx, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, 0, &Error{Kind: KindTimeout, URL: rawURL, Err: err}
		}
		return nil, 0, &Error{Kind: KindTransient, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransient, URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		// CheckRedirect already followed standard redirects; a 3xx reaching
		// here means the redirect budget was exhausted.
		return nil, 0, &Error{Kind: KindPermanent4xx, URL: rawURL, StatusCode: resp.StatusCode, Err: errTooManyRedirects}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Result{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       body,
			FinalURL:   resp.Request.URL.String(),
			ElapsedMS:  time.Since(start).Milliseconds(),
		}, 0, nil
	}

	kind, retryable := classifyStatus(resp.StatusCode)
	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	fe := &Error{Kind: kind, URL: rawURL, StatusCode: resp.StatusCode, RetryAfter: int(retryAfter.Seconds()), Err: errHTTPStatus(resp.StatusCode)}
	if !retryable {
		return nil, 0, fe
	}
	return nil, retryAfter, fe
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}

// backoff computes a jittered exponential delay: base 500ms, doubling per
// attempt, +/-20% jitter.
func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	d := base << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	if rand.Intn(2) == 0 {
		return d + jitter
	}
	return d - jitter
}
