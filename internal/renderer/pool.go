// Package renderer exposes a single-tab headless browser session with
// navigate/screenshot/evaluate plus a network observer that records every
// request/response for the lifetime of the session (spec §4.3, C3).
package renderer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("renderer: pool is closed")
)

// PoolConfig bounds concurrent sessions and browser recycling.
type PoolConfig struct {
	MaxSessions    int           // S in spec §4.3, default 4
	ChromePath     string        // optional explicit binary
	BrowserMaxAge  time.Duration // recycle after this age
	BrowserMaxReqs int           // recycle after this many sessions have been released
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 4
	}
	if c.BrowserMaxAge <= 0 {
		c.BrowserMaxAge = time.Hour
	}
	if c.BrowserMaxReqs <= 0 {
		c.BrowserMaxReqs = 200
	}
	return c
}

type managedBrowser struct {
	id        string
	browser   *rod.Browser
	createdAt time.Time
	reqCount  int
}

// Pool caps live sessions at MaxSessions (one session = one tab, per spec
// §4.3) and opens each session's tab on a Chromium browser process.
// Concurrent tabs share a browser until it passes BrowserMaxAge or
// BrowserMaxReqs; later sessions then go to another fresh browser or a newly
// launched one. Every launched browser stays open until Close.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger

	mu       sync.Mutex
	browsers []*managedBrowser
	sem      chan struct{}
	closed   bool
}

// NewPool constructs a Pool. Chromium is not launched until the first Acquire.
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxSessions),
	}
}

// Warmup ensures Chromium is downloaded ahead of the first real session.
func (p *Pool) Warmup(ctx context.Context) error {
	if p.cfg.ChromePath != "" {
		return nil
	}
	_, err := launcher.NewBrowser().Context(ctx).Get()
	return err
}

// Acquire blocks until a session slot is available (or ctx is cancelled),
// launches or reuses a browser, and returns a fresh Session over a new tab.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, ErrPoolClosed
	}
	mb, err := p.pickOrCreateLocked()
	p.mu.Unlock()
	if err != nil {
		<-p.sem
		return nil, err
	}

	sess, err := newSession(mb.browser, func() {
		p.mu.Lock()
		mb.reqCount++
		p.mu.Unlock()
		<-p.sem
	})
	if err != nil {
		<-p.sem
		return nil, err
	}
	return sess, nil
}

func (p *Pool) pickOrCreateLocked() (*managedBrowser, error) {
	for _, mb := range p.browsers {
		if time.Since(mb.createdAt) < p.cfg.BrowserMaxAge && mb.reqCount < p.cfg.BrowserMaxReqs {
			return mb, nil
		}
	}

	l := launcher.New()
	if p.cfg.ChromePath != "" {
		l = l.Bin(p.cfg.ChromePath)
	}
	l = l.
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-infobars").
		Set("window-size", "1920,1080").
		Set("lang", "en-US,en")

	u, err := l.Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	mb := &managedBrowser{id: ulid.Make().String(), browser: browser, createdAt: time.Now()}
	p.browsers = append(p.browsers, mb)
	p.logger.Info("renderer browser launched", "id", mb.id)
	return mb, nil
}

// Close shuts down every browser in the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, mb := range p.browsers {
		if err := mb.browser.Close(); err != nil {
			p.logger.Warn("error closing renderer browser", "id", mb.id, "error", err)
		}
	}
	p.browsers = nil
}
