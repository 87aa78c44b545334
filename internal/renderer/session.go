package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// WaitPolicy controls how long navigate waits before considering the page
// settled (spec §4.3).
type WaitPolicy struct {
	Kind  WaitKind
	Delay time.Duration // used by FixedDelay and as the idle window by NetworkIdle
}

type WaitKind string

const (
	WaitDOMContentLoaded WaitKind = "dom_content_loaded"
	WaitNetworkIdle      WaitKind = "network_idle"
	WaitFixedDelay       WaitKind = "fixed_delay"
)

// Session is one browser tab, live for the duration of a single page render.
// It owns a NetworkObserver attached before navigation so no requests are
// missed.
type Session struct {
	page     *rod.Page
	observer *NetworkObserver
	release  func()
	closed   bool
}

func newSession(browser *rod.Browser, release func()) (*Session, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		release()
		return nil, fmt.Errorf("renderer: create stealth page: %w", err)
	}

	sess := &Session{page: page, release: release}
	sess.observer = newNetworkObserver(page)
	sess.observer.attach()

	if err := proto.NetworkEnable{}.Call(page); err != nil {
		page.Close()
		release()
		return nil, fmt.Errorf("renderer: enable network domain: %w", err)
	}

	return sess, nil
}

// Navigate loads url and waits according to policy.
func (s *Session) Navigate(ctx context.Context, url string, policy WaitPolicy) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("renderer: navigate %s: %w", url, err)
	}

	switch policy.Kind {
	case WaitNetworkIdle:
		delay := policy.Delay
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		if err := p.WaitStable(delay); err != nil {
			return fmt.Errorf("renderer: wait network idle: %w", err)
		}
	case WaitFixedDelay:
		select {
		case <-time.After(policy.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	case WaitDOMContentLoaded, "":
		if err := p.WaitDOMStable(300*time.Millisecond, 0); err != nil {
			return fmt.Errorf("renderer: wait dom stable: %w", err)
		}
	}
	return nil
}

// CurrentHTML returns the outer HTML of the document element.
func (s *Session) CurrentHTML() (string, error) {
	html, err := s.page.HTML()
	if err != nil {
		return "", fmt.Errorf("renderer: read html: %w", err)
	}
	return html, nil
}

// Evaluate runs a JS expression in the page context and returns its JSON value.
func (s *Session) Evaluate(expression string) (string, error) {
	res, err := s.page.Eval(expression)
	if err != nil {
		return "", fmt.Errorf("renderer: evaluate: %w", err)
	}
	return res.Value.String(), nil
}

// Screenshot captures the current viewport. format is "png" or "jpeg".
func (s *Session) Screenshot(format string) ([]byte, error) {
	var f proto.PageCaptureScreenshotFormat
	switch format {
	case "jpeg", "jpg":
		f = proto.PageCaptureScreenshotFormatJpeg
	default:
		f = proto.PageCaptureScreenshotFormatPng
	}
	data, err := s.page.Screenshot(false, &rod.ScreenshotOptions{Format: f})
	if err != nil {
		return nil, fmt.Errorf("renderer: screenshot: %w", err)
	}
	return data, nil
}

// Observer returns the network observer recording this session's traffic.
func (s *Session) Observer() *NetworkObserver {
	return s.observer
}

// Close releases the tab and returns the browser to the pool.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.page.Close()
	s.release()
	return err
}
