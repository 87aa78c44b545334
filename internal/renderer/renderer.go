package renderer

import (
	"context"
	"fmt"
	"time"
)

// DefaultTotalDeadline and DefaultWaitDeadline implement the timeout budget
// from spec §5: render 90s total + 20s per wait-policy.
const (
	DefaultTotalDeadline = 90 * time.Second
	DefaultWaitDeadline  = 20 * time.Second
)

// Result is the outcome of rendering one page.
type Result struct {
	HTML     string
	Observer *NetworkObserver
}

// Renderer is the process-wide façade over the browser Pool: acquire a
// session, navigate, capture, release — every call on its own deadline.
type Renderer struct {
	pool *Pool
}

// New wraps an already-configured Pool.
func New(pool *Pool) *Renderer {
	return &Renderer{pool: pool}
}

// Render acquires a session, navigates to url under policy, and returns the
// rendered HTML plus the network observer's recording. The session is closed
// before returning.
func (r *Renderer) Render(ctx context.Context, url string, policy WaitPolicy) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTotalDeadline)
	defer cancel()

	sess, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("renderer: acquire session: %w", err)
	}
	defer sess.Close()

	navCtx, navCancel := context.WithTimeout(ctx, DefaultWaitDeadline)
	defer navCancel()

	if err := sess.Navigate(navCtx, url, policy); err != nil {
		return nil, err
	}

	html, err := sess.CurrentHTML()
	if err != nil {
		return nil, err
	}

	return &Result{HTML: html, Observer: sess.Observer()}, nil
}
