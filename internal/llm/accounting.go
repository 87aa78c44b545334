package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// accountingLogBuffer bounds the channel between Router.call producers and
// the single consumer goroutine that writes AIInferenceLog rows. Sized
// generously so a burst of concurrent extractions never blocks a caller on
// the store (spec §4.6 "Concurrency contract").
const accountingLogBuffer = 1024

// accountingSink drains AIInferenceLog entries into a LogStore on a single
// goroutine, so the store never sees concurrent writers from the router.
type accountingSink struct {
	ch      chan models.AIInferenceLog
	store   LogStore
	logger  *slog.Logger
	done    chan struct{}
}

func newAccountingSink(store LogStore, logger *slog.Logger) *accountingSink {
	s := &accountingSink{
		ch:     make(chan models.AIInferenceLog, accountingLogBuffer),
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *accountingSink) run() {
	defer close(s.done)
	for entry := range s.ch {
		if s.store == nil {
			continue
		}
		if err := s.store.Append(context.Background(), entry); err != nil {
			s.logger.Error("failed to persist AI inference log", "error", err, "provider", entry.Provider, "model", entry.Model)
		}
	}
}

// submit enqueues entry without blocking the caller. If the channel is
// momentarily full, the entry is dropped and logged rather than stalling a
// crawl worker — the router's accounting is best-effort observability, not
// part of the correctness path.
func (s *accountingSink) submit(entry models.AIInferenceLog) {
	select {
	case s.ch <- entry:
	default:
		s.logger.Warn("dropping AI inference log, accounting channel full", "provider", entry.Provider, "model", entry.Model)
	}
}

// close stops accepting new entries and waits up to grace for the consumer
// to flush what's already queued.
func (s *accountingSink) close(ctx context.Context, grace time.Duration) {
	close(s.ch)
	select {
	case <-s.done:
	case <-time.After(grace):
	case <-ctx.Done():
	}
}
