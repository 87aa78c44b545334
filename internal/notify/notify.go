// Package notify implements the notification sink from spec §4 ("an
// append-only channel emit(ChangeEvent); delivery is someone else's
// problem"): change events are pushed onto a channel buffered at 256 events
// (Emit drops an event when it is full) and drained by a single goroutine, which fans each event out to configured webhook
// subscribers with Svix-compatible HMAC signing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// Subscriber is a single webhook destination. Secret is plaintext in
// memory and used only to derive a per-delivery signature; it is never
// logged.
type Subscriber struct {
	URL    string
	Secret string
}

// Sink drains ChangeEvents onto zero or more webhook subscribers.
// Delivery is best-effort: a failed subscriber delivery is logged and
// dropped, never retried against the emitting call site, matching the
// "delivery is someone else's problem" contract.
type Sink struct {
	events      chan models.ChangeEvent
	subscribers []Subscriber
	client      *http.Client
	logger      *slog.Logger
	done        chan struct{}
}

// New creates a Sink and starts its draining goroutine. Call Close to stop
// it once the process is shutting down.
func New(subscribers []Subscriber, logger *slog.Logger) *Sink {
	s := &Sink{
		events:      make(chan models.ChangeEvent, 256),
		subscribers: subscribers,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit enqueues a change event for delivery. It never blocks the caller on
// network I/O; a full queue drops the event with a logged warning rather
// than stalling the crawl pipeline.
func (s *Sink) Emit(event models.ChangeEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("notify: event queue full, dropping event", "oem_id", event.OEMID, "entity_id", event.EntityID)
	}
}

// Close stops the draining goroutine once the event channel is empty.
func (s *Sink) Close() {
	close(s.events)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for event := range s.events {
		s.deliver(event)
	}
}

func (s *Sink) deliver(event models.ChangeEvent) {
	if len(s.subscribers) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("notify: marshal change event", "error", err)
		return
	}

	for _, sub := range s.subscribers {
		if err := s.deliverOne(sub, event.ID, payload); err != nil {
			s.logger.Warn("notify: delivery failed", "url", sub.URL, "event_id", event.ID, "error", err)
		}
	}
}

func (s *Sink) deliverOne(sub Subscriber, eventID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	timestamp := time.Now()
	if sub.Secret != "" {
		wh, err := svix.NewWebhook(sub.Secret)
		if err != nil {
			return fmt.Errorf("build signer: %w", err)
		}
		signature, err := wh.Sign(eventID, timestamp, payload)
		if err != nil {
			return fmt.Errorf("sign payload: %w", err)
		}
		req.Header.Set("svix-id", eventID)
		req.Header.Set("svix-timestamp", strconv.FormatInt(timestamp.Unix(), 10))
		req.Header.Set("svix-signature", signature)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned %s", resp.Status)
	}
	return nil
}
