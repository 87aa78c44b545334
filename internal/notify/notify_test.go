package notify

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

func TestEmit_DeliversToSubscriberWithSignatureHeaders(t *testing.T) {
	var mu sync.Mutex
	var receivedPayload []byte
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		receivedPayload, _ = io.ReadAll(r.Body)
		receivedHeaders = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := New([]Subscriber{{URL: server.URL, Secret: "whsec_test"}}, slog.Default())

	event := models.ChangeEvent{
		ID:        "evt_1",
		OEMID:     "ford",
		EventType: models.ChangeEventType("price_change"),
		Summary:   "price dropped",
		CreatedAt: time.Now(),
	}
	sink.Emit(event)
	sink.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(receivedPayload) == 0 {
		t.Fatal("expected subscriber to receive a payload")
	}
	if receivedHeaders.Get("svix-signature") == "" {
		t.Error("expected svix-signature header to be set when a secret is configured")
	}
	if receivedHeaders.Get("svix-id") != "evt_1" {
		t.Errorf("svix-id = %q, want %q", receivedHeaders.Get("svix-id"), "evt_1")
	}
}

func TestEmit_NoSubscribers_DoesNotBlock(t *testing.T) {
	sink := New(nil, slog.Default())
	sink.Emit(models.ChangeEvent{ID: "evt_1", OEMID: "ford"})
	sink.Close()
}

func TestEmit_QueueFull_DropsRatherThanBlocks(t *testing.T) {
	sink := &Sink{
		events: make(chan models.ChangeEvent), // unbuffered: any send without a receiver blocks
		logger: slog.Default(),
	}
	done := make(chan struct{})
	go func() {
		sink.Emit(models.ChangeEvent{ID: "evt_1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit() blocked instead of dropping on a full queue")
	}
}
