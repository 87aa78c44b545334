package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

type fakeLogStore struct {
	entries []models.AIInferenceLog
}

func (f *fakeLogStore) Append(ctx context.Context, entry models.AIInferenceLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

func newTestRouter(t *testing.T, transport *FakeTransport, store *fakeLogStore, caps map[string]float64) *Router {
	t.Helper()
	return NewRouter(RouterConfig{
		Registry:     InitRegistry(),
		Transport:    transport,
		APIKeys:      map[string]string{},
		SpendCapsUSD: caps,
		LogStore:     store,
	})
}

func drain(t *testing.T, r *Router) {
	t.Helper()
	r.Close(context.Background(), time.Second)
}

func TestExecute_PrimarySucceedsOnFirstAttempt(t *testing.T) {
	transport := NewFakeTransport()
	route := Routes[TaskDiffClassification]
	transport.Responses[route.Primary.Model] = `{"severity":"low"}`
	store := &fakeLogStore{}
	r := newTestRouter(t, transport, store, nil)

	resp, err := r.Execute(context.Background(), TaskDiffClassification, CallRequest{UserPrompt: "diff this"})
	drain(t, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"severity":"low"}` {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(transport.Calls) != 1 {
		t.Fatalf("expected exactly 1 call, got %d", len(transport.Calls))
	}
	if len(store.entries) != 1 || store.entries[0].Status != "success" {
		t.Fatalf("expected 1 successful log entry, got %+v", store.entries)
	}
}

func TestExecute_FallsBackAfterTwoPrimaryFailures(t *testing.T) {
	transport := NewFakeTransport()
	route := Routes[TaskLLMExtraction]
	transport.FailModels[route.Primary.Model] = ErrInvalidResponse
	transport.Responses[route.Fallback.Model] = `{"entities":[]}`
	store := &fakeLogStore{}
	r := newTestRouter(t, transport, store, nil)

	resp, err := r.Execute(context.Background(), TaskLLMExtraction, CallRequest{UserPrompt: "extract"})
	drain(t, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"entities":[]}` {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(transport.Calls) != 3 {
		t.Fatalf("expected primary retry then fallback = 3 calls, got %d", len(transport.Calls))
	}
	if len(store.entries) != 3 {
		t.Fatalf("expected 3 AIInferenceLog rows, got %d", len(store.entries))
	}
	if !store.entries[2].WasFallback {
		t.Fatalf("expected the third (successful) row to be marked was_fallback, got %+v", store.entries[2])
	}
	if store.entries[0].WasFallback || store.entries[1].WasFallback {
		t.Fatalf("expected the two primary attempts to not be marked fallback")
	}
}

func TestExecute_ExhaustsBothModelsReturnsLLMFailure(t *testing.T) {
	transport := NewFakeTransport()
	route := Routes[TaskChangeSummary]
	transport.FailModels[route.Primary.Model] = ErrProviderOutage
	transport.FailModels[route.Fallback.Model] = ErrProviderOutage
	store := &fakeLogStore{}
	r := newTestRouter(t, transport, store, nil)

	_, err := r.Execute(context.Background(), TaskChangeSummary, CallRequest{UserPrompt: "summarise"})
	drain(t, r)
	if !errors.Is(err, ErrLLMFailure) {
		t.Fatalf("expected ErrLLMFailure, got %v", err)
	}
	if len(transport.Calls) != 3 {
		t.Fatalf("expected 3 calls before giving up, got %d", len(transport.Calls))
	}
	if len(store.entries) != 3 {
		t.Fatalf("expected 3 logged failures, got %d", len(store.entries))
	}
	for _, e := range store.entries {
		if e.Status != "failure" {
			t.Errorf("expected all entries to be failures, got %+v", e)
		}
	}
}

func TestExecute_SpendCapShortCircuitsToSpendCapExhausted(t *testing.T) {
	transport := NewFakeTransport()
	route := Routes[TaskHTMLNormalisation]
	caps := map[string]float64{route.Primary.Model: 0, route.Fallback.Model: 0}
	store := &fakeLogStore{}
	r := newTestRouter(t, transport, store, caps)

	_, err := r.Execute(context.Background(), TaskHTMLNormalisation, CallRequest{UserPrompt: "normalise"})
	drain(t, r)
	if !errors.Is(err, ErrSpendCapExhausted) {
		t.Fatalf("expected ErrSpendCapExhausted, got %v", err)
	}
	if len(transport.Calls) != 0 {
		t.Fatalf("expected no calls once every candidate is over cap, got %d", len(transport.Calls))
	}
}

func TestExecute_UnknownTaskIsAnError(t *testing.T) {
	transport := NewFakeTransport()
	r := newTestRouter(t, transport, &fakeLogStore{}, nil)
	_, err := r.Execute(context.Background(), Task("not_a_real_task"), CallRequest{})
	drain(t, r)
	if err == nil {
		t.Fatalf("expected an error for an unrouted task")
	}
}
