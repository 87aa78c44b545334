package llm

import "testing"

func TestEstimateCost_KnownModel(t *testing.T) {
	got := EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	want := 0.15 + 0.60
	if got != want {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestEstimateCost_UnknownModelIsZero(t *testing.T) {
	if got := EstimateCost("some/unlisted-model", 1000, 1000); got != 0 {
		t.Fatalf("expected 0 for an unpriced model, got %f", got)
	}
}
