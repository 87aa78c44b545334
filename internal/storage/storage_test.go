package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"
)

func TestNew_Disabled(t *testing.T) {
	st, err := New(context.Background(), Config{Enabled: false}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.IsEnabled() {
		t.Error("expected store to be disabled")
	}
}

func TestPut_Disabled_StillReturnsDigest(t *testing.T) {
	st, err := New(context.Background(), Config{Enabled: false}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := []byte("<html>ranger xlt</html>")
	want := sha256.Sum256(body)

	digest, err := st.Put(context.Background(), "text/html", body)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if digest != hex.EncodeToString(want[:]) {
		t.Errorf("Put() digest = %q, want sha256 of body", digest)
	}
}

func TestGet_Disabled_ReturnsErrNotFound(t *testing.T) {
	st, err := New(context.Background(), Config{Enabled: false}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := st.Get(context.Background(), "deadbeef"); err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestKey_AppliesPrefix(t *testing.T) {
	st := &Store{prefix: "snapshots", enabled: true}
	if got := st.key("abc123"); got != "snapshots/abc123" {
		t.Errorf("key() = %q, want %q", got, "snapshots/abc123")
	}

	st2 := &Store{enabled: true}
	if got := st2.key("abc123"); got != "abc123" {
		t.Errorf("key() with no prefix = %q, want %q", got, "abc123")
	}
}
