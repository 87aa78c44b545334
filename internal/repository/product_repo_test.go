package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/oklog/ulid/v2"
)

func newTestProduct(oemID, externalKey string) *models.Product {
	now := time.Now()
	return &models.Product{
		ID:          ulid.Make().String(),
		OEMID:       oemID,
		ExternalKey: externalKey,
		Canonical: models.ProductCanonical{
			OEMID:       oemID,
			ExternalKey: externalKey,
			Title:       "Model X",
			Price:       models.Price{AmountMinorUnits: 3999900, Currency: "USD", Type: "msrp"},
		},
		ContentHash: "hash-1",
		FirstSeenAt: now,
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestProductRepository_CreateAndGetByExternalKey(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	p := newTestProduct("ford", "model-x")
	if err := repos.Product.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Product.GetByExternalKey(ctx, "ford", "model-x")
	if err != nil {
		t.Fatalf("GetByExternalKey() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByExternalKey() returned nil")
	}
	if got.Canonical.Title != "Model X" {
		t.Errorf("Canonical.Title = %q, want Model X", got.Canonical.Title)
	}
	if got.Canonical.Price.AmountMinorUnits != 3999900 {
		t.Errorf("Canonical.Price = %+v, want 3999900", got.Canonical.Price)
	}
}

func TestProductRepository_GetByExternalKey_NotFound(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	got, err := repos.Product.GetByExternalKey(ctx, "ford", "nonexistent")
	if err != nil {
		t.Fatalf("GetByExternalKey() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent product")
	}
}

func TestProductRepository_Update(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	p := newTestProduct("ford", "model-x")
	if err := repos.Product.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	p.Canonical.Price.AmountMinorUnits = 4299900
	p.ContentHash = "hash-2"
	p.LastSeenAt = time.Now()

	if err := repos.Product.Update(ctx, p); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repos.Product.GetByExternalKey(ctx, "ford", "model-x")
	if err != nil {
		t.Fatalf("GetByExternalKey() error = %v", err)
	}
	if got.ContentHash != "hash-2" {
		t.Errorf("ContentHash = %q, want hash-2", got.ContentHash)
	}
	if got.Canonical.Price.AmountMinorUnits != 4299900 {
		t.Errorf("Price.AmountMinorUnits = %d, want 4299900", got.Canonical.Price.AmountMinorUnits)
	}
}

func TestProductRepository_ListStale(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	stale := newTestProduct("ford", "old-model")
	stale.LastSeenAt = time.Now().Add(-96 * time.Hour)
	if err := repos.Product.Create(ctx, stale); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	fresh := newTestProduct("ford", "new-model")
	if err := repos.Product.Create(ctx, fresh); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Product.ListStale(ctx, "ford", time.Now().Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("ListStale() error = %v", err)
	}
	if len(got) != 1 || got[0].ExternalKey != "old-model" {
		t.Errorf("ListStale() = %+v, want only old-model", got)
	}
}

func TestProductVersionRepository_CreateAndListByProduct(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	p := newTestProduct("ford", "model-x")
	if err := repos.Product.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	v1 := &models.ProductVersion{ID: ulid.Make().String(), ProductID: p.ID, ContentHash: "hash-1", CapturedAt: time.Now(), Snapshot: p.Canonical}
	if err := repos.ProductVersion.Create(ctx, v1); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	v2Snapshot := p.Canonical
	v2Snapshot.Price.AmountMinorUnits = 4299900
	v2 := &models.ProductVersion{ID: ulid.Make().String(), ProductID: p.ID, ContentHash: "hash-2", CapturedAt: time.Now(), Snapshot: v2Snapshot}
	if err := repos.ProductVersion.Create(ctx, v2); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.ProductVersion.ListByProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByProduct() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByProduct() len = %d, want 2", len(got))
	}
	if got[1].Snapshot.Price.AmountMinorUnits != 4299900 {
		t.Errorf("second version price = %d, want 4299900", got[1].Snapshot.Price.AmountMinorUnits)
	}
}
