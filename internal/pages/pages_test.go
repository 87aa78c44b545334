package pages

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/oem-crawler/internal/database/migrations"
	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/jmylchreest/oem-crawler/internal/repository"
)

func setupTestRegistry(t *testing.T) (*Registry, *sql.DB) {
	t.Helper()
	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repos := repository.NewRepositories(db)
	return NewRegistry(repos.SourcePage), db
}

func TestEffectiveInterval_NoBackoffMatchesBase(t *testing.T) {
	got := effectiveInterval(models.PageTypeOffers, 0)
	if got != 4*time.Hour {
		t.Errorf("effectiveInterval(offers, 0) = %v, want 4h", got)
	}
}

func TestEffectiveInterval_BackoffScalesLinearly(t *testing.T) {
	got := effectiveInterval(models.PageTypeHomepage, 4)
	want := 2 * time.Hour * 2 // multiplier 1 + 0.25*4 = 2
	if got != want {
		t.Errorf("effectiveInterval(homepage, 4) = %v, want %v", got, want)
	}
}

func TestEffectiveInterval_BackoffCapsAtEight(t *testing.T) {
	got := effectiveInterval(models.PageTypeSitemap, 1000)
	want := 24 * time.Hour * 8
	if got != want {
		t.Errorf("effectiveInterval(sitemap, 1000) = %v, want capped %v", got, want)
	}
}

func TestIsDue_NeverCheckedIsDue(t *testing.T) {
	p := &models.SourcePage{Status: models.PageStatusActive, PageType: models.PageTypeOffers}
	if !IsDue(p, time.Now()) {
		t.Error("IsDue() = false, want true for a never-checked page")
	}
}

func TestIsDue_RecentlyCheckedIsNotDue(t *testing.T) {
	now := time.Now()
	checked := now.Add(-1 * time.Hour)
	p := &models.SourcePage{Status: models.PageStatusActive, PageType: models.PageTypeOffers, LastCheckedAt: &checked}
	if IsDue(p, now) {
		t.Error("IsDue() = true, want false within the 4h offers cadence")
	}
}

func TestIsDue_InactivePageNeverDue(t *testing.T) {
	checked := time.Now().Add(-100 * time.Hour)
	p := &models.SourcePage{Status: models.PageStatusBlocked, PageType: models.PageTypeOffers, LastCheckedAt: &checked}
	if IsDue(p, time.Now()) {
		t.Error("IsDue() = true, want false for a blocked page")
	}
}

func TestGetDuePages_OrdersByPriorityThenFIFO(t *testing.T) {
	registry, db := setupTestRegistry(t)
	ctx := context.Background()

	older := time.Now().Add(-48 * time.Hour)
	seedPage := func(pageType models.PageType, createdOffset time.Duration) {
		p := &models.SourcePage{
			ID:        string(pageType) + "-" + createdOffset.String(),
			OEMID:     "ford",
			URL:       "https://ford.com/" + string(pageType),
			PageType:  pageType,
			Status:    models.PageStatusActive,
			CreatedAt: older.Add(createdOffset),
			UpdatedAt: older.Add(createdOffset),
		}
		if err := registry.repo.Create(ctx, p); err != nil {
			t.Fatalf("seed %s: %v", pageType, err)
		}
	}

	seedPage(models.PageTypeSitemap, 0)
	seedPage(models.PageTypeHomepage, time.Second)
	seedPage(models.PageTypeOffers, 2*time.Second)
	seedPage(models.PageTypeVehicleDetail, 3*time.Second)

	due, err := registry.GetDuePages(ctx, "ford", time.Now())
	if err != nil {
		t.Fatalf("GetDuePages() error = %v", err)
	}
	if len(due) != 4 {
		t.Fatalf("len(due) = %d, want 4", len(due))
	}
	wantOrder := []models.PageType{
		models.PageTypeOffers, models.PageTypeHomepage, models.PageTypeVehicleDetail, models.PageTypeSitemap,
	}
	for i, pt := range wantOrder {
		if due[i].PageType != pt {
			t.Errorf("due[%d].PageType = %s, want %s", i, due[i].PageType, pt)
		}
	}
	_ = db
}

func TestRecordCheck_NoChangeIncrementsCounterAndClearsErrors(t *testing.T) {
	registry, _ := setupTestRegistry(t)
	ctx := context.Background()

	page := &models.SourcePage{
		ID: "p1", OEMID: "ford", URL: "https://ford.com", PageType: models.PageTypeHomepage,
		Status: models.PageStatusActive, ErrorMessage: "stale error", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := registry.repo.Create(ctx, page); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := registry.RecordCheck(ctx, page, CheckResult{Outcome: OutcomeNoChange, RawHash: "abc"}); err != nil {
		t.Fatalf("RecordCheck() error = %v", err)
	}
	if page.ConsecutiveNoChange != 1 {
		t.Errorf("ConsecutiveNoChange = %d, want 1", page.ConsecutiveNoChange)
	}
	if page.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want cleared", page.ErrorMessage)
	}
	if page.LastHash != "abc" {
		t.Errorf("LastHash = %q, want abc", page.LastHash)
	}
}

func TestRecordCheck_ChangedResetsConsecutiveNoChange(t *testing.T) {
	registry, _ := setupTestRegistry(t)
	ctx := context.Background()

	page := &models.SourcePage{
		ID: "p2", OEMID: "ford", URL: "https://ford.com/offers", PageType: models.PageTypeOffers,
		Status: models.PageStatusActive, ConsecutiveNoChange: 6, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := registry.repo.Create(ctx, page); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := registry.RecordCheck(ctx, page, CheckResult{Outcome: OutcomeChanged, RawHash: "x", RenderedHash: "y"}); err != nil {
		t.Fatalf("RecordCheck() error = %v", err)
	}
	if page.ConsecutiveNoChange != 0 {
		t.Errorf("ConsecutiveNoChange = %d, want reset to 0", page.ConsecutiveNoChange)
	}
	if page.LastChangedAt == nil {
		t.Error("LastChangedAt not set on a changed check")
	}
}

func TestRecordCheck_BlockedThreeTimesMarksPageBlocked(t *testing.T) {
	registry, _ := setupTestRegistry(t)
	ctx := context.Background()

	page := &models.SourcePage{
		ID: "p3", OEMID: "ford", URL: "https://ford.com/news", PageType: models.PageTypeNews,
		Status: models.PageStatusActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := registry.repo.Create(ctx, page); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := registry.RecordCheck(ctx, page, CheckResult{Outcome: OutcomeBlocked, ErrorMessage: "captcha wall"}); err != nil {
			t.Fatalf("RecordCheck() error = %v", err)
		}
	}
	if page.Status != models.PageStatusBlocked {
		t.Errorf("Status = %s, want blocked after 3 consecutive blocks", page.Status)
	}
}

func TestAddDiscoveredLink_DedupsOnNormalisedURL(t *testing.T) {
	registry, _ := setupTestRegistry(t)
	ctx := context.Background()

	first, err := registry.AddDiscoveredLink(ctx, "ford", "https://Ford.com/vehicles/ranger/", models.PageTypeVehicleDetail, "home-1", 0, 2)
	if err != nil {
		t.Fatalf("AddDiscoveredLink() error = %v", err)
	}
	if first == nil {
		t.Fatal("expected a new page on first discovery")
	}

	second, err := registry.AddDiscoveredLink(ctx, "ford", "https://ford.com/vehicles/ranger", models.PageTypeVehicleDetail, "home-2", 0, 2)
	if err != nil {
		t.Fatalf("second AddDiscoveredLink() error = %v", err)
	}
	if second != nil {
		t.Errorf("expected dedup no-op on second discovery, got %+v", second)
	}
}

func TestAddDiscoveredLink_RespectsMaxDepth(t *testing.T) {
	registry, _ := setupTestRegistry(t)
	ctx := context.Background()

	got, err := registry.AddDiscoveredLink(ctx, "ford", "https://ford.com/deep/page", models.PageTypeOther, "from-1", 2, 2)
	if err != nil {
		t.Fatalf("AddDiscoveredLink() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil when depth exceeds max_discovery_depth, got %+v", got)
	}
}

func TestSeedIfMissing_IdempotentAcrossCalls(t *testing.T) {
	registry, _ := setupTestRegistry(t)
	ctx := context.Background()

	first, err := registry.SeedIfMissing(ctx, "ford", "https://ford.com", models.PageTypeHomepage)
	if err != nil {
		t.Fatalf("SeedIfMissing() error = %v", err)
	}
	second, err := registry.SeedIfMissing(ctx, "ford", "https://ford.com", models.PageTypeHomepage)
	if err != nil {
		t.Fatalf("second SeedIfMissing() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ID changed across idempotent seeding: %s vs %s", first.ID, second.ID)
	}
}
