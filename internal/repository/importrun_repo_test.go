package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/oklog/ulid/v2"
)

func newTestImportRun(oemID string) *models.ImportRun {
	return &models.ImportRun{
		ID:        ulid.Make().String(),
		OEMID:     oemID,
		StartedAt: time.Now(),
		Status:    models.ImportRunStatusRunning,
	}
}

func TestImportRunRepository_CreateAndGetOpenForOEM(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	run := newTestImportRun("ford")
	if err := repos.ImportRun.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.ImportRun.GetOpenForOEM(ctx, "ford")
	if err != nil {
		t.Fatalf("GetOpenForOEM() error = %v", err)
	}
	if got == nil || got.ID != run.ID {
		t.Errorf("GetOpenForOEM() = %+v, want id %s", got, run.ID)
	}
}

func TestImportRunRepository_GetOpenForOEM_NoneRunning(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	run := newTestImportRun("ford")
	run.Status = models.ImportRunStatusCompleted
	finished := time.Now()
	run.FinishedAt = &finished
	if err := repos.ImportRun.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.ImportRun.GetOpenForOEM(ctx, "ford")
	if err != nil {
		t.Fatalf("GetOpenForOEM() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetOpenForOEM() = %+v, want nil", got)
	}
}

func TestImportRunRepository_Update(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	run := newTestImportRun("ford")
	if err := repos.ImportRun.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.ImportRunStatusCompleted
	run.PagesChecked = 42
	run.PagesChanged = 5
	run.ProductsUpserted = 10
	run.OffersUpserted = 3

	if err := repos.ImportRun.Update(ctx, run); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repos.ImportRun.GetOpenForOEM(ctx, "ford")
	if err != nil {
		t.Fatalf("GetOpenForOEM() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetOpenForOEM() = %+v, want nil after completion", got)
	}

	all, err := repos.ImportRun.ListByOEM(ctx, "ford", 10, 0)
	if err != nil {
		t.Fatalf("ListByOEM() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListByOEM() len = %d, want 1", len(all))
	}
	if all[0].PagesChecked != 42 || all[0].Status != models.ImportRunStatusCompleted {
		t.Errorf("ListByOEM()[0] = %+v, want updated fields", all[0])
	}
	if all[0].FinishedAt == nil {
		t.Error("FinishedAt should not be nil after update")
	}
}

func TestImportRunRepository_ListByOEM_Pagination(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run := newTestImportRun("toyota")
		if err := repos.ImportRun.Create(ctx, run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page1, err := repos.ImportRun.ListByOEM(ctx, "toyota", 2, 0)
	if err != nil {
		t.Fatalf("ListByOEM() error = %v", err)
	}
	if len(page1) != 2 {
		t.Errorf("page1 len = %d, want 2", len(page1))
	}

	page2, err := repos.ImportRun.ListByOEM(ctx, "toyota", 2, 2)
	if err != nil {
		t.Fatalf("ListByOEM() error = %v", err)
	}
	if len(page2) != 2 {
		t.Errorf("page2 len = %d, want 2", len(page2))
	}
}
