package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/jmylchreest/oem-crawler/internal/oem"
	"github.com/jmylchreest/oem-crawler/internal/pages"
	"github.com/jmylchreest/oem-crawler/internal/repository"
)

// fakeSourcePageRepo is an in-memory repository.SourcePageRepository for
// scheduler tests, avoiding a real database dependency.
type fakeSourcePageRepo struct {
	mu    sync.Mutex
	byID  map[string]*models.SourcePage
	byURL map[string]*models.SourcePage
}

func newFakeSourcePageRepo() *fakeSourcePageRepo {
	return &fakeSourcePageRepo{byID: map[string]*models.SourcePage{}, byURL: map[string]*models.SourcePage{}}
}

func (f *fakeSourcePageRepo) Create(_ context.Context, page *models.SourcePage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[page.ID] = page
	f.byURL[page.OEMID+"|"+page.URL] = page
	return nil
}

func (f *fakeSourcePageRepo) GetByID(_ context.Context, id string) (*models.SourcePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

func (f *fakeSourcePageRepo) GetByOEMAndURL(_ context.Context, oemID, url string) (*models.SourcePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byURL[oemID+"|"+url], nil
}

func (f *fakeSourcePageRepo) Update(_ context.Context, page *models.SourcePage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[page.ID] = page
	return nil
}

func (f *fakeSourcePageRepo) ListByOEM(_ context.Context, oemID string) ([]*models.SourcePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SourcePage
	for _, p := range f.byID {
		if p.OEMID == oemID {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ repository.SourcePageRepository = (*fakeSourcePageRepo)(nil)

// fakeImportRunRepo is an in-memory repository.ImportRunRepository.
type fakeImportRunRepo struct {
	mu   sync.Mutex
	runs map[string]*models.ImportRun
}

func newFakeImportRunRepo() *fakeImportRunRepo {
	return &fakeImportRunRepo{runs: map[string]*models.ImportRun{}}
}

func (f *fakeImportRunRepo) Create(_ context.Context, run *models.ImportRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeImportRunRepo) Update(_ context.Context, run *models.ImportRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeImportRunRepo) GetOpenForOEM(_ context.Context, oemID string) (*models.ImportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.OEMID == oemID && r.Status == models.ImportRunStatusRunning {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeImportRunRepo) ListByOEM(_ context.Context, oemID string, limit, offset int) ([]*models.ImportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ImportRun
	for _, r := range f.runs {
		if r.OEMID == oemID {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ repository.ImportRunRepository = (*fakeImportRunRepo)(nil)

// fakePipeline records every job it's given and returns a canned result.
type fakePipeline struct {
	mu      sync.Mutex
	seen    []Job
	result  pages.CheckResult
	failAll bool
}

func (p *fakePipeline) Run(_ context.Context, job Job) (pages.CheckResult, error) {
	p.mu.Lock()
	p.seen = append(p.seen, job)
	p.mu.Unlock()
	if p.failAll {
		return pages.CheckResult{Outcome: pages.OutcomeError}, fmt.Errorf("boom")
	}
	return p.result, nil
}

func loadTestOEMStore(t *testing.T, ids ...string) *oem.Store {
	t.Helper()
	dir := t.TempDir()
	for _, id := range ids {
		content := fmt.Sprintf(`
id: %s
name: %s
base_url: https://%s.example.com
seed_pages:
  - url: https://%s.example.com
    page_type: homepage
`, id, id, id, id)
		if err := os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	store, err := oem.Load(dir)
	if err != nil {
		t.Fatalf("oem.Load: %v", err)
	}
	return store
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.TickInterval != 60*time.Second {
		t.Errorf("TickInterval = %v, want 60s", cfg.TickInterval)
	}
	if cfg.GlobalConcurrency != 8 {
		t.Errorf("GlobalConcurrency = %d, want 8", cfg.GlobalConcurrency)
	}
	if cfg.PerHostConcurrency != 2 {
		t.Errorf("PerHostConcurrency = %d, want 2", cfg.PerHostConcurrency)
	}
	if cfg.ShutdownDeadline != 60*time.Second {
		t.Errorf("ShutdownDeadline = %v, want 60s", cfg.ShutdownDeadline)
	}
}

func TestHostOf(t *testing.T) {
	if got := hostOf("https://Ford.com/vehicles/ranger"); got != "Ford.com" {
		t.Errorf("hostOf() = %q, want Ford.com", got)
	}
	if got := hostOf("not a url :/"); got == "" {
		t.Error("hostOf() returned empty for unparsable input")
	}
}

func TestHostSemaphore_SharedAcrossCallsForSameHost(t *testing.T) {
	s := New(Config{}, loadTestOEMStore(t, "ford"), nil, nil, nil, nil)
	a := s.hostSemaphore("https://ford.com/a")
	b := s.hostSemaphore("https://ford.com/b")
	if a != b {
		t.Error("expected the same semaphore instance for the same host")
	}
	c := s.hostSemaphore("https://toyota.com/a")
	if a == c {
		t.Error("expected distinct semaphores for distinct hosts")
	}
}

func TestNextRoundRobinStart_AdvancesEachCall(t *testing.T) {
	s := New(Config{}, loadTestOEMStore(t, "ford"), nil, nil, nil, nil)
	first := s.nextRoundRobinStart(3)
	second := s.nextRoundRobinStart(3)
	if second != (first+1)%3 {
		t.Errorf("round robin did not advance: first=%d second=%d", first, second)
	}
}

func TestTick_DispatchesDuePageAndClosesRunOnDrain(t *testing.T) {
	oemStore := loadTestOEMStore(t, "ford")
	repo := newFakeSourcePageRepo()
	registry := pages.NewRegistry(repo)
	runRepo := newFakeImportRunRepo()
	pipeline := &fakePipeline{result: pages.CheckResult{Outcome: pages.OutcomeNoChange}}

	ctx := context.Background()
	if _, err := registry.SeedIfMissing(ctx, "ford", "https://ford.com", models.PageTypeHomepage); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := Config{GlobalConcurrency: 2, PerHostConcurrency: 2}
	s := New(cfg, oemStore, registry, runRepo, pipeline, nil)

	s.tick(ctx)
	s.wg.Wait()

	if len(pipeline.seen) != 1 {
		t.Fatalf("pipeline saw %d jobs, want 1", len(pipeline.seen))
	}
	if pipeline.seen[0].OEMID != "ford" {
		t.Errorf("job OEMID = %s, want ford", pipeline.seen[0].OEMID)
	}

	runs, err := runRepo.ListByOEM(ctx, "ford", 10, 0)
	if err != nil {
		t.Fatalf("ListByOEM: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Status != models.ImportRunStatusCompleted {
		t.Errorf("run status = %s, want completed", runs[0].Status)
	}
	if runs[0].PagesChecked != 1 {
		t.Errorf("PagesChecked = %d, want 1", runs[0].PagesChecked)
	}
}

func TestTick_NoDuePages_NoRunLeftOpen(t *testing.T) {
	oemStore := loadTestOEMStore(t, "ford")
	repo := newFakeSourcePageRepo()
	registry := pages.NewRegistry(repo)
	runRepo := newFakeImportRunRepo()
	pipeline := &fakePipeline{}

	ctx := context.Background()
	seeded, err := registry.SeedIfMissing(ctx, "ford", "https://ford.com", models.PageTypeHomepage)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Mark it freshly checked so it is not due this tick.
	if err := registry.RecordCheck(ctx, seeded, pages.CheckResult{Outcome: pages.OutcomeNoChange, RawHash: "h"}); err != nil {
		t.Fatalf("RecordCheck: %v", err)
	}

	s := New(Config{}, oemStore, registry, runRepo, pipeline, nil)
	s.tick(ctx)
	s.wg.Wait()

	if len(pipeline.seen) != 0 {
		t.Errorf("pipeline saw %d jobs, want 0", len(pipeline.seen))
	}
	runs, _ := runRepo.ListByOEM(ctx, "ford", 10, 0)
	if len(runs) != 0 {
		t.Errorf("len(runs) = %d, want 0 when nothing was due", len(runs))
	}
}

func TestRecordOutcome_ErrorIncrementsErrorCount(t *testing.T) {
	s := New(Config{}, loadTestOEMStore(t, "ford"), nil, nil, nil, nil)
	run := &models.ImportRun{ID: "r1", OEMID: "ford"}

	s.recordOutcome(run, pages.CheckResult{}, fmt.Errorf("boom"))
	if run.PagesChecked != 1 || run.ErrorCount != 1 {
		t.Errorf("got PagesChecked=%d ErrorCount=%d, want 1,1", run.PagesChecked, run.ErrorCount)
	}

	s.recordOutcome(run, pages.CheckResult{Outcome: pages.OutcomeChanged}, nil)
	if run.PagesChecked != 2 || run.PagesChanged != 1 {
		t.Errorf("got PagesChecked=%d PagesChanged=%d, want 2,1", run.PagesChecked, run.PagesChanged)
	}
}
