// Package scheduler drives the periodic tick that feeds due pages into the
// crawl pipeline (spec §4.9). It owns ImportRun lifecycle, a bounded work
// queue, a concurrency-capped worker pool, and round-robin fairness across
// OEMs; it knows nothing about fetching, rendering, or extraction, which
// live behind the Pipeline interface supplied at construction time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/jmylchreest/oem-crawler/internal/oem"
	"github.com/jmylchreest/oem-crawler/internal/pages"
	"github.com/jmylchreest/oem-crawler/internal/repository"
)

// Job is one due page dispatched to a worker.
type Job struct {
	OEMID string
	Page  *models.SourcePage
}

// Pipeline is the crawl logic a Scheduler drives; internal/orchestrator
// implements it. Returning an error does not stop the scheduler, it is
// folded into the owning ImportRun's error counters.
type Pipeline interface {
	Run(ctx context.Context, job Job) (pages.CheckResult, error)
}

// Config controls tick cadence, queue sizing, and concurrency (spec §4.9,
// §5).
type Config struct {
	TickInterval       time.Duration
	QueueSize          int
	GlobalConcurrency  int
	PerHostConcurrency int64
	ShutdownDeadline   time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 500
	}
	if c.GlobalConcurrency <= 0 {
		c.GlobalConcurrency = 8
	}
	if c.PerHostConcurrency <= 0 {
		c.PerHostConcurrency = 2
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = 60 * time.Second
	}
}

// Scheduler is the tick-driven dispatcher described in spec §4.9.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	oems      *oem.Store
	registry  *pages.Registry
	importRun repository.ImportRunRepository
	pipeline  Pipeline
	logger    *slog.Logger

	hostSemsMu sync.Mutex
	hostSems   map[string]*semaphore.Weighted

	runsMu     sync.Mutex
	openRuns   map[string]*models.ImportRun
	activeJobs map[string]int

	rrMu      sync.Mutex
	rrCounter int

	stop           chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	afterRunClosed func(ctx context.Context, run *models.ImportRun)
}

// New builds a Scheduler over the loaded OEM configs, the Page Registry,
// and an ImportRun store, driving the supplied Pipeline on every due page.
func New(cfg Config, oems *oem.Store, registry *pages.Registry, importRun repository.ImportRunRepository, pipeline Pipeline, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		cron:       cron.New(),
		oems:       oems,
		registry:   registry,
		importRun:  importRun,
		pipeline:   pipeline,
		logger:     logger.With("component", "scheduler"),
		hostSems:   make(map[string]*semaphore.Weighted),
		openRuns:   make(map[string]*models.ImportRun),
		activeJobs: make(map[string]int),
		stop:       make(chan struct{}),
	}
}

// OnRunClosed registers a callback invoked after a completed ImportRun is
// closed, so the caller can trigger removal reconciliation (spec §4.7)
// without the scheduler importing internal/catalogue.
func (s *Scheduler) OnRunClosed(fn func(ctx context.Context, run *models.ImportRun)) {
	s.afterRunClosed = fn
}

// Start registers the cron tick and begins running it in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	_, err := s.cron.AddFunc(spec, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: register tick: %w", err)
	}
	s.logger.Info("starting", "tick_interval", s.cfg.TickInterval, "global_concurrency", s.cfg.GlobalConcurrency, "per_host_concurrency", s.cfg.PerHostConcurrency)
	s.cron.Start()
	return nil
}

// Stop halts the cron tick and drains in-flight work within the configured
// shutdown deadline (spec §4.9 "Cancellation"). Any ImportRun still open
// when the deadline expires is closed as partial.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownDeadline):
		s.logger.Warn("shutdown deadline exceeded, marking open runs partial")
		s.closeAllRunsPartial()
	}
}

// tick implements spec §4.9 steps 1-5 for one round across every active
// OEM, in round-robin order.
func (s *Scheduler) tick(ctx context.Context) {
	ids := s.oems.All()
	if len(ids) == 0 {
		return
	}

	start := s.nextRoundRobinStart(len(ids))
	for i := 0; i < len(ids); i++ {
		oemID := ids[(start+i)%len(ids)]
		s.dispatchOEM(ctx, oemID)
	}
}

func (s *Scheduler) nextRoundRobinStart(n int) int {
	s.rrMu.Lock()
	defer s.rrMu.Unlock()
	start := s.rrCounter % n
	s.rrCounter++
	return start
}

func (s *Scheduler) dispatchOEM(ctx context.Context, oemID string) {
	if _, ok := s.oems.Get(oemID); !ok {
		return
	}

	run, err := s.openOrReuseRun(ctx, oemID)
	if err != nil {
		s.logger.Error("open import run", "oem_id", oemID, "error", err)
		return
	}

	due, err := s.registry.GetDuePages(ctx, oemID, time.Now())
	if err != nil {
		s.logger.Error("get due pages", "oem_id", oemID, "error", err)
		return
	}
	if len(due) == 0 {
		s.maybeCloseRun(ctx, oemID)
		return
	}

	if len(due) > s.cfg.QueueSize {
		s.logger.Warn("due pages exceed queue size, deferring overflow to next tick", "oem_id", oemID, "due", len(due), "queue_size", s.cfg.QueueSize)
		due = due[:s.cfg.QueueSize]
	}

	jobs := make([]Job, 0, len(due))
	for _, p := range due {
		jobs = append(jobs, Job{OEMID: oemID, Page: p})
	}

	s.enqueue(ctx, run, jobs)
}

// enqueue runs the given jobs through an errgroup capped at the global
// concurrency limit, each job additionally gated on its host's semaphore.
func (s *Scheduler) enqueue(ctx context.Context, run *models.ImportRun, jobs []Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.adjustActive(run.OEMID, len(jobs))
		defer func() { s.maybeCloseRun(ctx, run.OEMID) }()

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.cfg.GlobalConcurrency)

		for _, job := range jobs {
			job := job
			group.Go(func() error {
				defer s.adjustActive(job.OEMID, -1)
				return s.runJob(groupCtx, run, job)
			})
		}
		_ = group.Wait()
	}()
}

func (s *Scheduler) runJob(ctx context.Context, run *models.ImportRun, job Job) error {
	sem := s.hostSemaphore(job.Page.URL)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	result, err := s.pipeline.Run(ctx, job)
	s.recordOutcome(run, result, err)
	return err
}

func (s *Scheduler) hostSemaphore(rawURL string) *semaphore.Weighted {
	host := hostOf(rawURL)

	s.hostSemsMu.Lock()
	defer s.hostSemsMu.Unlock()
	sem, ok := s.hostSems[host]
	if !ok {
		sem = semaphore.NewWeighted(s.cfg.PerHostConcurrency)
		s.hostSems[host] = sem
	}
	return sem
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (s *Scheduler) openOrReuseRun(ctx context.Context, oemID string) (*models.ImportRun, error) {
	s.runsMu.Lock()
	if run, ok := s.openRuns[oemID]; ok {
		s.runsMu.Unlock()
		return run, nil
	}
	s.runsMu.Unlock()

	existing, err := s.importRun.GetOpenForOEM(ctx, oemID)
	if err != nil {
		return nil, fmt.Errorf("lookup open run: %w", err)
	}
	if existing != nil {
		s.runsMu.Lock()
		s.openRuns[oemID] = existing
		s.runsMu.Unlock()
		return existing, nil
	}

	run := &models.ImportRun{
		ID:        ulid.Make().String(),
		OEMID:     oemID,
		StartedAt: time.Now(),
		Status:    models.ImportRunStatusRunning,
	}
	if err := s.importRun.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	s.runsMu.Lock()
	s.openRuns[oemID] = run
	s.runsMu.Unlock()
	return run, nil
}

func (s *Scheduler) adjustActive(oemID string, delta int) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	s.activeJobs[oemID] += delta
}

func (s *Scheduler) recordOutcome(run *models.ImportRun, result pages.CheckResult, err error) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run.PagesChecked++
	if err != nil {
		run.ErrorCount++
		return
	}
	switch result.Outcome {
	case pages.OutcomeChanged:
		run.PagesChanged++
	case pages.OutcomeError, pages.OutcomeBlocked:
		run.ErrorCount++
	}
}

// maybeCloseRun closes an OEM's open ImportRun once its job queue has
// drained and no worker remains active for it (spec §4.9 step 5).
func (s *Scheduler) maybeCloseRun(ctx context.Context, oemID string) {
	s.runsMu.Lock()
	active := s.activeJobs[oemID]
	run, ok := s.openRuns[oemID]
	s.runsMu.Unlock()
	if !ok || active > 0 {
		return
	}

	now := time.Now()
	run.FinishedAt = &now
	run.Status = models.ImportRunStatusCompleted
	if run.ErrorCount > 0 && run.ErrorCount >= run.PagesChecked {
		run.Status = models.ImportRunStatusFailed
	} else if run.ErrorCount > 0 {
		run.Status = models.ImportRunStatusPartial
	}

	if err := s.importRun.Update(ctx, run); err != nil {
		s.logger.Error("close import run", "oem_id", oemID, "run_id", run.ID, "error", err)
		return
	}

	s.runsMu.Lock()
	delete(s.openRuns, oemID)
	delete(s.activeJobs, oemID)
	s.runsMu.Unlock()

	if s.afterRunClosed != nil && run.Status == models.ImportRunStatusCompleted {
		s.afterRunClosed(ctx, run)
	}
}

func (s *Scheduler) closeAllRunsPartial() {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	ctx := context.Background()
	now := time.Now()
	for oemID, run := range s.openRuns {
		run.FinishedAt = &now
		run.Status = models.ImportRunStatusPartial
		if err := s.importRun.Update(ctx, run); err != nil {
			s.logger.Error("mark run partial on shutdown", "oem_id", oemID, "run_id", run.ID, "error", err)
		}
	}
	s.openRuns = make(map[string]*models.ImportRun)
	s.activeJobs = make(map[string]int)
}
