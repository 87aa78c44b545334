// Package orchestrator implements the per-page crawl pipeline (spec §4.10):
// a cheap fetch, a two-level change check, a conditional render, API replay
// observation, extraction, and catalogue upsert. It is the one package that
// imports nearly every other component — fetcher, renderer, probe, extract,
// catalogue, pages, protection, preprocessor, llm — because spec §4.10
// describes it as "thin glue" wiring them together, not a component with
// its own algorithm.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/oem-crawler/internal/catalogue"
	"github.com/jmylchreest/oem-crawler/internal/extract"
	"github.com/jmylchreest/oem-crawler/internal/fetcher"
	"github.com/jmylchreest/oem-crawler/internal/hashdiff"
	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/jmylchreest/oem-crawler/internal/notify"
	"github.com/jmylchreest/oem-crawler/internal/oem"
	"github.com/jmylchreest/oem-crawler/internal/pages"
	"github.com/jmylchreest/oem-crawler/internal/preprocessor"
	"github.com/jmylchreest/oem-crawler/internal/probe"
	"github.com/jmylchreest/oem-crawler/internal/protection"
	"github.com/jmylchreest/oem-crawler/internal/renderer"
	"github.com/jmylchreest/oem-crawler/internal/scheduler"
	"github.com/jmylchreest/oem-crawler/internal/storage"
)

// Preprocessor is the narrow slice of internal/preprocessor the
// orchestrator needs, so tests can inject internal/preprocessor.Noop.
type Preprocessor interface {
	Process(content string) (*preprocessor.Hints, error)
}

// Orchestrator wires the crawl pipeline's components together. It
// implements scheduler.Pipeline.
type Orchestrator struct {
	OEMs         *oem.Store
	Pages        *pages.Registry
	Fetcher      *fetcher.Fetcher
	Renderer     *renderer.Renderer
	Probes       *probe.Registry
	Extractors   *extract.Coordinator
	Catalogue    *catalogue.Store
	Detector     *protection.Detector
	Preprocessor Preprocessor
	// Storage archives rendered snapshots of changed pages, content-addressed
	// by SHA-256 (spec §6). May be nil, in which case snapshots aren't archived.
	Storage *storage.Store
	// Notifier fans confirmed catalogue changes out to webhook subscribers
	// (spec §4's notification sink). May be nil, in which case catalogue
	// changes are recorded but never delivered anywhere.
	Notifier *notify.Sink
	Logger   *slog.Logger
}

var _ scheduler.Pipeline = (*Orchestrator)(nil)

// Run executes spec §4.10's pipeline for one due page.
func (o *Orchestrator) Run(ctx context.Context, job scheduler.Job) (pages.CheckResult, error) {
	logger := o.logger()
	page := job.Page

	cfg, ok := o.OEMs.Get(job.OEMID)
	if !ok {
		return pages.CheckResult{}, fmt.Errorf("orchestrator: unknown oem %q", job.OEMID)
	}

	fetchResult, err := o.Fetcher.Fetch(ctx, page.URL, fetcher.Options{})
	if err != nil {
		return o.handleFetchError(ctx, page, err)
	}

	if detection := o.Detector.DetectFromResponse(fetchResult.StatusCode, fetchResult.Headers, fetchResult.Body); detection.Detected {
		logger.Warn("fetch blocked", "oem_id", job.OEMID, "url", page.URL, "signal", detection.Signal)
		result := pages.CheckResult{Outcome: pages.OutcomeBlocked, ErrorMessage: detection.Description}
		if err := o.Pages.RecordCheck(ctx, page, result); err != nil {
			logger.Error("record blocked check", "url", page.URL, "error", err)
		}
		return result, nil
	}

	rawHash := hashdiff.HashRawBody(fetchResult.Body)
	if rawHash == page.LastHash {
		result := pages.CheckResult{Outcome: pages.OutcomeNoChange, RawHash: rawHash}
		if err := o.Pages.RecordCheck(ctx, page, result); err != nil {
			return result, fmt.Errorf("record no-change check: %w", err)
		}
		return result, nil
	}

	renderResult, err := o.Renderer.Render(ctx, page.URL, renderer.WaitPolicy{Kind: renderer.WaitNetworkIdle})
	if err != nil {
		return o.handleFetchError(ctx, page, err)
	}

	for _, ex := range renderResult.Observer.APICandidates() {
		candidate := probe.Candidate{
			URL:     ex.Request.URL,
			Method:  ex.Request.Method,
			Headers: ex.Request.Headers,
			Body:    ex.Response.Body,
		}
		if _, err := o.Probes.Observe(ctx, job.OEMID, candidate); err != nil {
			logger.Error("observe api candidate", "url", ex.Request.URL, "error", err)
		}
	}

	o.discoverLinks(ctx, job.OEMID, cfg, page, renderResult.HTML)

	renderedText := hashdiff.NormaliseRenderedText(renderResult.HTML)
	renderedHash := hashdiff.HashRenderedText(renderedText)

	if !hashdiff.PageChanged(page.LastHash, rawHash, page.LastRenderedHash, renderedHash) {
		result := pages.CheckResult{Outcome: pages.OutcomeRenderedNoChange, RawHash: rawHash, RenderedHash: renderedHash}
		if err := o.Pages.RecordCheck(ctx, page, result); err != nil {
			return result, fmt.Errorf("record rendered-no-change check: %w", err)
		}
		return result, nil
	}

	if o.Storage != nil {
		if digest, err := o.Storage.Put(ctx, "text/html", []byte(renderResult.HTML)); err != nil {
			logger.Warn("archive rendered snapshot", "url", page.URL, "error", err)
		} else {
			logger.Debug("archived rendered snapshot", "url", page.URL, "digest", digest)
		}
	}

	pageCfg, ok := cfg.PageConfigFor(page.PageType)
	if !ok {
		result := pages.CheckResult{Outcome: pages.OutcomeChanged, RawHash: rawHash, RenderedHash: renderedHash}
		if err := o.Pages.RecordCheck(ctx, page, result); err != nil {
			return result, fmt.Errorf("record change (unconfigured page type): %w", err)
		}
		return result, nil
	}

	hint := ""
	if o.Preprocessor != nil {
		if hints, err := o.Preprocessor.Process(renderResult.HTML); err == nil && hints != nil {
			hint = hints.PageStructure
		}
	}

	extractInput := extract.Input{
		OEMID:             job.OEMID,
		PageType:          page.PageType,
		RenderedHTML:      renderedText,
		Config:            pageCfg.ToExtractConfig(),
		PageStructureHint: hint,
	}
	extractResult, extractErr := o.Extractors.Extract(ctx, extractInput)
	if extractErr != nil && len(extractResult.Entities) > 0 {
		logger.Warn("extraction below confidence threshold, using best effort", "oem_id", job.OEMID, "url", page.URL, "method", extractResult.MethodLabel, "confidence", extractResult.Confidence)
	}
	if extractErr != nil && len(extractResult.Entities) == 0 {
		result := pages.CheckResult{Outcome: pages.OutcomeError, RawHash: rawHash, RenderedHash: renderedHash, ErrorMessage: extractErr.Error()}
		if err := o.Pages.RecordCheck(ctx, page, result); err != nil {
			logger.Error("record extraction failure", "url", page.URL, "error", err)
		}
		return result, extractErr
	}

	for _, entity := range extractResult.Entities {
		if err := o.upsertEntity(ctx, job.OEMID, cfg, entity); err != nil {
			logger.Error("catalogue upsert", "oem_id", job.OEMID, "url", page.URL, "error", err)
		}
	}

	result := pages.CheckResult{Outcome: pages.OutcomeChanged, RawHash: rawHash, RenderedHash: renderedHash}
	if err := o.Pages.RecordCheck(ctx, page, result); err != nil {
		return result, fmt.Errorf("record change: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) upsertEntity(ctx context.Context, oemID string, cfg oem.Config, entity extract.Entity) error {
	switch entity.Kind {
	case models.EntityTypeProduct:
		if entity.Product == nil {
			return nil
		}
		entity.Product.OEMID = oemID
		result, err := o.Catalogue.UpsertProduct(ctx, *entity.Product, cfg.CriticalFields)
		o.notifyChange(result)
		return err
	case models.EntityTypeOffer:
		if entity.Offer == nil {
			return nil
		}
		entity.Offer.OEMID = oemID
		result, err := o.Catalogue.UpsertOffer(ctx, *entity.Offer, cfg.CriticalFields)
		o.notifyChange(result)
		return err
	default:
		return nil
	}
}

// discoverLinks follows spec §4.8's link-discovery rule: same-host links on
// a freshly rendered page, matching the OEM's per-page-type link_patterns,
// are registered as new pages up to the OEM's max discovery depth.
func (o *Orchestrator) discoverLinks(ctx context.Context, oemID string, cfg oem.Config, page *models.SourcePage, html string) {
	byPageType := make(map[models.PageType][]string, len(cfg.Pages))
	for pt, pc := range cfg.Pages {
		if len(pc.LinkPatterns) > 0 {
			byPageType[pt] = pc.LinkPatterns
		}
	}
	if len(byPageType) == 0 {
		return
	}

	patterns := pages.CompileLinkPatterns(byPageType)
	if len(patterns) == 0 {
		return
	}

	urls, types := pages.DiscoverLinks(html, cfg.BaseURL, patterns)
	for i, u := range urls {
		if _, err := o.Pages.AddDiscoveredLink(ctx, oemID, u, types[i], page.ID, page.Depth, cfg.MaxDiscoveryDepth); err != nil {
			o.logger().Error("add discovered link", "oem_id", oemID, "url", u, "error", err)
		}
	}
}

// notifyChange pushes result's ChangeEvent onto the notification sink, if
// one is configured and the upsert actually produced an event.
func (o *Orchestrator) notifyChange(result catalogue.UpsertResult) {
	if o.Notifier == nil || result.ChangeEvent == nil {
		return
	}
	o.Notifier.Emit(*result.ChangeEvent)
}

// handleFetchError classifies a fetch/render error per spec §4.10's
// "Failures" rule: transient errors are left unrecorded so the page stays
// due next tick; permanent and blocked errors update the registry row.
func (o *Orchestrator) handleFetchError(ctx context.Context, page *models.SourcePage, err error) (pages.CheckResult, error) {
	switch {
	case fetcher.IsKind(err, fetcher.KindBlocked):
		result := pages.CheckResult{Outcome: pages.OutcomeBlocked, ErrorMessage: err.Error()}
		if recErr := o.Pages.RecordCheck(ctx, page, result); recErr != nil {
			o.logger().Error("record blocked fetch", "url", page.URL, "error", recErr)
		}
		return result, err

	case fetcher.IsKind(err, fetcher.KindPermanent4xx):
		result := pages.CheckResult{Outcome: pages.OutcomeError, ErrorMessage: err.Error(), MarkPermanent: true}
		if recErr := o.Pages.RecordCheck(ctx, page, result); recErr != nil {
			o.logger().Error("record permanent fetch error", "url", page.URL, "error", recErr)
		}
		return result, err

	default:
		// Transient and timeout errors: leave the registry row untouched so
		// the page remains due on the scheduler's next tick.
		return pages.CheckResult{Outcome: pages.OutcomeError, ErrorMessage: err.Error()}, err
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
