// Package pages implements the Page Registry (spec §4.8): it tracks every
// URL the crawler knows about for each OEM, decides which of them are due
// for a check on a given tick, and records the outcome of each check back
// onto the row so the next due-date computation reflects it.
//
// Cadence and backoff live here, not in internal/repository: the
// repository is a plain store, this package is the scheduling policy on
// top of it.
package pages

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/jmylchreest/oem-crawler/internal/repository"
)

// baseCadence is the un-backed-off check interval per page type.
var baseCadence = map[models.PageType]time.Duration{
	models.PageTypeHomepage:      2 * time.Hour,
	models.PageTypeOffers:        4 * time.Hour,
	models.PageTypeVehicleDetail: 12 * time.Hour,
	models.PageTypeVehiclesIndex: 12 * time.Hour,
	models.PageTypeNews:          24 * time.Hour,
	models.PageTypeSitemap:       24 * time.Hour,
	models.PageTypeOther:         24 * time.Hour,
}

// PriorityOrder is the dispatch order the scheduler (C9) uses within one
// OEM's due pages.
var PriorityOrder = []models.PageType{
	models.PageTypeOffers,
	models.PageTypeHomepage,
	models.PageTypeVehiclesIndex,
	models.PageTypeVehicleDetail,
	models.PageTypeNews,
	models.PageTypeSitemap,
}

const maxBackoffMultiplier = 8

// Registry is the Page Registry's in-process handle. It wraps a
// SourcePageRepository with due-date computation and link discovery.
type Registry struct {
	repo repository.SourcePageRepository
}

// NewRegistry constructs a Registry over a backing repository.
func NewRegistry(repo repository.SourcePageRepository) *Registry {
	return &Registry{repo: repo}
}

// effectiveInterval applies the backoff formula from spec §4.8: base ×
// min(8, 1 + 0.25 × consecutive_no_change).
func effectiveInterval(pageType models.PageType, consecutiveNoChange int) time.Duration {
	base, ok := baseCadence[pageType]
	if !ok {
		base = baseCadence[models.PageTypeOther]
	}
	multiplier := 1.0 + 0.25*float64(consecutiveNoChange)
	if multiplier > maxBackoffMultiplier {
		multiplier = maxBackoffMultiplier
	}
	return time.Duration(float64(base) * multiplier)
}

// IsDue reports whether a page should be checked at now.
func IsDue(page *models.SourcePage, now time.Time) bool {
	if page.Status != models.PageStatusActive {
		return false
	}
	if page.LastCheckedAt == nil {
		return true
	}
	interval := effectiveInterval(page.PageType, page.ConsecutiveNoChange)
	return !now.Before(page.LastCheckedAt.Add(interval))
}

// GetDuePages returns every active page for oemID whose effective interval
// has elapsed, ordered per PriorityOrder and FIFO (by creation order)
// within each priority class.
func (r *Registry) GetDuePages(ctx context.Context, oemID string, now time.Time) ([]*models.SourcePage, error) {
	all, err := r.repo.ListByOEM(ctx, oemID)
	if err != nil {
		return nil, fmt.Errorf("pages: list %s: %w", oemID, err)
	}

	due := make([]*models.SourcePage, 0, len(all))
	for _, p := range all {
		if IsDue(p, now) {
			due = append(due, p)
		}
	}

	rank := make(map[models.PageType]int, len(PriorityOrder))
	for i, pt := range PriorityOrder {
		rank[pt] = i
	}
	sort.SliceStable(due, func(i, j int) bool {
		ri, oki := rank[due[i].PageType]
		rj, okj := rank[due[j].PageType]
		if !oki {
			ri = len(PriorityOrder)
		}
		if !okj {
			rj = len(PriorityOrder)
		}
		if ri != rj {
			return ri < rj
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, nil
}

// Outcome classifies the result of one check for RecordCheck.
type Outcome int

const (
	// OutcomeNoChange means the raw fetch hash matched the prior check.
	OutcomeNoChange Outcome = iota
	// OutcomeRenderedNoChange means the raw hash changed but the rendered
	// content did not (spec §4.1's two-level change rule).
	OutcomeRenderedNoChange
	// OutcomeChanged means the page produced a catalogue-visible change.
	OutcomeChanged
	// OutcomeError means the fetch/render failed with a retryable or
	// permanent error, carried in CheckResult.ErrorMessage.
	OutcomeError
	// OutcomeBlocked means the fetch/render was detected as bot-blocked.
	OutcomeBlocked
)

// CheckResult carries what an orchestrator run observed for one page,
// independent of how RecordCheck updates the row.
type CheckResult struct {
	Outcome          Outcome
	RawHash          string
	RenderedHash     string
	ErrorMessage     string
	MarkPermanent    bool // true for a 4xx that should retire the page
}

// RecordCheck applies a CheckResult onto a page's registry row and
// persists it. It mutates page in place so callers can inspect the
// resulting state (e.g. to log the new consecutive_no_change).
func (r *Registry) RecordCheck(ctx context.Context, page *models.SourcePage, result CheckResult) error {
	now := time.Now()
	page.LastCheckedAt = &now

	switch result.Outcome {
	case OutcomeNoChange, OutcomeRenderedNoChange:
		page.ConsecutiveNoChange++
		page.ErrorMessage = ""
		page.Consecutive404s = 0
		page.ConsecutiveBlocked = 0
		if result.RawHash != "" {
			page.LastHash = result.RawHash
		}
		if result.Outcome == OutcomeRenderedNoChange && result.RenderedHash != "" {
			page.LastRenderedHash = result.RenderedHash
		}

	case OutcomeChanged:
		page.ConsecutiveNoChange = 0
		page.LastChangedAt = &now
		page.ErrorMessage = ""
		page.Consecutive404s = 0
		page.ConsecutiveBlocked = 0
		if result.RawHash != "" {
			page.LastHash = result.RawHash
		}
		if result.RenderedHash != "" {
			page.LastRenderedHash = result.RenderedHash
		}

	case OutcomeError:
		page.ErrorMessage = result.ErrorMessage
		if result.MarkPermanent {
			page.Status = models.PageStatusError
			page.Consecutive404s++
		}

	case OutcomeBlocked:
		page.ConsecutiveBlocked++
		page.ErrorMessage = result.ErrorMessage
		if page.ConsecutiveBlocked >= 3 {
			page.Status = models.PageStatusBlocked
		}
	}

	if err := r.repo.Update(ctx, page); err != nil {
		return fmt.Errorf("pages: update %s: %w", page.ID, err)
	}
	return nil
}

// NormaliseURL lowercases the host and strips a trailing slash and any
// fragment so discovered links de-dup sensibly; the query string is left
// as it is. It is deliberately conservative: unparsable input is
// returned unchanged.
func NormaliseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// AddDiscoveredLink records a same-host link found while rendering
// fromPageID, subject to the max discovery depth and de-duping on the
// normalised URL (spec §4.8). It is a no-op, returning (nil, nil), when
// the URL is already registered or the depth bound is exceeded.
func (r *Registry) AddDiscoveredLink(ctx context.Context, oemID, rawURL string, pageType models.PageType, fromPageID string, fromDepth, maxDiscoveryDepth int) (*models.SourcePage, error) {
	depth := fromDepth + 1
	if depth > maxDiscoveryDepth {
		return nil, nil
	}

	normalised := NormaliseURL(rawURL)
	existing, err := r.repo.GetByOEMAndURL(ctx, oemID, normalised)
	if err != nil {
		return nil, fmt.Errorf("pages: lookup %s: %w", normalised, err)
	}
	if existing != nil {
		return nil, nil
	}

	now := time.Now()
	page := &models.SourcePage{
		ID:               ulid.Make().String(),
		OEMID:            oemID,
		URL:              normalised,
		PageType:         pageType,
		Status:           models.PageStatusActive,
		Depth:            depth,
		DiscoveredFromID: fromPageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.repo.Create(ctx, page); err != nil {
		return nil, fmt.Errorf("pages: create discovered page %s: %w", normalised, err)
	}
	return page, nil
}

// SeedIfMissing registers a seed page (from an OEM's config) if it is not
// already present, so repeated bootstraps are idempotent.
func (r *Registry) SeedIfMissing(ctx context.Context, oemID, rawURL string, pageType models.PageType) (*models.SourcePage, error) {
	normalised := NormaliseURL(rawURL)
	existing, err := r.repo.GetByOEMAndURL(ctx, oemID, normalised)
	if err != nil {
		return nil, fmt.Errorf("pages: lookup seed %s: %w", normalised, err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	page := &models.SourcePage{
		ID:        ulid.Make().String(),
		OEMID:     oemID,
		URL:       normalised,
		PageType:  pageType,
		Status:    models.PageStatusActive,
		Depth:     0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.Create(ctx, page); err != nil {
		return nil, fmt.Errorf("pages: create seed page %s: %w", normalised, err)
	}
	return page, nil
}
