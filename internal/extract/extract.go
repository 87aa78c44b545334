// Package extract implements the extraction coordinator (C5): a fallback
// ladder from a known-API payload, to DOM selectors, to an LLM call, each
// scored with a confidence value, stopping at the first strategy that clears
// the configured threshold (spec §4.5).
package extract

import (
	"context"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// DefaultConfidenceThreshold is the confidence a strategy must clear for the
// coordinator to accept its result without trying the next strategy.
const DefaultConfidenceThreshold = 0.75

// Entity is one extracted Product or Offer, tagged by kind so the caller can
// route it to the right catalogue upsert.
type Entity struct {
	Kind    models.EntityType
	Product *models.ProductCanonical
	Offer   *models.OfferCanonical
}

// FieldMapping is a declarative (field name -> JSON path / CSS selector)
// mapping, supplied per OEM and page type in OEM config.
type FieldMapping map[string]string

// PageConfig is the per-(OEM, page_type) configuration a strategy needs:
// selectors for the DOM strategy, a JSON-path mapping for the direct-API
// strategy, and which fields are required for a confidence contribution
// (spec §6 "Configuration").
type PageConfig struct {
	EntityKind     models.EntityType
	RequiredFields []string
	APIMapping     FieldMapping // field -> gjson path, used by DirectAPIStrategy
	Selectors      FieldMapping // field -> CSS selector, used by DOMSelectorStrategy
}

// Input is everything a strategy might need; a given strategy reads only
// the fields it requires (e.g. DOMSelectorStrategy ignores APIPayload).
type Input struct {
	OEMID        string
	PageType     models.PageType
	RenderedHTML string
	APIPayload   []byte
	// PageStructureHint, when non-empty, is a preprocessing note (e.g. "listing
	// page with repeated product elements") folded into LLMStrategy's system
	// prompt to steer array-vs-object shaping.
	PageStructureHint string
	Config       PageConfig
}

// Result is what a strategy hands back to the coordinator (spec §4.5: "each
// strategy returns {entities, confidence, method_label, extraction_ms}").
type Result struct {
	Entities     []Entity
	Confidence   float64
	MethodLabel  string
	ExtractionMS int64
}

// Strategy is one extraction technique in the fallback ladder.
type Strategy interface {
	Label() string
	Extract(ctx context.Context, in Input) (Result, error)
}

// OutcomeRecorder is notified which strategy succeeded for a given (OEM,
// page type), to drive future strategy ordering and the selector-health
// metric (spec §4.5, last paragraph).
type OutcomeRecorder interface {
	RecordOutcome(oemID string, pageType models.PageType, methodLabel string, succeeded bool)
}

// Coordinator runs strategies in order until one clears Threshold.
type Coordinator struct {
	Strategies []Strategy
	Threshold  float64
	Recorder   OutcomeRecorder
}

// NewCoordinator builds a Coordinator with the default threshold.
func NewCoordinator(strategies []Strategy, recorder OutcomeRecorder) *Coordinator {
	return &Coordinator{Strategies: strategies, Threshold: DefaultConfidenceThreshold, Recorder: recorder}
}

// Extract tries each strategy in order, returning the first result whose
// confidence clears c.Threshold. If every strategy falls short, it returns
// the highest-confidence result seen along with a non-nil error so the
// caller can decide whether a low-confidence result is still usable.
func (c *Coordinator) Extract(ctx context.Context, in Input) (Result, error) {
	var best Result
	haveBest := false

	for _, s := range c.Strategies {
		start := time.Now()
		res, err := s.Extract(ctx, in)
		res.MethodLabel = s.Label()
		res.ExtractionMS = time.Since(start).Milliseconds()

		succeeded := err == nil && res.Confidence >= c.Threshold
		if c.Recorder != nil {
			c.Recorder.RecordOutcome(in.OEMID, in.PageType, s.Label(), succeeded)
		}
		if err != nil {
			continue
		}
		if !haveBest || res.Confidence > best.Confidence {
			best = res
			haveBest = true
		}
		if succeeded {
			return res, nil
		}
	}

	if !haveBest {
		return Result{}, errNoStrategySucceeded
	}
	return best, errBelowThreshold
}
