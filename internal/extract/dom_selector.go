package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// DOMSelectorStrategy applies a per-(OEM, page type) CSS selector map
// against the rendered DOM (spec §4.5 "DOM selectors"). Confidence is the
// fraction of required fields a healthy selector managed to populate.
type DOMSelectorStrategy struct {
	Health *SelectorHealth
}

func (DOMSelectorStrategy) Label() string { return "dom_selectors" }

func (s DOMSelectorStrategy) Extract(_ context.Context, in Input) (Result, error) {
	if len(in.Config.Selectors) == 0 || in.RenderedHTML == "" {
		return Result{}, errNoSelectors
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.RenderedHTML))
	if err != nil {
		return Result{}, fmt.Errorf("parsing rendered HTML: %w", err)
	}

	fields := make(map[string]string, len(in.Config.Selectors))
	for field, selector := range in.Config.Selectors {
		key := selectorHealthKey(in.OEMID, in.PageType, field)
		if s.Health != nil && !s.Health.IsHealthy(key) {
			continue
		}
		sel := doc.Find(selector).First()
		matched := sel.Length() > 0
		if s.Health != nil {
			s.Health.Record(key, matched)
		}
		if matched {
			fields[field] = strings.TrimSpace(sel.Text())
		}
	}

	if len(fields) == 0 {
		return Result{Confidence: 0}, nil
	}

	required := in.Config.RequiredFields
	if len(required) == 0 {
		required = fieldNames(in.Config.Selectors)
	}
	populated := 0
	for _, req := range required {
		if _, ok := fields[req]; ok {
			populated++
		}
	}
	confidence := float64(populated) / float64(len(required))

	return Result{Entities: []Entity{fieldsToEntity(in.Config.EntityKind, fields)}, Confidence: confidence}, nil
}

var errNoSelectors = newStrategyError("no selectors configured for this page type, or no rendered HTML available")

func selectorHealthKey(oemID string, pageType models.PageType, field string) string {
	return oemID + "|" + string(pageType) + "|" + field
}

func fieldNames(m FieldMapping) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
