package hashdiff

import (
	"fmt"
	"math"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// DiffProducts compares two ProductCanonical snapshots of the same entity
// and returns a field -> {from, to} map. An empty map means the two
// snapshots canonicalise identically.
func DiffProducts(prev, next models.ProductCanonical) map[string]models.FieldDiff {
	diff := map[string]models.FieldDiff{}

	if prev.Title != next.Title {
		diff["title"] = models.FieldDiff{From: prev.Title, To: next.Title}
	}
	if prev.Subtitle != next.Subtitle {
		diff["subtitle"] = models.FieldDiff{From: prev.Subtitle, To: next.Subtitle}
	}
	if prev.BodyType != next.BodyType {
		diff["body_type"] = models.FieldDiff{From: prev.BodyType, To: next.BodyType}
	}
	if prev.FuelType != next.FuelType {
		diff["fuel_type"] = models.FieldDiff{From: prev.FuelType, To: next.FuelType}
	}
	if prev.Availability != next.Availability {
		diff["availability"] = models.FieldDiff{From: string(prev.Availability), To: string(next.Availability)}
	}
	if prev.Price != next.Price {
		if prev.Price.AmountMinorUnits != next.Price.AmountMinorUnits {
			diff["price_amount"] = models.FieldDiff{From: prev.Price.AmountMinorUnits, To: next.Price.AmountMinorUnits}
		}
		if prev.Price.Currency != next.Price.Currency {
			diff["price_currency"] = models.FieldDiff{From: prev.Price.Currency, To: next.Price.Currency}
		}
		if prev.Price.Type != next.Price.Type {
			diff["price_type"] = models.FieldDiff{From: prev.Price.Type, To: next.Price.Type}
		}
	}

	if !sameOrderedStrings(keyFeatureKeys(prev.KeyFeatures), keyFeatureKeys(next.KeyFeatures)) {
		diff["key_features"] = models.FieldDiff{From: prev.KeyFeatures, To: next.KeyFeatures}
	}

	if !sameVariants(prev.Variants, next.Variants) {
		diff["variants"] = models.FieldDiff{From: prev.Variants, To: next.Variants}
	}

	if !sameCTALinks(prev.CTALinks, next.CTALinks) {
		diff["cta_links"] = models.FieldDiff{From: prev.CTALinks, To: next.CTALinks}
	}

	return diff
}

// DiffOffers compares two OfferCanonical snapshots.
func DiffOffers(prev, next models.OfferCanonical) map[string]models.FieldDiff {
	diff := map[string]models.FieldDiff{}

	if prev.Title != next.Title {
		diff["title"] = models.FieldDiff{From: prev.Title, To: next.Title}
	}
	if prev.OfferType != next.OfferType {
		diff["offer_type"] = models.FieldDiff{From: prev.OfferType, To: next.OfferType}
	}
	if !timePtrEqual(prev.ValidityStart, next.ValidityStart) {
		diff["validity_start"] = models.FieldDiff{From: prev.ValidityStart, To: next.ValidityStart}
	}
	if !timePtrEqual(prev.ValidityEnd, next.ValidityEnd) {
		diff["validity_end"] = models.FieldDiff{From: prev.ValidityEnd, To: next.ValidityEnd}
	}
	if prev.SavingAmount != next.SavingAmount {
		diff["saving_amount"] = models.FieldDiff{From: prev.SavingAmount, To: next.SavingAmount}
	}
	if !sameStringSet(prev.ApplicableModels, next.ApplicableModels) {
		diff["applicable_models"] = models.FieldDiff{From: prev.ApplicableModels, To: next.ApplicableModels}
	}

	return diff
}

// ClassifySeverity assigns a severity to a product diff per §4.1. criticalFields
// is the OEM-config-supplied list of fields that bump severity one level.
func ClassifySeverity(diff map[string]models.FieldDiff, prevAvailability, nextAvailability models.Availability, criticalFields []string) models.Severity {
	sev := models.SeverityLow
	if len(diff) == 0 {
		return sev
	}

	if pd, ok := diff["price_amount"]; ok {
		from, _ := toFloat(pd.From)
		to, _ := toFloat(pd.To)
		delta := math.Abs(to - from)
		pct := 0.0
		if from != 0 {
			pct = delta / math.Abs(from)
		}
		if pct > 0.05 || delta > 100000 { // $1000 in minor units
			sev = bumpTo(sev, models.SeverityHigh)
		} else {
			sev = bumpTo(sev, models.SeverityMedium)
		}
	}

	if isAvailabilityBoundary(prevAvailability) || isAvailabilityBoundary(nextAvailability) {
		if prevAvailability != nextAvailability {
			sev = bumpTo(sev, models.SeverityHigh)
		}
	}

	// Addition/removal of the whole entity is handled by the caller (it
	// knows whether this is a create/remove vs an update) and sets that
	// event's severity itself; here we only classify field-level diffs.
	hasNonCosmetic := false
	for field := range diff {
		if !isCosmeticField(field) {
			hasNonCosmetic = true
			break
		}
	}
	if !hasNonCosmetic {
		sev = bumpTo(sev, models.SeverityLow)
	}

	for _, f := range criticalFields {
		if _, changed := diff[f]; changed {
			sev = bumpOneLevel(sev)
			break
		}
	}

	return sev
}

// ClassifyOfferSeverity assigns severity to an offer diff, per §4.1's
// validity_end "brings an offer live or dead" rule.
func ClassifyOfferSeverity(diff map[string]models.FieldDiff, wasLive, isLive bool, criticalFields []string) models.Severity {
	sev := models.SeverityLow
	if len(diff) == 0 {
		return sev
	}
	if _, ok := diff["saving_amount"]; ok {
		sev = bumpTo(sev, models.SeverityMedium)
	}
	if _, ok := diff["validity_end"]; ok && wasLive != isLive {
		sev = bumpTo(sev, models.SeverityHigh)
	}
	for _, f := range criticalFields {
		if _, changed := diff[f]; changed {
			sev = bumpOneLevel(sev)
			break
		}
	}
	return sev
}

var severityOrder = map[models.Severity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

func bumpTo(cur, candidate models.Severity) models.Severity {
	if severityOrder[candidate] > severityOrder[cur] {
		return candidate
	}
	return cur
}

func bumpOneLevel(cur models.Severity) models.Severity {
	switch cur {
	case models.SeverityLow:
		return models.SeverityMedium
	case models.SeverityMedium:
		return models.SeverityHigh
	case models.SeverityHigh:
		return models.SeverityCritical
	default:
		return cur
	}
}

func isCosmeticField(field string) bool {
	switch field {
	case "subtitle", "description", "disclaimer", "cta_links":
		return true
	default:
		return false
	}
}

func isAvailabilityBoundary(a models.Availability) bool {
	return a == models.AvailabilityRunOut || a == models.AvailabilityDiscontinued
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func keyFeatureKeys(kf []models.KeyFeature) []string {
	out := make([]string, len(kf))
	for i, f := range kf {
		out[i] = fmt.Sprintf("%s=%s", f.Label, f.Value)
	}
	return out
}

func sameOrderedStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameVariants(a, b []models.VariantDescriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ExternalKey != b[i].ExternalKey ||
			a[i].ChildProductID != b[i].ChildProductID ||
			a[i].Title != b[i].Title ||
			a[i].SortOrder != b[i].SortOrder {
			return false
		}
		switch {
		case a[i].Price == nil && b[i].Price == nil:
		case a[i].Price == nil || b[i].Price == nil:
			return false
		case *a[i].Price != *b[i].Price:
			return false
		}
	}
	return true
}

func sameCTALinks(a, b []models.CTALink) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[string]int{}
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return a.Equal(*b)
	}
}
