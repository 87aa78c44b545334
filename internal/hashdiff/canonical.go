// Package hashdiff canonicalises catalogue entities into a bytewise-stable
// form, hashes that form, and diffs two snapshots of the same entity into a
// typed field-level change with a severity classification (spec §4.1, C1).
package hashdiff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapseWhitespace normalises runs of whitespace to a single space and
// trims the result, matching the canonicalisation rule for text fields.
// The null/empty-string distinction is preserved by the caller: this
// function is only ever applied to a non-nil string.
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// normaliseURL lowercases scheme and host and leaves the path/query as-is
// (already percent-encoded by the producer).
func normaliseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// canonicalMap is the intermediate, key-sorted representation every entity
// is reduced to before serialisation. Using map[string]any plus Go's
// encoding/json (which sorts map keys) gives the "all mappings sorted by
// key" guarantee for free; we additionally pre-sort any nested slices whose
// order is not semantically meaningful.
type canonicalMap map[string]any

func priceToCanonical(p models.Price) canonicalMap {
	return canonicalMap{
		"amount_minor_units": p.AmountMinorUnits,
		"currency":           strings.ToUpper(p.Currency),
		"type":               p.Type,
	}
}

func keyFeaturesToCanonical(kf []models.KeyFeature) []canonicalMap {
	out := make([]canonicalMap, 0, len(kf))
	for _, f := range kf {
		out = append(out, canonicalMap{
			"label": collapseWhitespace(f.Label),
			"value": collapseWhitespace(f.Value),
		})
	}
	return out // order preserved: key_features order is semantically meaningful
}

func variantsToCanonical(variants []models.VariantDescriptor) []canonicalMap {
	// Variants retain order (spec §4.1) unless an explicit sort_order is
	// present, in which case sort_order is authoritative and stable.
	sorted := make([]models.VariantDescriptor, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortOrder < sorted[j].SortOrder
	})
	out := make([]canonicalMap, 0, len(sorted))
	for _, v := range sorted {
		entry := canonicalMap{
			"external_key":     v.ExternalKey,
			"child_product_id": v.ChildProductID,
			"title":            collapseWhitespace(v.Title),
			"sort_order":       v.SortOrder,
		}
		if v.Price != nil {
			entry["price"] = priceToCanonical(*v.Price)
		} else {
			entry["price"] = nil
		}
		out = append(out, entry)
	}
	return out
}

func ctaLinksToCanonical(links []models.CTALink) []canonicalMap {
	out := make([]canonicalMap, 0, len(links))
	for _, l := range links {
		out = append(out, canonicalMap{
			"label": collapseWhitespace(l.Label),
			"url":   normaliseURL(l.URL),
		})
	}
	return out
}

func metaToCanonical(meta map[string]string) canonicalMap {
	if meta == nil {
		return nil
	}
	out := canonicalMap{}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// CanonicaliseProduct reduces a ProductCanonical to its stable byte form.
func CanonicaliseProduct(p models.ProductCanonical) []byte {
	m := canonicalMap{
		"oem_id":       p.OEMID,
		"external_key": p.ExternalKey,
		"title":        collapseWhitespace(p.Title),
		"subtitle":     collapseWhitespace(p.Subtitle),
		"body_type":    p.BodyType,
		"fuel_type":    p.FuelType,
		"availability": string(p.Availability),
		"price":        priceToCanonical(p.Price),
		"key_features": keyFeaturesToCanonical(p.KeyFeatures),
		"variants":     variantsToCanonical(p.Variants),
		"cta_links":    ctaLinksToCanonical(p.CTALinks),
		"meta":         metaToCanonical(p.Meta),
	}
	return mustMarshalSorted(m)
}

// CanonicaliseOffer reduces an OfferCanonical to its stable byte form.
func CanonicaliseOffer(o models.OfferCanonical) []byte {
	applicableModels := make([]string, len(o.ApplicableModels))
	copy(applicableModels, o.ApplicableModels)
	sort.Strings(applicableModels) // applicable_models is a set: order not meaningful

	m := canonicalMap{
		"oem_id":            o.OEMID,
		"external_key":      o.ExternalKey,
		"title":             collapseWhitespace(o.Title),
		"offer_type":        o.OfferType,
		"applicable_models": applicableModels,
		"validity_start":    formatTimePtr(o.ValidityStart),
		"validity_end":      formatTimePtr(o.ValidityEnd),
		"saving_amount":     priceToCanonical(o.SavingAmount),
		"cta_links":         ctaLinksToCanonical(o.CTALinks),
		"meta":              metaToCanonical(o.Meta),
	}
	return mustMarshalSorted(m)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02T15:04:05Z07:00")
}

// mustMarshalSorted marshals v via encoding/json, which sorts map[string]any
// keys lexicographically by construction. Panics are not expected: inputs
// are always built from the canonicalMap helpers above.
func mustMarshalSorted(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("hashdiff: canonical form failed to marshal: " + err.Error())
	}
	return b
}

// HashCanonical computes the lowercase-hex SHA-256 digest of canonical bytes.
func HashCanonical(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
