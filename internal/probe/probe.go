// Package probe classifies JSON endpoints observed during a browser render,
// persists them as DiscoveredAPI rows, and decides whether to replay them on
// a subsequent crawl instead of paying for another render (spec §4.4, C4).
package probe

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	hexSegment     = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
)

// productArrayKeys and offerArrayKeys are the recognisable top-level (or
// one-level-nested) array keys the shape heuristic looks for (spec §4.4.2).
var (
	productArrayKeys = []string{"products", "vehicles", "nameplates", "models", "configurations"}
	offerArrayKeys   = []string{"offers", "deals", "promotions"}
)

// Candidate is one JSON response nominated by the renderer's network
// observer, ready to be classified.
type Candidate struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// ClassifyShape parses body and tags it with a data type per the §4.4
// heuristic: does it contain arrays under recognisable keys?
func ClassifyShape(body []byte) models.APIDataType {
	if !gjson.ValidBytes(body) {
		return models.APIDataTypeUnknown
	}
	root := gjson.ParseBytes(body)

	if hasArrayUnderAnyKey(root, productArrayKeys) {
		return models.APIDataTypeProducts
	}
	if hasArrayUnderAnyKey(root, offerArrayKeys) {
		return models.APIDataTypeOffers
	}
	return models.APIDataTypeUnknown
}

func hasArrayUnderAnyKey(root gjson.Result, keys []string) bool {
	for _, k := range keys {
		if v := root.Get(k); v.Exists() && v.IsArray() && len(v.Array()) > 0 {
			return true
		}
		// one level of nesting, e.g. {"data": {"products": [...]}}
		if v := root.Get("data." + k); v.Exists() && v.IsArray() && len(v.Array()) > 0 {
			return true
		}
	}
	return false
}

// TemplateURL normalises a concrete URL into a reusable template: numeric
// path segments become {id}, long hex segments become {token}, everything
// else (brand/model slugs) is kept literal (spec §4.4.3).
func TemplateURL(rawURL string) string {
	segments := strings.Split(rawURL, "/")
	for i, seg := range segments {
		q := strings.SplitN(seg, "?", 2)
		path := q[0]
		switch {
		case numericSegment.MatchString(path):
			segments[i] = replacePrefix(seg, path, "{id}")
		case hexSegment.MatchString(path):
			segments[i] = replacePrefix(seg, path, "{token}")
		}
	}
	return strings.Join(segments, "/")
}

func replacePrefix(original, matched, placeholder string) string {
	if len(original) == len(matched) {
		return placeholder
	}
	return placeholder + original[len(matched):]
}

// ParseCandidate builds a DiscoveredAPI seed row from a network candidate, or
// returns ok=false if the body is not valid JSON (spec §4.4.1).
func ParseCandidate(oemID string, c Candidate) (models.DiscoveredAPI, bool) {
	if !gjson.ValidBytes(c.Body) {
		return models.DiscoveredAPI{}, false
	}
	return models.DiscoveredAPI{
		OEMID:           oemID,
		URL:             TemplateURL(c.URL),
		Method:          c.Method,
		RequiredHeaders: c.Headers,
		DataType:        ClassifyShape(c.Body),
		Status:          models.APIStatusActive,
	}, true
}
