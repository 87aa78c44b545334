package hashdiff

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	scriptOrStyle = regexp.MustCompile(`(?is)<(script|style|nav)\b[^>]*>.*?</(?:script|style|nav)>`)
)

// HashRawBody computes raw_hash: the digest of the HTTP response body bytes
// as received (after gzip decode, before any rendering) — spec §4.1.
func HashRawBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// NormaliseRenderedText extracts and normalises the DOM text of a rendered
// page for hashing: script/style/nav elements stripped, whitespace
// collapsed, elements walked in document order (spec §4.1).
func NormaliseRenderedText(renderedHTML string) string {
	// Strip obvious non-content containers up front; the tree walk below
	// additionally skips descendants of <script>/<style>/<nav> nodes so
	// this regex pass is a fast-path, not the sole defence.
	stripped := scriptOrStyle.ReplaceAllString(renderedHTML, "")

	doc, err := html.Parse(strings.NewReader(stripped))
	if err != nil {
		return collapseWhitespace(stripped)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return collapseWhitespace(sb.String())
}

// HashRenderedText computes rendered_hash over normalised DOM text.
func HashRenderedText(normalisedText string) string {
	sum := sha256.Sum256([]byte(normalisedText))
	return hex.EncodeToString(sum[:])
}

// PageChanged implements the two-level change rule: a page is changed iff
// both raw_hash and rendered_hash differ from their previous values. When
// no render was performed (cheap path only), rendered comparison is skipped
// and raw_hash alone determines change.
func PageChanged(prevRaw, newRaw, prevRendered, newRendered string) bool {
	rawChanged := prevRaw != newRaw
	if prevRendered == "" && newRendered == "" {
		return rawChanged
	}
	renderedChanged := prevRendered != newRendered
	return rawChanged && renderedChanged
}
