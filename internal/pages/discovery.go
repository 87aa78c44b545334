package pages

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/oem-crawler/internal/models"
)

// LinkPattern associates a compiled same-host link pattern with the page
// type a matching URL should be recorded as.
type LinkPattern struct {
	PageType models.PageType
	Pattern  *regexp.Regexp
}

// CompileLinkPatterns compiles an OEM's per-page-type link_patterns into
// matchers usable by DiscoverLinks. Invalid regexes are skipped rather than
// failing the whole OEM config, since a typo in one page type's patterns
// shouldn't take down link discovery for the rest.
func CompileLinkPatterns(byPageType map[models.PageType][]string) []LinkPattern {
	var out []LinkPattern
	for pt, patterns := range byPageType {
		for _, raw := range patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				continue
			}
			out = append(out, LinkPattern{PageType: pt, Pattern: re})
		}
	}
	return out
}

// DiscoverLinks extracts same-host anchor hrefs from html, resolved against
// baseURL, and classifies each by the first matching LinkPattern (spec
// §4.8: "internal same-host links matching per-OEM page_type patterns are
// added"). Links matching no pattern are ignored.
func DiscoverLinks(html, baseURL string, patterns []LinkPattern) ([]string, []models.PageType) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil
	}

	var urls []string
	var types []models.PageType
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host != base.Host {
			return
		}

		absolute := resolved.String()
		for _, lp := range patterns {
			if !lp.Pattern.MatchString(absolute) {
				continue
			}
			if seen[absolute] {
				break
			}
			seen[absolute] = true
			urls = append(urls, absolute)
			types = append(types, lp.PageType)
			break
		}
	})

	return urls, types
}
