// Package pattern parses '>'-delimited suffix fallback chains and resolves them against HTML documents.
package pattern

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/recursive-dl/pkg/models"
	"github.com/Sriram-PR/recursive-dl/pkg/utils"
)

// FallbackDelimiter separates the filters of one hop
const FallbackDelimiter = ">"

// ParsePattern splits raw on the fallback delimiter into an ordered filter chain.
// Blank pieces are dropped; the result always holds at least one filter.
func ParsePattern(raw string) models.Pattern {
	raw = strings.TrimSpace(raw)
	var filters []string
	for _, piece := range strings.Split(raw, FallbackDelimiter) {
		if piece = strings.TrimSpace(piece); piece != "" {
			filters = append(filters, piece)
		}
	}
	if len(filters) == 0 {
		filters = []string{raw}
	}
	return models.Pattern{Raw: raw, Filters: filters}
}

// ParseChain parses one pattern per hop. A blank hop is a configuration error.
func ParseChain(raws []string) (models.Chain, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("%w: at least one search pattern is required", utils.ErrConfigValidation)
	}
	chain := make(models.Chain, 0, len(raws))
	for i, raw := range raws {
		if strings.Trim(raw, " \t"+FallbackDelimiter) == "" {
			return nil, fmt.Errorf("%w: search pattern #%d is empty", utils.ErrConfigValidation, i+1)
		}
		chain = append(chain, ParsePattern(raw))
	}
	return chain, nil
}

// Suffix strips the leading wildcard from a filter: "*.mp3" -> ".mp3"
func Suffix(filter string) string {
	return strings.TrimLeft(filter, "*")
}

// Match reports whether link satisfies filter.
// The resolved path is checked first, then the raw reference, so "*.mp3" also matches "a.mp3?dl=1".
func Match(filter string, href string, resolved *url.URL) bool {
	suffix := Suffix(filter)
	if strings.HasSuffix(resolved.Path, suffix) {
		return true
	}
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	return strings.HasSuffix(href, suffix)
}

// Result is the link set produced for one hop
type Result struct {
	Links       []string // Absolute, deduplicated, in document order
	Filter      string   // Active filter, "" when nothing matched
	FilterIndex int      // Position of Filter in the pattern, -1 when nothing matched
}

// Empty reports whether no filter matched
func (r Result) Empty() bool { return len(r.Links) == 0 }

// FellBack reports whether a filter other than the primary produced the links
func (r Result) FellBack() bool { return r.FilterIndex > 0 }

// Resolve tries each filter of p in order and returns the first non-empty link set.
// Later filters are never evaluated once one matches. Unparseable hrefs are skipped.
func Resolve(doc *goquery.Document, base *url.URL, p models.Pattern) Result {
	if doc == nil || base == nil {
		return Result{FilterIndex: -1}
	}
	anchors := collectAnchors(doc, base)
	for i, filter := range p.Filters {
		if links := filterAnchors(anchors, filter); len(links) > 0 {
			return Result{Links: links, Filter: filter, FilterIndex: i}
		}
	}
	return Result{FilterIndex: -1}
}

type anchor struct {
	href     string
	resolved *url.URL
}

func collectAnchors(doc *goquery.Document, base *url.URL) []anchor {
	var anchors []anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		resolved.RawFragment = ""
		anchors = append(anchors, anchor{href: href, resolved: resolved})
	})
	return anchors
}

func filterAnchors(anchors []anchor, filter string) []string {
	seen := make(map[string]struct{})
	var links []string
	for _, a := range anchors {
		if !Match(filter, a.href, a.resolved) {
			continue
		}
		abs := a.resolved.String()
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	return links
}
