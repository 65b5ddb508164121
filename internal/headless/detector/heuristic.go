// Package detector decides when a fetched page needs a browser render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

const defaultBodyThreshold = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// MinTextLength is the visible text below which a page with an SPA root
	// counts as unrendered.
	MinTextLength int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextLength: 200}
}

var spaRootSelectors = []string{
	"#__next",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-app]",
	"[data-server-rendered]",
}

// ShouldPromote reports whether result looks like a client-rendered shell.
func (h *Heuristic) ShouldPromote(result crawler.FetchResult) bool {
	if result.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(result.Body)
	if len(body) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(doc, len(body)) {
		return true
	}
	text := len(strings.TrimSpace(doc.Find("body").Text()))
	for _, sel := range spaRootSelectors {
		if doc.Find(sel).Length() > 0 && text < h.MinTextLength {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether inline scripts make up a quarter or more
// of the document.
func scriptDensityHigh(doc *goquery.Document, total int) bool {
	if total == 0 {
		return false
	}
	coverage := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			coverage += len(html)
		}
	})
	return coverage*100/total >= 25
}
