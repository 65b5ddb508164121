package extract

import (
	"encoding/json"
	"strings"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
)

// StructuredData bundles the machine-readable metadata embedded in a page.
type StructuredData struct {
	JSONLD      []map[string]any  `json:"jsonLd"`
	Microdata   []map[string]any  `json:"microdata"`
	OpenGraph   map[string]string `json:"openGraph"`
	TwitterCard map[string]string `json:"twitterCard"`
}

// ExtractStructuredData collects JSON-LD, microdata, Open Graph and Twitter
// card data.
func (e *Extractor) ExtractStructuredData(doc *dom.Node) StructuredData {
	return StructuredData{
		JSONLD:      e.ExtractJSONLD(doc),
		Microdata:   e.ExtractMicrodata(doc),
		OpenGraph:   e.ExtractOpenGraph(doc),
		TwitterCard: e.ExtractTwitterCard(doc),
	}
}

// ExtractJSONLD decodes every ld+json script. Top-level arrays are flattened
// and blocks that fail to decode are skipped.
func (e *Extractor) ExtractJSONLD(doc *dom.Node) []map[string]any {
	scripts, _ := e.sel.Select(doc, `script[type="application/ld+json"]`)
	var out []map[string]any
	for _, script := range scripts {
		if len(script.Children) == 0 || script.Children[0].Type != dom.TextNode {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(script.Children[0].Data), &decoded); err != nil {
			continue
		}
		switch v := decoded.(type) {
		case map[string]any:
			out = append(out, v)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// ExtractMicrodata builds one map per itemscope element from the itemprop
// elements beneath it.
func (e *Extractor) ExtractMicrodata(doc *dom.Node) []map[string]any {
	scopes, _ := e.sel.Select(doc, "[itemscope]")
	var out []map[string]any
	for _, scope := range scopes {
		item := make(map[string]any)
		if t, ok := scope.Attr("itemtype"); ok && t != "" {
			item["@type"] = t
		}
		props, _ := e.sel.Select(scope, "[itemprop]")
		for _, prop := range props {
			name := prop.AttrOr("itemprop", "")
			if name == "" {
				continue
			}
			if v := microdataValue(prop); v != "" {
				item[name] = v
			}
		}
		if len(item) > 0 {
			out = append(out, item)
		}
	}
	return out
}

func microdataValue(n *dom.Node) string {
	switch n.Name {
	case "meta":
		return n.AttrOr("content", "")
	case "img":
		return n.AttrOr("src", "")
	case "a":
		return n.AttrOr("href", "")
	case "time":
		return n.AttrOr("datetime", "")
	default:
		return strings.TrimSpace(dom.TextContent(n))
	}
}

// ExtractOpenGraph maps og:* meta properties, without the prefix, to their
// content.
func (e *Extractor) ExtractOpenGraph(doc *dom.Node) map[string]string {
	return e.metaMap(doc, `meta[property^="og:"]`, "property", "og:")
}

// ExtractTwitterCard maps twitter:* meta names, without the prefix, to their
// content.
func (e *Extractor) ExtractTwitterCard(doc *dom.Node) map[string]string {
	return e.metaMap(doc, `meta[name^="twitter:"]`, "name", "twitter:")
}

func (e *Extractor) metaMap(doc *dom.Node, query, keyAttr, prefix string) map[string]string {
	metas, _ := e.sel.Select(doc, query)
	out := make(map[string]string)
	for _, meta := range metas {
		key := meta.AttrOr(keyAttr, "")
		content := meta.AttrOr("content", "")
		if key == "" || content == "" {
			continue
		}
		out[strings.TrimPrefix(key, prefix)] = content
	}
	return out
}
