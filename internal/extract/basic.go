package extract

import (
	"strings"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
)

// Heading is one h1-h6 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is one anchor with an href.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Image is one img with a src.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// ExtractBasic builds the fallback record used when nothing else produced
// data: title, meta description, headings, links and images in document
// order.
func ExtractBasic(doc *dom.Node) map[string]any {
	data := make(map[string]any)
	headings := []Heading{}
	links := []Link{}
	images := []Image{}
	var title, description *string

	dom.Walk(doc, func(n *dom.Node) bool {
		if n.Type != dom.ElementNode {
			return true
		}
		switch name := strings.ToLower(n.Name); name {
		case "title":
			if title == nil {
				t := strings.TrimSpace(dom.TextContent(n))
				title = &t
			}
		case "meta":
			if description == nil && strings.EqualFold(n.AttrOr("name", ""), "description") {
				if c, ok := n.Attr("content"); ok {
					description = &c
				}
			}
		case "h1", "h2", "h3", "h4", "h5", "h6":
			headings = append(headings, Heading{
				Level: int(name[1] - '0'),
				Text:  strings.TrimSpace(dom.TextContent(n)),
			})
		case "a":
			if href, ok := n.Attr("href"); ok {
				links = append(links, Link{URL: href, Text: strings.TrimSpace(dom.TextContent(n))})
			}
		case "img":
			if src, ok := n.Attr("src"); ok {
				images = append(images, Image{Src: src, Alt: n.AttrOr("alt", "")})
			}
		}
		return true
	})

	if title != nil {
		data["title"] = *title
	}
	if description != nil {
		data["description"] = *description
	}
	data["headings"] = headings
	data["links"] = links
	data["images"] = images
	return data
}
