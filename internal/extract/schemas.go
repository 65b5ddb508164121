package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
)

var (
	nonPriceChars = regexp.MustCompile(`[^\d.,]`)
	pricePattern  = regexp.MustCompile(`^\d+(?:\.\d{2})?$`)
)

// BuiltinSchemas returns fresh copies of the product, article and contact
// schemas in that order.
func BuiltinSchemas() []Schema {
	return []Schema{productSchema(), articleSchema(), contactSchema()}
}

func productSchema() Schema {
	return Schema{
		Name:        "product",
		Description: "E-commerce product data",
		Indicators: []string{
			".product", ".item", `[data-testid*="product"]`,
			".price", ".buy-button", ".add-to-cart",
		},
		Rules: []Rule{
			{
				Name:       "title",
				Selector:   `h1, .product-title, [data-testid*="title"]`,
				Required:   true,
				Validation: &Validation{Type: TypeString, Min: Float(1)},
			},
			{
				Name:     "price",
				Selector: `.price, .product-price, [data-testid*="price"]`,
				Transform: func(value string, _ *dom.Node) (any, error) {
					return nonPriceChars.ReplaceAllString(value, ""), nil
				},
				Validation: &Validation{Type: TypeString, Pattern: pricePattern},
			},
			{
				Name:       "description",
				Selector:   `.description, .product-description, [data-testid*="description"]`,
				Validation: &Validation{Type: TypeString},
			},
			{
				Name:       "images",
				Selector:   ".product-image img, .gallery img",
				Attribute:  "src",
				Multiple:   true,
				Validation: &Validation{Type: TypeURL},
			},
			{
				Name:     "availability",
				Selector: ".availability, .stock-status",
				Validation: &Validation{
					Enum: []any{"in stock", "out of stock", "available", "unavailable"},
				},
			},
		},
	}
}

func articleSchema() Schema {
	return Schema{
		Name:        "article",
		Description: "News article or blog post",
		Indicators: []string{
			"article", ".article", ".post", ".blog-post",
			".headline", ".byline", ".publish-date",
		},
		Rules: []Rule{
			{
				Name:       "headline",
				Selector:   "h1, .headline, .article-title",
				Required:   true,
				Validation: &Validation{Type: TypeString, Min: Float(1)},
			},
			{
				Name:     "content",
				Selector: ".article-content, .post-content, main p",
				Multiple: true,
				Transform: func(value string, _ *dom.Node) (any, error) {
					return strings.TrimSpace(value), nil
				},
				Validation: &Validation{Type: TypeString},
			},
			{
				Name:       "author",
				Selector:   `.author, .byline, [rel="author"]`,
				Validation: &Validation{Type: TypeString},
			},
			{
				Name:       "publishDate",
				Selector:   ".publish-date, .date, time",
				Attribute:  "datetime",
				Validation: &Validation{Type: TypeDate},
			},
			{
				Name:       "tags",
				Selector:   ".tags a, .categories a",
				Multiple:   true,
				Validation: &Validation{Type: TypeString},
			},
		},
	}
}

func contactSchema() Schema {
	return Schema{
		Name:        "contact",
		Description: "Contact information",
		Indicators: []string{
			`a[href^="mailto:"]`, `a[href^="tel:"]`,
			".contact", ".vcard", ".address",
		},
		Rules: []Rule{
			{
				Name:       "name",
				Selector:   ".name, .contact-name, h1, h2",
				Validation: &Validation{Type: TypeString},
			},
			{
				Name:       "email",
				Selector:   `a[href^="mailto:"], .email`,
				Transform:  hrefWithoutScheme("mailto:"),
				Validation: &Validation{Type: TypeEmail},
			},
			{
				Name:      "phone",
				Selector:  `a[href^="tel:"], .phone`,
				Transform: hrefWithoutScheme("tel:"),
			},
			{
				Name:       "address",
				Selector:   ".address, .location",
				Validation: &Validation{Type: TypeString},
			},
		},
	}
}

// hrefWithoutScheme prefers the element's href with scheme removed and falls
// back to the extracted text.
func hrefWithoutScheme(scheme string) TransformFunc {
	return func(value string, node *dom.Node) (any, error) {
		if href, ok := node.Attr("href"); ok && href != "" {
			return strings.Replace(href, scheme, "", 1), nil
		}
		return value, nil
	}
}
