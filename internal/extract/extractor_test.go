package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
)

func parse(t *testing.T, markup string) *dom.Node {
	t.Helper()
	doc, _ := dom.Parse(markup)
	return doc
}

func TestExtractRequiredFieldMissing(t *testing.T) {
	t.Parallel()

	e := New(nil)
	require.NoError(t, e.AddSchema(Schema{
		Name:  "single",
		Rules: []Rule{{Name: "sku", Selector: ".sku", Required: true}},
	}))

	res, err := e.Extract(parse(t, `<div>nothing here</div>`), "single", Options{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "sku", res.Errors[0].Rule)
	require.Contains(t, res.Errors[0].Message, `required field "sku" not found`)
	require.Empty(t, res.Data)
	require.Equal(t, 1, res.Metadata.FailedRules)
	require.Zero(t, res.Metadata.SuccessfulRules)
}

func TestExtractOptionalDefaultsAndSkipMissing(t *testing.T) {
	t.Parallel()

	e := New(nil)
	s := Schema{
		Name: "defaults",
		Rules: []Rule{
			{Name: "color", Selector: ".color", Default: "black"},
			{Name: "size", Selector: ".size", Required: true, Default: "M"},
		},
	}
	res, err := e.ExtractSchema(parse(t, `<p>x</p>`), s, Options{SkipMissing: true})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 2)
	require.Equal(t, map[string]any{"color": "black", "size": "M"}, res.Data)
}

func TestExtractStrictMode(t *testing.T) {
	t.Parallel()

	e := New(nil)
	s := Schema{
		Name: "strict",
		Rules: []Rule{
			{Name: "a", Selector: ".a", Required: true},
			{Name: "b", Selector: ".b"},
			{Name: "n", Selector: ".n", Validation: &Validation{Type: TypeNumber}},
		},
	}
	res, err := e.ExtractSchema(parse(t, `<span class="b">ok</span><span class="n">abc</span>`), s, Options{Strict: true})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStrictValidation))

	var strict *StrictError
	require.True(t, errors.As(err, &strict))
	require.Len(t, strict.Errors, 2)
	require.Equal(t, "ok", res.Data["b"])
	require.Equal(t, 3, res.Metadata.TotalRules)
}

func TestExtractUnknownSchema(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Extract(parse(t, `<p/>`), "missing", Options{})
	require.True(t, errors.Is(err, ErrSchemaNotFound))
}

func TestExtractMultipleAttributeAndXPath(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<ul><li data-v="1">a</li><li>b</li><li data-v="3">c</li></ul>`)
	s := Schema{
		Name: "multi",
		Rules: []Rule{
			{Name: "vals", Selector: "li", Attribute: "data-v", Multiple: true, Validation: &Validation{Type: TypeNumber}},
			{Name: "last", Selector: "//ul/li[last()]", SelectorType: XPath},
			{Name: "none", Selector: "li", Attribute: "missing", Multiple: true},
		},
	}
	res, err := New(nil).ExtractSchema(doc, s, Options{})
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 3.0}, res.Data["vals"])
	require.Equal(t, "c", res.Data["last"])
	require.NotContains(t, res.Data, "none")
	require.Len(t, res.Warnings, 1)
}

func TestExtractTransformsAndPostProcess(t *testing.T) {
	t.Parallel()

	s := Schema{
		Name: "xf",
		Rules: []Rule{
			{Name: "first", Selector: ".first"},
			{Name: "last", Selector: ".last"},
			{Name: "boom", Selector: ".first", Transform: func(string, *dom.Node) (any, error) {
				panic("bad transform")
			}},
		},
		GlobalTransforms: []FieldTransform{
			{Field: "first", Transform: func(v any, data map[string]any) (any, error) {
				return v.(string) + " " + data["last"].(string), nil
			}},
			{Field: "last", Transform: func(any, map[string]any) (any, error) {
				return nil, errors.New("nope")
			}},
			{Field: "absent", Transform: func(any, map[string]any) (any, error) {
				panic("never called")
			}},
		},
		PostProcess: func(data map[string]any) (map[string]any, error) {
			data["full"] = true
			return data, nil
		},
	}
	res, err := New(nil).ExtractSchema(parse(t, `<b class="first">Ada</b><b class="last">Lovelace</b>`), s, Options{})
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", res.Data["first"])
	require.Equal(t, "Lovelace", res.Data["last"])
	require.Equal(t, true, res.Data["full"])
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Message, "panic: bad transform")
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0].Message, "global transform failed")
}

func TestPostProcessFailureIsWarning(t *testing.T) {
	t.Parallel()

	s := Schema{
		Name:  "pp",
		Rules: []Rule{{Name: "v", Selector: "p"}},
		PostProcess: func(map[string]any) (map[string]any, error) {
			return nil, errors.New("broken")
		},
	}
	res, err := New(nil).ExtractSchema(parse(t, `<p>kept</p>`), s, Options{Strict: true})
	require.NoError(t, err)
	require.Equal(t, "kept", res.Data["v"])
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "postProcessing", res.Warnings[0].Rule)
}

func TestBuiltinProduct(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div class="product">
  <h1 class="product-title">Widget</h1>
  <span class="price">$19.99</span>
  <p class="description">A fine widget.</p>
  <div class="gallery"><img src="https://cdn.example.com/a.png"><img src="https://cdn.example.com/b.png"></div>
  <span class="availability">in stock</span>
</div>`)
	res, err := New(nil).Extract(doc, "product", Options{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, "Widget", res.Data["title"])
	require.Equal(t, "19.99", res.Data["price"])
	require.Equal(t, "A fine widget.", res.Data["description"])
	require.Equal(t, []any{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"}, res.Data["images"])
	require.Equal(t, "in stock", res.Data["availability"])
	require.Equal(t, 5, res.Metadata.SuccessfulRules)
}

func TestBuiltinArticle(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<article><h1 class="headline">Big News</h1>
<span class="byline">Jo Writer</span>
<time datetime="2024-03-01T10:00:00Z">March 1</time>
<main><p>Para one.</p><p>Para two.</p></main>
<div class="tags"><a href="/t/go">go</a><a href="/t/web">web</a></div></article>`)
	res, err := New(nil).Extract(doc, "article", Options{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, "Big News", res.Data["headline"])
	require.Equal(t, []any{"Para one.", "Para two."}, res.Data["content"])
	require.Equal(t, "Jo Writer", res.Data["author"])
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), res.Data["publishDate"].(time.Time).UTC())
	require.Equal(t, []any{"go", "web"}, res.Data["tags"])
}

func TestBuiltinContact(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div class="vcard"><h2 class="name">Grace</h2>
<a href="mailto:grace@example.com">Email me</a>
<a href="tel:+15551234567">Call</a>
<p class="address">1 Main St</p></div>`)
	res, err := New(nil).Extract(doc, "contact", Options{})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, "Grace", res.Data["name"])
	require.Equal(t, "grace@example.com", res.Data["email"])
	require.Equal(t, "+15551234567", res.Data["phone"])
	require.Equal(t, "1 Main St", res.Data["address"])
}

func TestAutoDetectSchema(t *testing.T) {
	t.Parallel()

	e := New(nil)
	tests := []struct {
		name   string
		markup string
		want   []string
	}{
		{name: "product", markup: `<div><button class="add-to-cart">Buy</button></div>`, want: []string{"product"}},
		{name: "article and contact", markup: `<article><a href="mailto:x@y.z">x</a></article>`, want: []string{"article", "contact"}},
		{name: "none", markup: `<div>plain</div>`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, e.AutoDetectSchema(parse(t, tt.markup)))
		})
	}
}

func TestSchemaRegistry(t *testing.T) {
	t.Parallel()

	e := New(nil)
	require.Equal(t, []string{"article", "contact", "product"}, e.ListSchemas())
	require.Error(t, e.AddSchema(Schema{}))
	require.NoError(t, e.AddSchema(Schema{Name: "blog", Indicators: []string{".blog"}}))
	s, ok := e.Schema("blog")
	require.True(t, ok)
	require.Equal(t, "blog", s.Name)
	require.Equal(t, []string{"article", "blog", "contact", "product"}, e.ListSchemas())
	require.Equal(t, []string{"blog"}, e.AutoDetectSchema(parse(t, `<div class="blog"></div>`)))
}

func TestExtractBasic(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><head><title> Home </title><meta name="description" content="Site"></head>
<body><h2>Sub</h2><h1>Top</h1><a href="/a">A</a><a>no href</a><img src="i.png" alt="pic"></body></html>`)
	data := ExtractBasic(doc)
	require.Equal(t, "Home", data["title"])
	require.Equal(t, "Site", data["description"])
	require.Equal(t, []Heading{{Level: 2, Text: "Sub"}, {Level: 1, Text: "Top"}}, data["headings"])
	require.Equal(t, []Link{{URL: "/a", Text: "A"}}, data["links"])
	require.Equal(t, []Image{{Src: "i.png", Alt: "pic"}}, data["images"])
}
