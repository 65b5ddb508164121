package dom

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWellFormedTextContent(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<html><body><h1>Title</h1><p>Hello <b>big</b> world</p></body></html>`)
	require.Empty(t, errs)
	require.Equal(t, DocumentNode, doc.Type)
	require.Nil(t, doc.Parent())

	var texts []string
	Walk(doc, func(n *Node) bool {
		if n.Type == TextNode {
			texts = append(texts, n.Data)
		}
		return true
	})
	require.Equal(t, strings.Join(texts, ""), TextContent(doc))
	require.Equal(t, "TitleHellobigworld", TextContent(doc))
}

func TestParseRecoversFromMissingCloseTag(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<div><span>text</div>`)
	require.NotEmpty(t, errs)

	divs := GetElementsByTagName(doc, "div")
	require.Len(t, divs, 1)
	require.Equal(t, "text", TextContent(divs[0]))
	require.Contains(t, errs[0], "implicitly closed")
}

func TestParseUnmatchedAndUnclosed(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<p>one</em><div>two`)
	require.Len(t, errs, 3)
	require.Contains(t, errs[0], "unmatched closing tag </em>")
	require.Contains(t, errs[1], "unclosed element <div>")
	require.Contains(t, errs[2], "unclosed element <p>")

	ps := GetElementsByTagName(doc, "p")
	require.Len(t, ps, 1)
	require.Equal(t, "onetwo", TextContent(ps[0]))
}

func TestParseAttributes(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<a HREF="/x?a=1&amp;b=2" data-id=42 disabled title='q "x"' href="dup">go</a>`)
	require.Empty(t, errs)
	a := GetElementsByTagName(doc, "a")[0]

	href, ok := a.Attr("href")
	require.True(t, ok)
	require.Equal(t, "/x?a=1&b=2", href)
	require.Equal(t, "42", a.AttrOr("data-id", ""))
	require.True(t, a.HasAttr("disabled"))
	require.Equal(t, `q "x"`, a.AttrOr("title", ""))
	require.Len(t, a.Attrs, 4)
}

func TestParseEntities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "named", in: "<p>a &amp; b &lt;c&gt;</p>", want: "a & b <c>"},
		{name: "decimal", in: "<p>&#123;</p>", want: "{"},
		{name: "hex", in: "<p>&#x7B;&#X7d;</p>", want: "{}"},
		{name: "unknown kept", in: "<p>&bogus; &amp</p>", want: "&bogus; &amp"},
		{name: "bare ampersand", in: "<p>Tom & Jerry</p>", want: "Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, _ := Parse(tt.in)
			require.Equal(t, tt.want, TextContent(doc))
		})
	}
}

func TestParseVoidAndSelfClosing(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<div><img src="a.png"><br/><widget/><p>after</p></div>`)
	require.Empty(t, errs)
	div := GetElementsByTagName(doc, "div")[0]
	children := ElementChildren(div)
	require.Len(t, children, 4)
	require.Equal(t, []string{"img", "br", "widget", "p"}, []string{
		children[0].Name, children[1].Name, children[2].Name, children[3].Name,
	})
	require.Empty(t, children[0].Children)
}

func TestParseRawText(t *testing.T) {
	t.Parallel()

	markup := `<head><script type="application/ld+json">{"a": "<b>&amp;</b>"}</SCRIPT>` +
		`<title>A &amp; B</title></head>`
	doc, errs := Parse(markup)
	require.Empty(t, errs)

	script := GetElementsByTagName(doc, "script")[0]
	require.Len(t, script.Children, 1)
	require.Equal(t, `{"a": "<b>&amp;</b>"}`, script.Children[0].Data)

	title := GetElementsByTagName(doc, "title")[0]
	require.Equal(t, "A & B", TextContent(title))
}

func TestParseCommentsCDATAAndDoctype(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<!DOCTYPE html><div><!-- note --><![CDATA[raw <x>]]></div>`)
	require.Empty(t, errs)
	div := GetElementsByTagName(doc, "div")[0]
	require.Len(t, div.Children, 2)
	require.Equal(t, CommentNode, div.Children[0].Type)
	require.Equal(t, " note ", div.Children[0].Data)
	require.Equal(t, TextNode, div.Children[1].Type)
	require.Equal(t, "raw <x>", div.Children[1].Data)
	require.Equal(t, "raw <x>", TextContent(div))
}

func TestParseUnterminatedComment(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<p>x</p><!-- open`)
	require.Len(t, errs, 1)
	require.Equal(t, CommentNode, doc.Children[1].Type)
}

func TestParseCaseFolding(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<DIV Class="A"><P>x</p></div>`)
	require.Empty(t, errs)
	div := GetElementsByTagName(doc, "div")[0]
	require.Equal(t, "div", div.Name)
	require.True(t, div.HasClass("A"))

	p := NewParser(Options{PreserveCase: true})
	doc = p.Parse(`<DIV>x</DIV>`)
	require.Empty(t, p.Errors())
	require.Equal(t, "DIV", doc.Children[0].Name)
}

func TestParseWhitespace(t *testing.T) {
	t.Parallel()

	doc, _ := Parse("<p>  padded  </p>\n<p> </p>")
	ps := GetElementsByTagName(doc, "p")
	require.Equal(t, "padded", TextContent(ps[0]))
	require.Empty(t, ps[1].Children)

	p := NewParser(Options{PreserveWhitespace: true})
	doc = p.Parse("<p>  padded  </p>")
	require.Equal(t, "  padded  ", TextContent(doc))
}

func TestParseStrict(t *testing.T) {
	t.Parallel()

	p := NewParser(Options{})
	_, err := p.ParseStrict(`<ul><li>a</ul>`)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))

	doc, err := p.ParseStrict(`<ul><li>a</li></ul>`)
	require.NoError(t, err)
	require.Equal(t, "a", TextContent(doc))
}

func TestParseStrayLessThan(t *testing.T) {
	t.Parallel()

	doc, errs := Parse(`<p>1 < 2</p>`)
	require.Len(t, errs, 1)
	require.Equal(t, "1 < 2", TextContent(doc))
}

func TestRender(t *testing.T) {
	t.Parallel()

	markup := `<div id="x" class="a b"><p>one &amp; two</p><br><script>if (a < b) {}</script><!--c--></div>`
	doc, errs := Parse(markup)
	require.Empty(t, errs)
	require.Equal(t, markup, Render(doc))

	div := GetElementByID(doc, "x")
	require.Equal(t, `<p>one &amp; two</p><br><script>if (a < b) {}</script><!--c-->`, InnerHTML(div))
}
