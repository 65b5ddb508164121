package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXPathToCSS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "//div", want: "div"},
		{in: "//div[@class='item']", want: `div[class="item"]`},
		{in: `//div[@id="x"]`, want: `div[id="x"]`},
		{in: "//ul/li", want: "ul > li"},
		{in: "//div//span", want: "div span"},
		{in: "//a[@href]", want: "a[href]"},
		{in: "//li[position()=2]", want: "li:nth-child(2)"},
		{in: "//li[last()]", want: "li:last-child"},
		{in: "//li[2]", want: "li:nth-of-type(2)"},
		{in: "//p/text()", want: "p"},
		{in: "/html/body", want: "> html > body"},
		{in: "//a[contains(@href,'example')]", want: `a[href*="example"]`},
		{in: "//a[starts-with(@href, 'mailto:')]", want: `a[href^="mailto:"]`},
		{in: "//a[@href='/a/b']/span", want: `a[href="/a/b"] > span`},
		{in: "//*[@data-id='1']", want: `*[data-id="1"]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := XPathToCSS(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			_, err = Parse(got)
			require.NoError(t, err)
		})
	}
}

func TestXPathToCSSRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "//div[", "//a/@href", "//p[text()='x']", "//div/following-sibling::p"} {
		_, err := XPathToCSS(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrInvalidSelector), in)
	}
}

func TestSelectXPath(t *testing.T) {
	t.Parallel()

	doc := parseFixture(t)
	nodes, err := New().SelectXPath(doc, "//ul[@class='list']/li[last()]")
	require.NoError(t, err)
	require.Equal(t, []string{"five"}, texts(nodes))

	nodes, err = New().SelectXPath(doc, "/html/body/div[2]/p")
	require.NoError(t, err)
	require.Equal(t, []string{"side"}, texts(nodes))
}
