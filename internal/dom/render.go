package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Render serializes n and its subtree back to markup.
func Render(n *Node) string {
	var b strings.Builder
	render(&b, n)
	return b.String()
}

// InnerHTML serializes the children of n.
func InnerHTML(n *Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range n.Children {
		render(&b, c)
	}
	return b.String()
}

func render(b *strings.Builder, n *Node) {
	if n == nil {
		return
	}
	switch n.Type {
	case DocumentNode:
		for _, c := range n.Children {
			render(b, c)
		}
	case TextNode:
		if p := n.Parent(); p != nil && p.Type == ElementNode && isRawText(p.Name) {
			b.WriteString(n.Data)
			return
		}
		b.WriteString(html.EscapeString(n.Data))
	case CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->")
	case ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Name)
		for _, a := range n.Attrs {
			b.WriteByte(' ')
			b.WriteString(a.Name)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Value))
			b.WriteByte('"')
		}
		b.WriteByte('>')
		if IsVoid(n.Name) {
			return
		}
		for _, c := range n.Children {
			render(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.Name)
		b.WriteByte('>')
	}
}

func isRawText(tag string) bool {
	decode, ok := rawTextElements[strings.ToLower(tag)]
	return ok && !decode
}
