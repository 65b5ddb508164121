package dom

import (
	"strings"
)

// Walk visits n and its descendants depth-first in document order. Returning
// false from fn skips the subtree of the visited node.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Descendants returns every descendant element of n, excluding n itself.
func Descendants(n *Node) []*Node {
	var out []*Node
	for _, c := range n.Children {
		Walk(c, func(d *Node) bool {
			if d.Type == ElementNode {
				out = append(out, d)
			}
			return true
		})
	}
	return out
}

// GetElementByID returns the first element whose id attribute equals id.
func GetElementByID(root *Node, id string) *Node {
	var found *Node
	Walk(root, func(n *Node) bool {
		if found != nil {
			return false
		}
		if n.Type == ElementNode {
			if v, ok := n.Attr("id"); ok && v == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

// GetElementsByTagName returns all elements with the given (case-insensitive) tag.
func GetElementsByTagName(root *Node, tag string) []*Node {
	tag = strings.ToLower(tag)
	var out []*Node
	Walk(root, func(n *Node) bool {
		if n.Type == ElementNode && strings.ToLower(n.Name) == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}

// GetElementsByClassName returns all elements carrying the class.
func GetElementsByClassName(root *Node, class string) []*Node {
	var out []*Node
	Walk(root, func(n *Node) bool {
		if n.Type == ElementNode && n.HasClass(class) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// TextContent concatenates the data of every descendant text node in
// document order. Comments are ignored.
func TextContent(n *Node) string {
	if n == nil {
		return ""
	}
	if n.Type == TextNode {
		return n.Data
	}
	var b strings.Builder
	Walk(n, func(d *Node) bool {
		if d.Type == TextNode {
			b.WriteString(d.Data)
		}
		return true
	})
	return b.String()
}

// ElementChildren returns the element children of n.
func ElementChildren(n *Node) []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Type == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// NextSibling returns the node that follows n under the same parent.
func NextSibling(n *Node) *Node {
	p := n.Parent()
	if p == nil {
		return nil
	}
	for i, c := range p.Children {
		if c == n && i+1 < len(p.Children) {
			return p.Children[i+1]
		}
	}
	return nil
}

// PreviousSibling returns the node that precedes n under the same parent.
func PreviousSibling(n *Node) *Node {
	p := n.Parent()
	if p == nil {
		return nil
	}
	for i, c := range p.Children {
		if c == n && i > 0 {
			return p.Children[i-1]
		}
	}
	return nil
}

// NextElementSibling skips non-element siblings.
func NextElementSibling(n *Node) *Node {
	for s := NextSibling(n); s != nil; s = NextSibling(s) {
		if s.Type == ElementNode {
			return s
		}
	}
	return nil
}

// PreviousElementSibling skips non-element siblings.
func PreviousElementSibling(n *Node) *Node {
	for s := PreviousSibling(n); s != nil; s = PreviousSibling(s) {
		if s.Type == ElementNode {
			return s
		}
	}
	return nil
}

// ElementIndex returns the zero-based position of n among its parent's
// element children together with that element list.
func ElementIndex(n *Node) (int, []*Node) {
	siblings := ElementChildren(n.Parent())
	for i, s := range siblings {
		if s == n {
			return i, siblings
		}
	}
	return -1, siblings
}
