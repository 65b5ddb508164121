// Package dom holds the document tree built by the markup parser and the
// read-only helpers used to walk it.
package dom

import "strings"

// NodeType distinguishes the kinds of nodes in a document tree.
type NodeType int

// Supported node kinds.
const (
	DocumentNode NodeType = iota
	ElementNode
	TextNode
	CommentNode
)

func (t NodeType) String() string {
	switch t {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	default:
		return "unknown"
	}
}

// Attr is a single element attribute. Attributes keep their source order.
type Attr struct {
	Name  string
	Value string
}

// Node is one vertex of a parsed document. Children are owned top-down; the
// parent pointer is a back-reference only and is never used for teardown.
type Node struct {
	Type     NodeType
	Name     string
	Attrs    []Attr
	Children []*Node
	// Data carries the text of text and comment nodes.
	Data string

	parent *Node
}

// NewDocument returns an empty document root.
func NewDocument() *Node {
	return &Node{Type: DocumentNode, Name: "#document"}
}

// Parent returns the enclosing node, or nil for the root.
func (n *Node) Parent() *Node {
	if n == nil {
		return nil
	}
	return n.parent
}

// AppendChild attaches child as the last child of n.
func (n *Node) AppendChild(child *Node) {
	child.parent = n
	n.Children = append(n.Children, child)
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or fallback when absent.
func (n *Node) AttrOr(name, fallback string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return fallback
}

// HasAttr reports whether the attribute is present.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// IsElement reports whether n is an element node.
func (n *Node) IsElement() bool {
	return n != nil && n.Type == ElementNode
}

// Classes splits the class attribute on whitespace.
func (n *Node) Classes() []string {
	v, ok := n.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// HasClass reports whether the class attribute contains name.
func (n *Node) HasClass(name string) bool {
	for _, c := range n.Classes() {
		if c == name {
			return true
		}
	}
	return false
}

func (n *Node) setAttr(name, value string) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}
