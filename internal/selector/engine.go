// Package selector evaluates CSS selectors, and a small XPath subset mapped
// onto them, against trees produced by the dom package.
package selector

import (
	"errors"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
)

// ErrInvalidSelector is wrapped by every query syntax error.
var ErrInvalidSelector = errors.New("invalid selector")

type cacheKey struct {
	root  *dom.Node
	query string
}

// Engine selects nodes and memoizes results per (root, query), grouped by
// the document the root belongs to. Trees are treated as immutable once
// parsed; call ClearCache if one is mutated. Memoized results keep their
// document reachable until Forget or ClearCache drops them. An Engine is safe
// for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	cache map[*dom.Node]map[cacheKey][]*dom.Node
}

// New returns an Engine with an empty cache.
func New() *Engine {
	return &Engine{cache: make(map[*dom.Node]map[cacheKey][]*dom.Node)}
}

// Select returns the elements under root matching query in first-seen order
// without duplicates.
func (e *Engine) Select(root *dom.Node, query string) ([]*dom.Node, error) {
	doc := documentOf(root)
	key := cacheKey{root: root, query: query}
	e.mu.RLock()
	cached, ok := e.cache[doc][key]
	e.mu.RUnlock()
	if ok {
		return append([]*dom.Node(nil), cached...), nil
	}

	group, err := Parse(query)
	if err != nil {
		return nil, err
	}
	nodes := selectGroup(root, group)

	e.mu.Lock()
	entries, ok := e.cache[doc]
	if !ok {
		entries = make(map[cacheKey][]*dom.Node)
		e.cache[doc] = entries
	}
	entries[key] = nodes
	e.mu.Unlock()
	return append([]*dom.Node(nil), nodes...), nil
}

// Forget drops every memoized result for the document containing node.
func (e *Engine) Forget(node *dom.Node) {
	doc := documentOf(node)
	e.mu.Lock()
	delete(e.cache, doc)
	e.mu.Unlock()
}

func documentOf(n *dom.Node) *dom.Node {
	for n != nil && n.Parent() != nil {
		n = n.Parent()
	}
	return n
}

// SelectOne returns the first match or nil.
func (e *Engine) SelectOne(root *dom.Node, query string) (*dom.Node, error) {
	nodes, err := e.Select(root, query)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// Matches reports whether node satisfies query, evaluating from the node
// outward through its ancestors and siblings.
func (e *Engine) Matches(node *dom.Node, query string) (bool, error) {
	group, err := Parse(query)
	if err != nil {
		return false, err
	}
	return matchGroup(node, group), nil
}

// SelectXPath converts expr with XPathToCSS and selects with the result.
func (e *Engine) SelectXPath(root *dom.Node, expr string) ([]*dom.Node, error) {
	css, err := XPathToCSS(expr)
	if err != nil {
		return nil, err
	}
	return e.Select(root, css)
}

// ClearCache drops every memoized result.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[*dom.Node]map[cacheKey][]*dom.Node)
	e.mu.Unlock()
}

// CacheLen reports the number of memoized queries.
func (e *Engine) CacheLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, entries := range e.cache {
		n += len(entries)
	}
	return n
}

func selectGroup(root *dom.Node, group Group) []*dom.Node {
	var out []*dom.Node
	seen := make(map[*dom.Node]struct{})
	for _, sel := range group {
		for _, n := range selectOne(root, sel) {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

func selectOne(root *dom.Node, sel Selector) []*dom.Node {
	context := []*dom.Node{root}
	for _, comp := range sel.compounds {
		var next []*dom.Node
		seen := make(map[*dom.Node]struct{})
		for _, ctx := range context {
			for _, cand := range candidates(ctx, comp.comb) {
				if _, dup := seen[cand]; dup {
					continue
				}
				if matchCompound(cand, comp) {
					seen[cand] = struct{}{}
					next = append(next, cand)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		context = next
	}
	return context
}

// candidates resolves a combinator from ctx to the element nodes it reaches.
func candidates(ctx *dom.Node, comb byte) []*dom.Node {
	switch comb {
	case Child:
		return dom.ElementChildren(ctx)
	case Adjacent:
		if next := dom.NextElementSibling(ctx); next != nil {
			return []*dom.Node{next}
		}
		return nil
	case GeneralSibling:
		var out []*dom.Node
		for s := dom.NextElementSibling(ctx); s != nil; s = dom.NextElementSibling(s) {
			out = append(out, s)
		}
		return out
	default:
		return dom.Descendants(ctx)
	}
}

func matchGroup(node *dom.Node, group Group) bool {
	if !node.IsElement() {
		return false
	}
	for _, sel := range group {
		if matchFrom(node, sel.compounds, len(sel.compounds)-1) {
			return true
		}
	}
	return false
}

// matchFrom tests compounds[:i+1] right to left, backtracking over
// ancestors and siblings for the descendant and general-sibling combinators.
func matchFrom(node *dom.Node, compounds []compound, i int) bool {
	comp := compounds[i]
	if !matchCompound(node, comp) {
		return false
	}
	if i == 0 {
		return true
	}
	switch comp.comb {
	case Child:
		parent := node.Parent()
		return parent.IsElement() && matchFrom(parent, compounds, i-1)
	case Adjacent:
		prev := dom.PreviousElementSibling(node)
		return prev != nil && matchFrom(prev, compounds, i-1)
	case GeneralSibling:
		for prev := dom.PreviousElementSibling(node); prev != nil; prev = dom.PreviousElementSibling(prev) {
			if matchFrom(prev, compounds, i-1) {
				return true
			}
		}
		return false
	default:
		for anc := node.Parent(); anc.IsElement(); anc = anc.Parent() {
			if matchFrom(anc, compounds, i-1) {
				return true
			}
		}
		return false
	}
}

func matchCompound(node *dom.Node, comp compound) bool {
	if !node.IsElement() {
		return false
	}
	for _, tok := range comp.simple {
		if !matchToken(node, tok) {
			return false
		}
	}
	return true
}

func matchToken(node *dom.Node, tok Token) bool {
	switch tok.Kind {
	case UniversalToken:
		return true
	case TagToken:
		return strings.EqualFold(node.Name, tok.Value)
	case IDToken:
		id, ok := node.Attr("id")
		return ok && id == tok.Value
	case ClassToken:
		return node.HasClass(tok.Value)
	case AttributeToken:
		return matchAttribute(node, tok)
	case PseudoToken:
		return matchPseudo(node, tok)
	default:
		return false
	}
}

func matchAttribute(node *dom.Node, tok Token) bool {
	v, ok := node.Attr(tok.Value)
	if !ok {
		return false
	}
	want := tok.Argument
	switch tok.Operator {
	case "":
		return true
	case "=":
		return v == want
	case "~=":
		for _, f := range strings.Fields(v) {
			if f == want {
				return true
			}
		}
		return false
	case "|=":
		return v == want || strings.HasPrefix(v, want+"-")
	case "^=":
		return want != "" && strings.HasPrefix(v, want)
	case "$=":
		return want != "" && strings.HasSuffix(v, want)
	case "*=":
		return want != "" && strings.Contains(v, want)
	default:
		return false
	}
}

func matchPseudo(node *dom.Node, tok Token) bool {
	if tok.PseudoElement {
		return false
	}
	switch tok.Value {
	case "empty":
		return len(node.Children) == 0
	case "not":
		return !matchGroup(node, tok.not)
	case "root":
		parent := node.Parent()
		return parent != nil && parent.Type == dom.DocumentNode
	}

	parent := node.Parent()
	if parent == nil {
		return false
	}
	idx, siblings := dom.ElementIndex(node)
	if idx < 0 {
		return false
	}
	switch tok.Value {
	case "first-child":
		return idx == 0
	case "last-child":
		return idx == len(siblings)-1
	case "only-child":
		return len(siblings) == 1
	case "nth-child":
		return matchesNth(idx+1, tok.nthA, tok.nthB)
	case "nth-last-child":
		return matchesNth(len(siblings)-idx, tok.nthA, tok.nthB)
	}

	typed, pos := sameType(node, siblings)
	switch tok.Value {
	case "first-of-type":
		return pos == 0
	case "last-of-type":
		return pos == len(typed)-1
	case "only-of-type":
		return len(typed) == 1
	case "nth-of-type":
		return matchesNth(pos+1, tok.nthA, tok.nthB)
	case "nth-last-of-type":
		return matchesNth(len(typed)-pos, tok.nthA, tok.nthB)
	default:
		return false
	}
}

func sameType(node *dom.Node, siblings []*dom.Node) ([]*dom.Node, int) {
	var typed []*dom.Node
	pos := -1
	for _, s := range siblings {
		if !strings.EqualFold(s.Name, node.Name) {
			continue
		}
		if s == node {
			pos = len(typed)
		}
		typed = append(typed, s)
	}
	return typed, pos
}
