package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
	"github.com/JakeFAU/realtime-scraper/internal/selector"
)

// Extractor applies registered schemas to documents. It is safe for
// concurrent use.
type Extractor struct {
	sel *selector.Engine
	now func() time.Time

	mu      sync.RWMutex
	schemas map[string]Schema
	order   []string
}

// New returns an Extractor with the built-in schemas registered. A nil engine
// gets a private one.
func New(engine *selector.Engine) *Extractor {
	if engine == nil {
		engine = selector.New()
	}
	e := &Extractor{
		sel:     engine,
		now:     func() time.Time { return time.Now().UTC() },
		schemas: make(map[string]Schema),
	}
	for _, s := range BuiltinSchemas() {
		_ = e.AddSchema(s)
	}
	return e
}

// AddSchema registers s, replacing any schema with the same name.
func (e *Extractor) AddSchema(s Schema) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("schema name must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.schemas[s.Name]; !exists {
		e.order = append(e.order, s.Name)
	}
	e.schemas[s.Name] = s
	return nil
}

// Schema looks up a registered schema.
func (e *Extractor) Schema(name string) (Schema, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.schemas[name]
	return s, ok
}

// ListSchemas returns the registered names sorted.
func (e *Extractor) ListSchemas() []string {
	e.mu.RLock()
	names := append([]string(nil), e.order...)
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Extract applies the named schema to doc.
func (e *Extractor) Extract(doc *dom.Node, schemaName string, opts Options) (Result, error) {
	s, ok := e.Schema(schemaName)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrSchemaNotFound, schemaName)
	}
	return e.ExtractSchema(doc, s, opts)
}

// ExtractSchema applies s to doc without registering it. Rule failures are
// recorded on the result; the error is non-nil only in strict mode.
func (e *Extractor) ExtractSchema(doc *dom.Node, s Schema, opts Options) (Result, error) {
	res := Result{
		Data: make(map[string]any),
		Metadata: Metadata{
			ExtractedAt: e.now(),
			SchemaName:  s.Name,
			TotalRules:  len(s.Rules),
		},
	}

	for _, rule := range s.Rules {
		value, found, err := e.runRule(doc, rule)
		switch {
		case err != nil:
			res.Metadata.FailedRules++
			res.Errors = append(res.Errors, Issue{
				Rule:    rule.Name,
				Message: fmt.Sprintf("error extracting %q: %v", rule.Name, err),
			})
		case found:
			res.Data[rule.Name] = value
			res.Metadata.SuccessfulRules++
		default:
			res.Metadata.FailedRules++
			if rule.Required && !opts.SkipMissing {
				res.Errors = append(res.Errors, Issue{
					Rule:    rule.Name,
					Message: fmt.Sprintf("required field %q not found", rule.Name),
					Value:   value,
				})
				continue
			}
			if rule.Default != nil {
				res.Data[rule.Name] = rule.Default
			}
			res.Warnings = append(res.Warnings, Issue{
				Rule:    rule.Name,
				Message: fmt.Sprintf("field %q not found", rule.Name),
				Value:   value,
			})
		}
	}

	for _, ft := range s.GlobalTransforms {
		current, ok := res.Data[ft.Field]
		if !ok {
			continue
		}
		next, err := callFieldTransform(ft, current, res.Data)
		if err != nil {
			res.Warnings = append(res.Warnings, Issue{
				Rule:    ft.Field,
				Message: fmt.Sprintf("global transform failed: %v", err),
			})
			continue
		}
		res.Data[ft.Field] = next
	}

	if s.PostProcess != nil {
		data, err := callPostProcess(s.PostProcess, res.Data)
		if err != nil {
			res.Warnings = append(res.Warnings, Issue{
				Rule:    "postProcessing",
				Message: fmt.Sprintf("post-processing failed: %v", err),
			})
		} else if data != nil {
			res.Data = data
		}
	}

	if opts.Strict && len(res.Errors) > 0 {
		return res, &StrictError{Errors: append([]Issue(nil), res.Errors...)}
	}
	return res, nil
}

// AutoDetectSchema returns, in registration order, the schemas whose
// indicator selectors match anything in doc.
func (e *Extractor) AutoDetectSchema(doc *dom.Node) []string {
	e.mu.RLock()
	candidates := make([]Schema, 0, len(e.order))
	for _, name := range e.order {
		candidates = append(candidates, e.schemas[name])
	}
	e.mu.RUnlock()

	var detected []string
	for _, s := range candidates {
		for _, ind := range s.Indicators {
			if n, err := e.sel.SelectOne(doc, ind); err == nil && n != nil {
				detected = append(detected, s.Name)
				break
			}
		}
	}
	return detected
}

// runRule selects the rule's nodes and extracts from the first one, or from
// every one when Multiple is set. found is false when nothing usable matched.
func (e *Extractor) runRule(doc *dom.Node, rule Rule) (value any, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, found, err = nil, false, fmt.Errorf("panic: %v", r)
		}
	}()

	nodes, err := e.selectNodes(doc, rule)
	if err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	if !rule.Multiple {
		return extractValue(nodes[0], rule)
	}
	values := make([]any, 0, len(nodes))
	for _, n := range nodes {
		v, ok, err := extractValue(n, rule)
		if err != nil {
			return nil, false, err
		}
		if ok {
			values = append(values, v)
		}
	}
	return values, len(values) > 0, nil
}

func (e *Extractor) selectNodes(doc *dom.Node, rule Rule) ([]*dom.Node, error) {
	if rule.SelectorType == XPath {
		return e.sel.SelectXPath(doc, rule.Selector)
	}
	return e.sel.Select(doc, rule.Selector)
}

func extractValue(n *dom.Node, rule Rule) (any, bool, error) {
	var raw string
	if rule.Attribute != "" {
		v, ok := n.Attr(rule.Attribute)
		if !ok {
			return nil, false, nil
		}
		raw = v
	} else {
		raw = strings.TrimSpace(dom.TextContent(n))
	}

	var value any = raw
	if rule.Transform != nil {
		v, err := rule.Transform(raw, n)
		if err != nil {
			return nil, false, fmt.Errorf("transform: %w", err)
		}
		if v == nil {
			return nil, false, nil
		}
		value = v
	}

	if rule.Validation != nil {
		coerced, err := Validate(value, rule.Validation)
		if err != nil {
			return nil, false, err
		}
		value = coerced
	}
	return value, true, nil
}

func callFieldTransform(ft FieldTransform, value any, data map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ft.Transform(value, data)
}

func callPostProcess(fn func(map[string]any) (map[string]any, error), data map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(data)
}
