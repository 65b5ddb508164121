package selector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xpath"
)

var (
	xpAttrEquals   = regexp.MustCompile(`^@([-\w:.]+)\s*=\s*(?:'([^']*)'|"([^"]*)")$`)
	xpAttrPresent  = regexp.MustCompile(`^@([-\w:.]+)$`)
	xpAttrContains = regexp.MustCompile(`^contains\(\s*@([-\w:.]+)\s*,\s*(?:'([^']*)'|"([^"]*)")\s*\)$`)
	xpStartsWith   = regexp.MustCompile(`^starts-with\(\s*@([-\w:.]+)\s*,\s*(?:'([^']*)'|"([^"]*)")\s*\)$`)
	xpPosition     = regexp.MustCompile(`^position\(\)\s*=\s*(\d+)$`)
	xpIndex        = regexp.MustCompile(`^(\d+)$`)
	xpNodeTest     = regexp.MustCompile(`^(\*|[a-zA-Z][a-zA-Z0-9-]*)$`)
)

type xpathStep struct {
	descendant bool
	body       string
}

// XPathToCSS rewrites a location path from the supported XPath subset into an
// equivalent CSS selector. The expression must first compile as XPath.
//
// Supported: "//" and "/" steps, name or "*" node tests, and the predicates
// [@a='v'], [@a], [contains(@a,'v')], [starts-with(@a,'v')],
// [position()=n], [n] and [last()]. A trailing /text() is ignored.
func XPathToCSS(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("%w: empty xpath", ErrInvalidSelector)
	}
	if _, err := xpath.Compile(expr); err != nil {
		return "", fmt.Errorf("%w: xpath %q: %v", ErrInvalidSelector, expr, err)
	}
	expr = strings.TrimSuffix(expr, "/text()")

	steps, err := splitSteps(expr)
	if err != nil {
		return "", fmt.Errorf("%w: xpath %q: %v", ErrInvalidSelector, expr, err)
	}

	var b strings.Builder
	for i, st := range steps {
		css, err := convertStep(st.body)
		if err != nil {
			return "", fmt.Errorf("%w: xpath %q: %v", ErrInvalidSelector, expr, err)
		}
		switch {
		case i == 0 && !st.descendant && st.body != "":
			b.WriteString("> ")
		case i > 0 && st.descendant:
			b.WriteByte(' ')
		case i > 0:
			b.WriteString(" > ")
		}
		b.WriteString(css)
	}
	return b.String(), nil
}

// splitSteps breaks a path on '/' outside predicates. A relative path gets a
// leading descendant step.
func splitSteps(expr string) ([]xpathStep, error) {
	var steps []xpathStep
	depth := 0
	var quote byte
	cur := xpathStep{descendant: true}
	start := 0
	flush := func(end int) {
		cur.body = strings.TrimSpace(expr[start:end])
		steps = append(steps, cur)
	}

	i := 0
	if strings.HasPrefix(expr, "//") {
		i, start = 2, 2
	} else if strings.HasPrefix(expr, "/") {
		cur.descendant = false
		i, start = 1, 1
	}
	for ; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '/' && depth == 0:
			flush(i)
			cur = xpathStep{}
			if i+1 < len(expr) && expr[i+1] == '/' {
				cur.descendant = true
				i++
			}
			start = i + 1
		}
	}
	flush(len(expr))
	for _, st := range steps {
		if st.body == "" {
			return nil, errors.New("empty location step")
		}
	}
	return steps, nil
}

func convertStep(body string) (string, error) {
	name := body
	var preds []string
	if idx := strings.IndexByte(body, '['); idx >= 0 {
		name = strings.TrimSpace(body[:idx])
		rest := body[idx:]
		for rest != "" {
			end := closingIndex(rest, 0, '[', ']')
			if rest[0] != '[' || end < 0 {
				return "", fmt.Errorf("malformed predicate in %q", body)
			}
			preds = append(preds, strings.TrimSpace(rest[1:end]))
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	if !xpNodeTest.MatchString(name) {
		return "", fmt.Errorf("unsupported node test %q", name)
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(name))
	for _, p := range preds {
		css, err := convertPredicate(p)
		if err != nil {
			return "", err
		}
		b.WriteString(css)
	}
	return b.String(), nil
}

func convertPredicate(p string) (string, error) {
	if m := xpAttrEquals.FindStringSubmatch(p); m != nil {
		return "[" + m[1] + "=" + quoteValue(m[2]+m[3]) + "]", nil
	}
	if m := xpAttrPresent.FindStringSubmatch(p); m != nil {
		return "[" + m[1] + "]", nil
	}
	if m := xpAttrContains.FindStringSubmatch(p); m != nil {
		return "[" + m[1] + "*=" + quoteValue(m[2]+m[3]) + "]", nil
	}
	if m := xpStartsWith.FindStringSubmatch(p); m != nil {
		return "[" + m[1] + "^=" + quoteValue(m[2]+m[3]) + "]", nil
	}
	if m := xpPosition.FindStringSubmatch(p); m != nil {
		return ":nth-child(" + m[1] + ")", nil
	}
	if m := xpIndex.FindStringSubmatch(p); m != nil {
		return ":nth-of-type(" + m[1] + ")", nil
	}
	if p == "last()" {
		return ":last-child", nil
	}
	return "", fmt.Errorf("unsupported predicate [%s]", p)
}

func quoteValue(v string) string {
	if strings.Contains(v, `"`) {
		return "'" + v + "'"
	}
	return `"` + v + `"`
}
