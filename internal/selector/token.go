package selector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TokenKind classifies one piece of a selector.
type TokenKind int

// Token kinds produced by the tokenizer.
const (
	TagToken TokenKind = iota
	IDToken
	ClassToken
	UniversalToken
	AttributeToken
	PseudoToken
	CombinatorToken
)

func (k TokenKind) String() string {
	switch k {
	case TagToken:
		return "tag"
	case IDToken:
		return "id"
	case ClassToken:
		return "class"
	case UniversalToken:
		return "universal"
	case AttributeToken:
		return "attribute"
	case PseudoToken:
		return "pseudo"
	case CombinatorToken:
		return "combinator"
	default:
		return "unknown"
	}
}

// Combinators between compound selectors.
const (
	Descendant     = ' '
	Child          = '>'
	Adjacent       = '+'
	GeneralSibling = '~'
	noCombinator   = 0
)

const maxPseudoArgLen = 256

// Token is a single simple selector or combinator.
type Token struct {
	Kind TokenKind
	// Value is the tag, id, class, attribute or pseudo name, or the
	// combinator character.
	Value string
	// Operator is the attribute comparison ("=", "~=", "|=", "^=", "$=",
	// "*="); empty means presence only.
	Operator string
	// Argument is the attribute operand or the raw pseudo argument.
	Argument string
	// PseudoElement marks "::name" tokens, which never match.
	PseudoElement bool

	nthA, nthB int
	not        Group
}

// Selector is one comma-separated alternative of a query.
type Selector struct {
	Raw       string
	Tokens    []Token
	compounds []compound
}

// Group is a full query: any alternative may match.
type Group []Selector

// compound is a run of simple tokens with no combinator between them. comb
// relates it to the previous compound.
type compound struct {
	comb   byte
	simple []Token
}

var (
	attrPattern = regexp.MustCompile(`^\s*([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*(?:([~|^$*]?=)\s*(?:"([^"]*)"|'([^']*)'|([^\s"'\]]+)))?\s*$`)
	tagPattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

	knownPseudo = map[string]struct{}{
		"first-child": {}, "last-child": {}, "only-child": {},
		"nth-child": {}, "nth-last-child": {},
		"first-of-type": {}, "last-of-type": {}, "only-of-type": {},
		"nth-of-type": {}, "nth-last-of-type": {},
		"empty": {}, "not": {}, "root": {},
	}
	nthPseudo = map[string]struct{}{
		"nth-child": {}, "nth-last-child": {}, "nth-of-type": {}, "nth-last-of-type": {},
	}
)

// Parse splits query on top-level commas and tokenizes each alternative.
func Parse(query string) (Group, error) {
	parts, err := splitGroup(query)
	if err != nil {
		return nil, err
	}
	group := make(Group, 0, len(parts))
	for _, part := range parts {
		sel, err := parseSelector(part)
		if err != nil {
			return nil, err
		}
		group = append(group, sel)
	}
	return group, nil
}

func parseSelector(raw string) (Selector, error) {
	tokens, err := Tokenize(raw)
	if err != nil {
		return Selector{}, err
	}
	compounds, err := buildCompounds(tokens)
	if err != nil {
		return Selector{}, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, raw, err)
	}
	return Selector{Raw: raw, Tokens: tokens, compounds: compounds}, nil
}

// Tokenize converts a single selector (no top-level commas) into tokens.
// Whitespace next to an explicit combinator is absorbed by it.
func Tokenize(sel string) ([]Token, error) {
	s := strings.TrimSpace(sel)
	if s == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrInvalidSelector)
	}
	var tokens []Token
	invalid := func(format string, args ...any) ([]Token, error) {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidSelector, sel, fmt.Sprintf(format, args...))
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case isSpace(c):
			for i < len(s) && isSpace(s[i]) {
				i++
			}
			if i < len(s) && isCombinator(s[i]) {
				continue
			}
			tokens = append(tokens, Token{Kind: CombinatorToken, Value: string(Descendant)})
		case isCombinator(c):
			if n := len(tokens); n > 0 && tokens[n-1].Kind == CombinatorToken {
				if tokens[n-1].Value != string(Descendant) {
					return invalid("consecutive combinators at offset %d", i)
				}
				tokens = tokens[:n-1]
			}
			tokens = append(tokens, Token{Kind: CombinatorToken, Value: string(c)})
			i++
			for i < len(s) && isSpace(s[i]) {
				i++
			}
		case c == '*':
			tokens = append(tokens, Token{Kind: UniversalToken, Value: "*"})
			i++
		case c == '#', c == '.':
			name, next := readIdent(s, i+1)
			if name == "" {
				return invalid("missing name after %q at offset %d", c, i)
			}
			kind := IDToken
			if c == '.' {
				kind = ClassToken
			}
			tokens = append(tokens, Token{Kind: kind, Value: name})
			i = next
		case c == '[':
			end := closingIndex(s, i, '[', ']')
			if end < 0 {
				return invalid("unterminated attribute selector")
			}
			tok, ok := parseAttribute(s[i+1 : end])
			if !ok {
				return invalid("malformed attribute selector %q", s[i:end+1])
			}
			tokens = append(tokens, tok)
			i = end + 1
		case c == ':':
			tok, next, err := parsePseudo(s, i)
			if err != nil {
				return invalid("%v", err)
			}
			tokens = append(tokens, tok)
			i = next
		default:
			name, next := readIdent(s, i)
			if !tagPattern.MatchString(name) {
				return invalid("unexpected %q at offset %d", c, i)
			}
			tokens = append(tokens, Token{Kind: TagToken, Value: strings.ToLower(name)})
			i = next
		}
	}
	if tokens[len(tokens)-1].Kind == CombinatorToken {
		return invalid("dangling combinator")
	}
	return tokens, nil
}

func parseAttribute(body string) (Token, bool) {
	m := attrPattern.FindStringSubmatch(body)
	if m == nil {
		return Token{}, false
	}
	tok := Token{Kind: AttributeToken, Value: strings.ToLower(m[1]), Operator: m[2]}
	if tok.Operator != "" {
		tok.Argument = m[3] + m[4] + m[5]
	}
	return tok, true
}

func parsePseudo(s string, i int) (Token, int, error) {
	tok := Token{Kind: PseudoToken}
	i++
	if i < len(s) && s[i] == ':' {
		tok.PseudoElement = true
		i++
	}
	name, next := readIdent(s, i)
	if name == "" {
		return tok, 0, fmt.Errorf("missing pseudo name at offset %d", i)
	}
	tok.Value = strings.ToLower(name)
	i = next
	if i < len(s) && s[i] == '(' {
		end := closingIndex(s, i, '(', ')')
		if end < 0 || end-i > maxPseudoArgLen {
			return tok, 0, fmt.Errorf("unterminated argument for :%s", tok.Value)
		}
		tok.Argument = strings.TrimSpace(s[i+1 : end])
		i = end + 1
	}
	if tok.PseudoElement {
		return tok, i, nil
	}
	if _, ok := knownPseudo[tok.Value]; !ok {
		return tok, 0, fmt.Errorf("unsupported pseudo-class :%s", tok.Value)
	}
	if _, ok := nthPseudo[tok.Value]; ok {
		a, b, ok := parseNth(tok.Argument)
		if !ok {
			return tok, 0, fmt.Errorf("invalid :%s argument %q", tok.Value, tok.Argument)
		}
		tok.nthA, tok.nthB = a, b
	}
	if tok.Value == "not" {
		if tok.Argument == "" {
			return tok, 0, errors.New(":not requires an argument")
		}
		inner, err := Parse(tok.Argument)
		if err != nil {
			return tok, 0, err
		}
		tok.not = inner
	}
	return tok, i, nil
}

func buildCompounds(tokens []Token) ([]compound, error) {
	var out []compound
	cur := compound{comb: noCombinator}
	for _, tok := range tokens {
		if tok.Kind == CombinatorToken {
			if len(cur.simple) == 0 && len(out) > 0 {
				return nil, fmt.Errorf("combinator without left operand")
			}
			if len(cur.simple) > 0 {
				out = append(out, cur)
			}
			cur = compound{comb: tok.Value[0]}
			continue
		}
		cur.simple = append(cur.simple, tok)
	}
	if len(cur.simple) == 0 {
		return nil, fmt.Errorf("empty compound selector")
	}
	out = append(out, cur)
	return out, nil
}

// splitGroup splits on commas outside brackets, parentheses and quotes.
func splitGroup(query string) ([]string, error) {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, query[start:i])
			start = i + 1
		}
	}
	parts = append(parts, query[start:])
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return nil, fmt.Errorf("%w: %q: empty alternative", ErrInvalidSelector, query)
		}
	}
	return parts, nil
}

func closingIndex(s string, open int, openCh, closeCh byte) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == openCh:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func readIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		c := s[i]
		if c == '-' || c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80 {
			i++
			continue
		}
		break
	}
	return s[start:i], i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isCombinator(c byte) bool {
	return c == Child || c == Adjacent || c == GeneralSibling
}
