package dom

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by ParseStrict when the markup produced diagnostics.
var ErrMalformed = errors.New("malformed markup")

// Options tunes parser behavior. The zero value folds tag and attribute names
// to lower case and trims text runs.
type Options struct {
	PreserveCase       bool
	PreserveWhitespace bool
}

var voidElements = map[string]struct{}{
	"area": {}, "base": {}, "br": {}, "col": {}, "command": {}, "embed": {},
	"hr": {}, "img": {}, "input": {}, "keygen": {}, "link": {}, "meta": {},
	"param": {}, "source": {}, "track": {}, "wbr": {},
}

// rawTextElements hold unparsed character data up to their closing tag. The
// bool marks whether entities are decoded inside them.
var rawTextElements = map[string]bool{
	"script":   false,
	"style":    false,
	"textarea": true,
	"title":    true,
}

// IsVoid reports whether tag never has content.
func IsVoid(tag string) bool {
	_, ok := voidElements[strings.ToLower(tag)]
	return ok
}

// Parser turns markup into a Node tree. It recovers from malformed input and
// records what it had to repair. A Parser is not safe for concurrent use.
type Parser struct {
	opts Options
	errs []string

	input   string
	pos     int
	current *Node
	text    strings.Builder
}

// NewParser builds a Parser with the given options.
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

// Parse is a convenience wrapper using default options.
func Parse(markup string) (*Node, []string) {
	p := NewParser(Options{})
	doc := p.Parse(markup)
	return doc, p.Errors()
}

// Errors returns the diagnostics recorded by the last Parse call.
func (p *Parser) Errors() []string {
	return append([]string(nil), p.errs...)
}

// ParseStrict parses markup and fails on the first diagnostic.
func (p *Parser) ParseStrict(markup string) (*Node, error) {
	doc := p.Parse(markup)
	if len(p.errs) > 0 {
		return doc, fmt.Errorf("%w: %s", ErrMalformed, p.errs[0])
	}
	return doc, nil
}

// Parse scans markup once from left to right and always returns a document.
func (p *Parser) Parse(markup string) *Node {
	doc := NewDocument()
	p.errs = nil
	p.input = markup
	p.pos = 0
	p.current = doc
	p.text.Reset()

	for p.pos < len(p.input) {
		if p.input[p.pos] != '<' {
			next := strings.IndexByte(p.input[p.pos:], '<')
			if next < 0 {
				p.text.WriteString(p.input[p.pos:])
				p.pos = len(p.input)
				break
			}
			p.text.WriteString(p.input[p.pos : p.pos+next])
			p.pos += next
			continue
		}
		p.markup()
	}
	p.flushText()

	for n := p.current; n != nil && n != doc; n = n.parent {
		p.errorf("unclosed element <%s> at end of input", n.Name)
	}
	p.input = ""
	p.current = nil
	return doc
}

func (p *Parser) markup() {
	rest := p.input[p.pos:]
	switch {
	case strings.HasPrefix(rest, "<!--"):
		p.flushText()
		p.comment()
	case strings.HasPrefix(rest, "<![CDATA["):
		p.flushText()
		p.cdata()
	case hasPrefixFold(rest, "<!doctype"):
		p.flushText()
		p.skipPast(">")
	case strings.HasPrefix(rest, "<!"), strings.HasPrefix(rest, "<?"):
		p.flushText()
		p.errorf("bogus markup declaration")
		p.skipPast(">")
	case strings.HasPrefix(rest, "</"):
		p.flushText()
		p.closingTag()
	case len(rest) > 1 && isNameStart(rest[1]):
		p.flushText()
		p.openingTag()
	default:
		p.errorf("unescaped '<' in text")
		p.text.WriteByte('<')
		p.pos++
	}
}

func (p *Parser) comment() {
	start := p.pos + len("<!--")
	end := strings.Index(p.input[start:], "-->")
	if end < 0 {
		p.errorf("unterminated comment")
		p.current.AppendChild(&Node{Type: CommentNode, Data: p.input[start:]})
		p.pos = len(p.input)
		return
	}
	p.current.AppendChild(&Node{Type: CommentNode, Data: p.input[start : start+end]})
	p.pos = start + end + len("-->")
}

func (p *Parser) cdata() {
	start := p.pos + len("<![CDATA[")
	end := strings.Index(p.input[start:], "]]>")
	data := ""
	if end < 0 {
		p.errorf("unterminated CDATA section")
		data = p.input[start:]
		p.pos = len(p.input)
	} else {
		data = p.input[start : start+end]
		p.pos = start + end + len("]]>")
	}
	if data != "" {
		p.current.AppendChild(&Node{Type: TextNode, Data: data})
	}
}

func (p *Parser) closingTag() {
	p.pos += len("</")
	end := strings.IndexByte(p.input[p.pos:], '>')
	var raw string
	if end < 0 {
		p.errorf("unterminated closing tag")
		raw = p.input[p.pos:]
		p.pos = len(p.input)
	} else {
		raw = p.input[p.pos : p.pos+end]
		p.pos += end + 1
	}
	name := p.foldName(strings.TrimSpace(raw))
	if name == "" {
		p.errorf("empty closing tag")
		return
	}

	var match *Node
	for n := p.current; n != nil && n.Type == ElementNode; n = n.parent {
		if n.Name == name {
			match = n
			break
		}
	}
	if match == nil {
		p.errorf("unmatched closing tag </%s>", name)
		return
	}
	for n := p.current; n != match; n = n.parent {
		p.errorf("element <%s> implicitly closed by </%s>", n.Name, name)
	}
	p.current = match.parent
}

func (p *Parser) openingTag() {
	p.pos++
	name := p.foldName(p.readName())
	el := &Node{Type: ElementNode, Name: name}
	selfClosed := false

	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			p.errorf("unexpected end of input in <%s>", name)
			break
		}
		c := p.input[p.pos]
		if c == '>' {
			p.pos++
			break
		}
		if c == '/' {
			p.pos++
			if p.pos < len(p.input) && p.input[p.pos] == '>' {
				p.pos++
				selfClosed = true
				break
			}
			continue
		}
		attrName := p.readAttrName()
		if attrName == "" {
			p.errorf("invalid character %q in <%s>", c, name)
			p.pos++
			continue
		}
		p.skipSpace()
		value := ""
		if p.pos < len(p.input) && p.input[p.pos] == '=' {
			p.pos++
			p.skipSpace()
			value = decodeEntities(p.readAttrValue(name))
		}
		el.setAttr(p.foldName(attrName), value)
	}

	p.current.AppendChild(el)
	if selfClosed || IsVoid(name) {
		return
	}
	if decode, ok := rawTextElements[name]; ok {
		p.rawText(el, decode)
		return
	}
	p.current = el
}

func (p *Parser) rawText(el *Node, decode bool) {
	closeTag := "</" + el.Name
	idx := indexFold(p.input[p.pos:], closeTag)
	var data string
	if idx < 0 {
		p.errorf("unclosed element <%s> at end of input", el.Name)
		data = p.input[p.pos:]
		p.pos = len(p.input)
	} else {
		data = p.input[p.pos : p.pos+idx]
		p.pos += idx
		p.skipPast(">")
	}
	if decode {
		data = decodeEntities(data)
	}
	if !p.opts.PreserveWhitespace {
		data = strings.TrimSpace(data)
	}
	if data != "" {
		el.AppendChild(&Node{Type: TextNode, Data: data})
	}
}

func (p *Parser) flushText() {
	if p.text.Len() == 0 {
		return
	}
	data := decodeEntities(p.text.String())
	p.text.Reset()
	if !p.opts.PreserveWhitespace {
		data = strings.TrimSpace(data)
	}
	if data == "" {
		return
	}
	p.current.AppendChild(&Node{Type: TextNode, Data: data})
}

func (p *Parser) readName() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if isSpace(c) || c == '/' || c == '>' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *Parser) readAttrName() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if isSpace(c) || c == '=' || c == '>' || c == '/' || c == '"' || c == '\'' || c == '<' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *Parser) readAttrValue(tag string) string {
	if p.pos >= len(p.input) {
		return ""
	}
	quote := p.input[p.pos]
	if quote == '"' || quote == '\'' {
		p.pos++
		end := strings.IndexByte(p.input[p.pos:], quote)
		if end < 0 {
			p.errorf("unterminated attribute value in <%s>", tag)
			value := p.input[p.pos:]
			p.pos = len(p.input)
			return value
		}
		value := p.input[p.pos : p.pos+end]
		p.pos += end + 1
		return value
	}
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if isSpace(c) || c == '>' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *Parser) skipSpace() {
	for p.pos < len(p.input) && isSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *Parser) skipPast(marker string) {
	idx := strings.Index(p.input[p.pos:], marker)
	if idx < 0 {
		p.pos = len(p.input)
		return
	}
	p.pos += idx + len(marker)
}

func (p *Parser) foldName(name string) string {
	if p.opts.PreserveCase {
		return name
	}
	return strings.ToLower(name)
}

func (p *Parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf("offset %d: ", p.pos)+fmt.Sprintf(format, args...))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
