package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// maxEntityLen bounds the scan for a terminating ';'. The longest named
// reference in the HTML table is 32 bytes including '&' and ';'.
const maxEntityLen = 33

// decodeEntities replaces named and numeric character references that end in
// ';'. Unknown references are left untouched.
func decodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '&' {
			b.WriteByte(s[i])
			i++
			continue
		}
		limit := i + maxEntityLen
		if limit > len(s) {
			limit = len(s)
		}
		semi := strings.IndexByte(s[i+1:limit], ';')
		if semi <= 0 {
			b.WriteByte('&')
			i++
			continue
		}
		ref := s[i : i+semi+2]
		decoded := html.UnescapeString(ref)
		if decoded == ref {
			b.WriteByte('&')
			i++
			continue
		}
		b.WriteString(decoded)
		i += len(ref)
	}
	return b.String()
}
