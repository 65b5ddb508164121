package selector

import (
	"regexp"
	"strconv"
	"strings"
)

var nthPattern = regexp.MustCompile(`^(?:([+-]?\d*)n)?([+-]?\d+)?$`)

// parseNth reads an an+b expression, including the even and odd keywords.
func parseNth(arg string) (a, b int, ok bool) {
	expr := strings.ToLower(strings.Join(strings.Fields(arg), ""))
	switch expr {
	case "":
		return 0, 0, false
	case "even":
		return 2, 0, true
	case "odd":
		return 2, 1, true
	}
	m := nthPattern.FindStringSubmatch(expr)
	if m == nil {
		return 0, 0, false
	}
	if strings.Contains(expr, "n") {
		switch m[1] {
		case "", "+":
			a = 1
		case "-":
			a = -1
		default:
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, 0, false
			}
			a = v
		}
	}
	if m[2] != "" {
		v, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, false
		}
		b = v
	}
	return a, b, true
}

// matchesNth reports whether the 1-based position i satisfies a*n+b for some
// n >= 0.
func matchesNth(i, a, b int) bool {
	if a == 0 {
		return i == b
	}
	diff := i - b
	return diff%a == 0 && diff/a >= 0
}
