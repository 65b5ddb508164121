// Package rolling implements a small non-cryptographic string digest used to
// derive cache keys. Collisions are possible; callers that need collision
// resistance should use the sha256 package instead.
package rolling

import (
	"strconv"
	"unicode/utf16"
)

// Hasher implements crawler.Hasher with the rolling digest.
type Hasher struct{}

// New returns a rolling hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the base-36 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(string(data)), nil
}

// Sum folds every UTF-16 code unit of s into a 32-bit signed accumulator
// (h = h*31 + c) and renders it in base 36. Negative values keep their sign.
func Sum(s string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(unit)
	}
	return strconv.FormatInt(int64(h), 36)
}
