// Package uuid generates time-ordered identifiers for jobs and exports.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, optionally prefixed.
type Generator struct {
	prefix string
}

// New returns a Generator without a prefix.
func New() *Generator {
	return &Generator{}
}

// NewPrefixed returns a Generator whose IDs read "<prefix>_<uuid>".
func NewPrefixed(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a fresh identifier.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "_" + id.String(), nil
}

// MustID is NewID for callers that cannot recover from entropy failure.
func (g *Generator) MustID() string {
	id, err := g.NewID()
	if err != nil {
		panic(err)
	}
	return id
}
