// Package extract turns parsed documents into records using declarative
// rules, and offers pattern and structured-data helpers alongside.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/dom"
)

var (
	// ErrSchemaNotFound is returned when a schema name is not registered.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrStrictValidation is wrapped by StrictError.
	ErrStrictValidation = errors.New("strict validation failed")
)

// SelectorType picks how Rule.Selector is interpreted.
type SelectorType string

// Selector dialects.
const (
	CSS   SelectorType = "css"
	XPath SelectorType = "xpath"
)

// ValueType is the coercion target of a Validation.
type ValueType string

// Supported coercion targets.
const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeDate    ValueType = "date"
	TypeEmail   ValueType = "email"
	TypeURL     ValueType = "url"
)

// TransformFunc rewrites a raw extracted value. Returning nil marks the value
// as absent.
type TransformFunc func(value string, node *dom.Node) (any, error)

// Validation checks, and for Type also coerces, an extracted value. Checks
// run in order: Type, Pattern, Min/Max, Enum, Custom.
type Validation struct {
	Type    ValueType
	Pattern *regexp.Regexp
	// Min and Max bound string length or numeric value.
	Min, Max *float64
	Enum     []any
	Custom   func(any) bool
}

// Rule extracts one field.
type Rule struct {
	Name         string
	Selector     string
	SelectorType SelectorType
	// Attribute, when set, is read instead of the text content.
	Attribute  string
	Transform  TransformFunc
	Multiple   bool
	Required   bool
	Default    any
	Validation *Validation
}

// FieldTransform rewrites a field after every rule has run. It may read the
// other fields.
type FieldTransform struct {
	Field     string
	Transform func(value any, data map[string]any) (any, error)
}

// Schema is a named rule set applied as a unit.
type Schema struct {
	Name        string
	Description string
	Rules       []Rule
	// Indicators are selectors whose presence suggests this schema applies.
	Indicators       []string
	GlobalTransforms []FieldTransform
	PostProcess      func(data map[string]any) (map[string]any, error)
}

// Issue is one error or warning raised while extracting.
type Issue struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Metadata summarizes an extraction run.
type Metadata struct {
	ExtractedAt     time.Time `json:"extractedAt"`
	SchemaName      string    `json:"schemaName"`
	TotalRules      int       `json:"totalRules"`
	SuccessfulRules int       `json:"successfulRules"`
	FailedRules     int       `json:"failedRules"`
}

// Result is the outcome of applying a schema.
type Result struct {
	Data     map[string]any `json:"data"`
	Errors   []Issue        `json:"errors"`
	Warnings []Issue        `json:"warnings"`
	Metadata Metadata       `json:"metadata"`
}

// Options tunes Extract.
type Options struct {
	// Strict returns a *StrictError after all rules ran if any error was
	// recorded.
	Strict bool
	// SkipMissing downgrades missing required fields to warnings.
	SkipMissing bool
}

// StrictError carries every error recorded by a strict extraction.
type StrictError struct {
	Errors []Issue
}

func (e *StrictError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, issue := range e.Errors {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("%s: %s", ErrStrictValidation, strings.Join(msgs, ", "))
}

// Unwrap lets errors.Is match ErrStrictValidation.
func (e *StrictError) Unwrap() error {
	return ErrStrictValidation
}

// Float returns a pointer to v, for Validation bounds.
func Float(v float64) *float64 {
	return &v
}
