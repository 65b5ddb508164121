package extract

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   any
		v       *Validation
		want    any
		wantErr string
	}{
		{name: "nil validation", value: "x", v: nil, want: "x"},
		{name: "string coercion", value: 12.5, v: &Validation{Type: TypeString}, want: "12.5"},
		{name: "number", value: " 42.5 ", v: &Validation{Type: TypeNumber}, want: 42.5},
		{name: "number fails", value: "abc", v: &Validation{Type: TypeNumber}, wantErr: `cannot convert "abc" to number`},
		{name: "bool true", value: "1", v: &Validation{Type: TypeBoolean}, want: true},
		{name: "bool false", value: "false", v: &Validation{Type: TypeBoolean}, want: false},
		{name: "bool fails", value: "yes", v: &Validation{Type: TypeBoolean}, wantErr: "to boolean"},
		{name: "date", value: "2024-01-02", v: &Validation{Type: TypeDate}, want: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "date fails", value: "soon", v: &Validation{Type: TypeDate}, wantErr: "to date"},
		{name: "email", value: "a@b.io", v: &Validation{Type: TypeEmail}, want: "a@b.io"},
		{name: "email fails", value: "a@b", v: &Validation{Type: TypeEmail}, wantErr: "not a valid email"},
		{name: "url", value: "https://x.dev/p", v: &Validation{Type: TypeURL}, want: "https://x.dev/p"},
		{name: "relative url fails", value: "/p", v: &Validation{Type: TypeURL}, wantErr: "not a valid URL"},
		{name: "pattern", value: "ab12", v: &Validation{Pattern: regexp.MustCompile(`^[a-z]+\d+$`)}, want: "ab12"},
		{name: "pattern fails", value: "12ab", v: &Validation{Pattern: regexp.MustCompile(`^[a-z]+\d+$`)}, wantErr: "does not match"},
		{name: "string length min", value: "", v: &Validation{Type: TypeString, Min: Float(1)}, wantErr: "value length 0 is less than minimum 1"},
		{name: "number max", value: "11", v: &Validation{Type: TypeNumber, Max: Float(10)}, wantErr: "value 11 is greater than maximum 10"},
		{name: "number in range", value: "5", v: &Validation{Type: TypeNumber, Min: Float(1), Max: Float(10)}, want: 5.0},
		{name: "enum", value: "b", v: &Validation{Enum: []any{"a", "b"}}, want: "b"},
		{name: "enum fails", value: "c", v: &Validation{Enum: []any{"a", "b"}}, wantErr: "not one of allowed values: a, b"},
		{name: "enum after coercion", value: "2", v: &Validation{Type: TypeNumber, Enum: []any{2.0}}, want: 2.0},
		{name: "custom", value: "even", v: &Validation{Custom: func(v any) bool { return v == "even" }}, want: "even"},
		{name: "custom fails", value: "odd", v: &Validation{Custom: func(v any) bool { return v == "even" }}, wantErr: "custom validation failed"},
		{name: "pattern before bounds", value: "x", v: &Validation{Pattern: regexp.MustCompile(`^\d$`), Min: Float(5)}, wantErr: "does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Validate(tt.value, tt.v)
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
