package extract

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
}

// Validate coerces value to v.Type and then applies the remaining checks. It
// returns the coerced value.
func Validate(value any, v *Validation) (any, error) {
	if v == nil {
		return value, nil
	}
	coerced, err := coerce(value, v.Type)
	if err != nil {
		return nil, err
	}

	if v.Pattern != nil {
		s := fmt.Sprint(coerced)
		if !v.Pattern.MatchString(s) {
			return nil, fmt.Errorf("value %q does not match pattern %s", s, v.Pattern)
		}
	}

	if measure, label, ok := magnitude(coerced); ok {
		if v.Min != nil && measure < *v.Min {
			return nil, fmt.Errorf("%s %v is less than minimum %v", label, measure, *v.Min)
		}
		if v.Max != nil && measure > *v.Max {
			return nil, fmt.Errorf("%s %v is greater than maximum %v", label, measure, *v.Max)
		}
	}

	if len(v.Enum) > 0 && !inEnum(coerced, v.Enum) {
		allowed := make([]string, 0, len(v.Enum))
		for _, e := range v.Enum {
			allowed = append(allowed, fmt.Sprint(e))
		}
		return nil, fmt.Errorf("value %q is not one of allowed values: %s", fmt.Sprint(coerced), strings.Join(allowed, ", "))
	}

	if v.Custom != nil && !v.Custom(coerced) {
		return nil, fmt.Errorf("custom validation failed for %q", fmt.Sprint(coerced))
	}
	return coerced, nil
}

func coerce(value any, t ValueType) (any, error) {
	switch t {
	case "":
		return value, nil
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case TypeNumber:
		return toNumber(value)
	case TypeBoolean:
		return toBool(value)
	case TypeDate:
		return toDate(value)
	case TypeEmail:
		s := fmt.Sprint(value)
		if !emailPattern.MatchString(s) {
			return nil, fmt.Errorf("%q is not a valid email", s)
		}
		return value, nil
	case TypeURL:
		s := fmt.Sprint(value)
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%q is not a valid URL", s)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unknown validation type %q", t)
	}
}

func toNumber(value any) (any, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", n)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %q to number", fmt.Sprint(value))
	}
}

func toBool(value any) (any, error) {
	switch b := value.(type) {
	case bool:
		return b, nil
	case string:
		switch b {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
	case int:
		switch b {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case float64:
		switch b {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %q to boolean", fmt.Sprint(value))
}

func toDate(value any) (any, error) {
	switch d := value.(type) {
	case time.Time:
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("cannot convert %q to date", fmt.Sprint(value))
}

// magnitude is the string length in runes or the numeric value.
func magnitude(v any) (float64, string, bool) {
	switch x := v.(type) {
	case string:
		return float64(utf8.RuneCountInString(x)), "value length", true
	case float64:
		return x, "value", true
	case int:
		return float64(x), "value", true
	default:
		return 0, "", false
	}
}

func inEnum(v any, allowed []any) bool {
	for _, a := range allowed {
		if reflect.DeepEqual(a, v) {
			return true
		}
	}
	return false
}
