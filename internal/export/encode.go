package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Encoded is a serialized record set.
type Encoded struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Encode serializes records as json, csv or xml.
func Encode(format string, records []map[string]any) (Encoded, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return encodeJSON(records)
	case FormatCSV:
		return encodeCSV(records)
	case FormatXML:
		return encodeXML(records)
	default:
		return Encoded{}, fmt.Errorf("unsupported encoding %q", format)
	}
}

// IsEncoding reports whether Encode understands format.
func IsEncoding(format string) bool {
	switch strings.ToLower(format) {
	case FormatJSON, FormatCSV, FormatXML:
		return true
	}
	return false
}

func encodeJSON(records []map[string]any) (Encoded, error) {
	if records == nil {
		records = []map[string]any{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return Encoded{}, fmt.Errorf("encode json: %w", err)
	}
	return Encoded{Data: data, ContentType: "application/json", Extension: "json"}, nil
}

// encodeCSV writes a header row holding the sorted union of record keys.
func encodeCSV(records []map[string]any) (Encoded, error) {
	keys := unionKeys(records)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(keys); err != nil {
		return Encoded{}, fmt.Errorf("encode csv header: %w", err)
	}
	row := make([]string, len(keys))
	for _, record := range records {
		for i, key := range keys {
			cell, err := stringify(record[key])
			if err != nil {
				return Encoded{}, fmt.Errorf("encode csv field %q: %w", key, err)
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return Encoded{}, fmt.Errorf("encode csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Encoded{}, fmt.Errorf("encode csv: %w", err)
	}
	return Encoded{Data: buf.Bytes(), ContentType: "text/csv", Extension: "csv"}, nil
}

func encodeXML(records []map[string]any) (Encoded, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "records"}}
	if err := enc.EncodeToken(root); err != nil {
		return Encoded{}, fmt.Errorf("encode xml: %w", err)
	}
	for _, record := range records {
		rec := xml.StartElement{Name: xml.Name{Local: "record"}}
		if err := enc.EncodeToken(rec); err != nil {
			return Encoded{}, fmt.Errorf("encode xml: %w", err)
		}
		for _, key := range sortedKeys(record) {
			text, err := stringify(record[key])
			if err != nil {
				return Encoded{}, fmt.Errorf("encode xml field %q: %w", key, err)
			}
			field := xml.StartElement{
				Name: xml.Name{Local: "field"},
				Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: key}},
			}
			if err := enc.EncodeElement(text, field); err != nil {
				return Encoded{}, fmt.Errorf("encode xml field %q: %w", key, err)
			}
		}
		if err := enc.EncodeToken(rec.End()); err != nil {
			return Encoded{}, fmt.Errorf("encode xml: %w", err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return Encoded{}, fmt.Errorf("encode xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return Encoded{}, fmt.Errorf("encode xml: %w", err)
	}
	return Encoded{Data: buf.Bytes(), ContentType: "application/xml", Extension: "xml"}, nil
}

// stringify renders scalars directly and nested values as JSON.
func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func unionKeys(records []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, record := range records {
		for key := range record {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func sortedKeys(record map[string]any) []string {
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
