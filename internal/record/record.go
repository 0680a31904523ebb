// Package record turns decoded fixed-width cells into typed, redaction-aware
// records.
package record

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"ncd/internal/fixedwidth"
	"ncd/internal/schema"
)

// Field is one data column of a record.
//
// Invariant: Redacted implies Value == nil.
type Field struct {
	Name     string
	Value    any // string | int64 | float64 | time.Time | nil
	Redacted bool
	// SourceFlag marks a column that is itself a redaction flag shipped in the
	// source, or whose flag the source already ships. No companion is generated.
	SourceFlag bool
}

// Record is one normalized row, fields in schema order.
type Record struct {
	Fields []Field
}

// CompanionName returns the boolean redaction column paired with a data column.
func CompanionName(column string) string {
	return fixedwidth.RedactedPrefix + column
}

// NeedsCompanion reports for each column whether a redaction companion is
// generated for it. A column already named redacted_X is a flag itself, and X
// is covered by that flag when both are present.
func NeedsCompanion(names []string) []bool {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	out := make([]bool, len(names))
	for i, n := range names {
		out[i] = !strings.HasPrefix(n, fixedwidth.RedactedPrefix) && !present[CompanionName(n)]
	}
	return out
}

// AppendValues appends data values and then the generated redaction flags to
// dst, matching the DDL column order.
func (r Record) AppendValues(dst []any) []any {
	for _, f := range r.Fields {
		dst = append(dst, f.Value)
	}
	for _, f := range r.Fields {
		if !f.SourceFlag {
			dst = append(dst, f.Redacted)
		}
	}
	return dst
}

// MarshalJSON writes {"COL": v, "redacted_COL": b, ...} with each data column
// immediately followed by its companion, if it has one. DATE values render as YYYY-MM-DD.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeMember(&b, f.Name, jsonValue(f.Value)); err != nil {
			return nil, err
		}
		if f.SourceFlag {
			continue
		}
		b.WriteByte(',')
		if err := writeMember(&b, CompanionName(f.Name), f.Redacted); err != nil {
			return nil, err
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func writeMember(b *bytes.Buffer, key string, v any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Write(k)
	b.WriteByte(':')
	b.Write(val)
	return nil
}

func jsonValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(schema.ISODateLayout)
	}
	return v
}
