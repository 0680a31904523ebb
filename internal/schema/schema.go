// Package schema extracts fixed-width table layouts from the README shipped in
// every National Caseload Data archive, and maps the declared Oracle column
// types onto storage types and cell parsers.
//
// The README is free-form prose. Each table section starts with a line of the
// form "GS_CASE - <description>" and lists its columns as
//
//	DISTRICT                  NOT NULL VARCHAR2(2)      (1:2)
//	FILINGDATE                         DATE             (13:23)
//
// where (start:end) are 1-based inclusive character positions.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ColumnSpec describes one fixed-width field of a normal table.
type ColumnSpec struct {
	Name         string `yaml:"name" json:"name"`
	Start        int    `yaml:"start" json:"start"` // 1-based, inclusive
	Length       int    `yaml:"length" json:"length"`
	DeclaredType string `yaml:"type" json:"type"`
}

// End returns the 1-based inclusive end position of the field.
func (c ColumnSpec) End() int { return c.Start + c.Length - 1 }

// TableSchema is the ordered column layout of one table. Column order is the
// README order and determines output column order.
type TableSchema struct {
	Name    string       `yaml:"table" json:"table"`
	Columns []ColumnSpec `yaml:"columns" json:"columns"`
}

// Validate reports overlapping column spans.
func (t TableSchema) Validate() error {
	cols := append([]ColumnSpec(nil), t.Columns...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Start < cols[j].Start })
	for i := 1; i < len(cols); i++ {
		prev, cur := cols[i-1], cols[i]
		if cur.Start <= prev.End() {
			return fmt.Errorf("table %s: column %s (%d:%d) overlaps %s (%d:%d)",
				t.Name, cur.Name, cur.Start, cur.End(), prev.Name, prev.Start, prev.End())
		}
	}
	return nil
}

// Width returns the minimal line length that covers every column.
func (t TableSchema) Width() int {
	w := 0
	for _, c := range t.Columns {
		if e := c.End(); e > w {
			w = e
		}
	}
	return w
}

// Schemas is the set of table layouts extracted from one README, in README order.
type Schemas []TableSchema

// Names returns table names sorted for deterministic processing.
func (s Schemas) Names() []string {
	out := make([]string, 0, len(s))
	for _, t := range s {
		out = append(out, t.Name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the schema for name.
func (s Schemas) Lookup(name string) (TableSchema, bool) {
	for _, t := range s {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

var (
	reTableHeader = regexp.MustCompile(`(?m)^([A-Z]\S+) - `)

	// NOT NULL is optional; the surrounding whitespace is not.
	reColumnLine = regexp.MustCompile(
		`(?m)^(?P<name>[A-Z]\S+)\s+(?:NOT NULL)?\s+(?P<type>[A-Z]\S+)\s+\((?P<start>\d+):(?P<end>\d+)\)`)
)

// ParseReadme splits README text into table sections and extracts each
// section's column layout.
//
// Edge cases:
//   - A section with no column lines yields a TableSchema with no columns;
//     callers treat that as "no schema available".
//   - A table header that appears more than once returns
//     *AmbiguousTableBoundaryError rather than guessing which span is right.
//   - A column whose end precedes its start is an error.
func ParseReadme(text string) (Schemas, error) {
	headers := reTableHeader.FindAllStringSubmatchIndex(text, -1)
	if len(headers) == 0 {
		return nil, nil
	}

	seen := make(map[string]int, len(headers))
	for _, h := range headers {
		seen[text[h[2]:h[3]]]++
	}

	out := make(Schemas, 0, len(headers))
	for i, h := range headers {
		name := text[h[2]:h[3]]
		if n := seen[name]; n > 1 {
			return nil, &AmbiguousTableBoundaryError{Table: name, Matches: n, Source: "README"}
		}

		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}

		cols, err := parseColumns(name, text[h[0]:end])
		if err != nil {
			return nil, err
		}
		out = append(out, TableSchema{Name: name, Columns: cols})
	}
	return out, nil
}

func parseColumns(table, fragment string) ([]ColumnSpec, error) {
	matches := reColumnLine.FindAllStringSubmatch(fragment, -1)
	cols := make([]ColumnSpec, 0, len(matches))
	for _, m := range matches {
		start, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: start %q: %w", table, m[1], m[3], err)
		}
		end, err := strconv.Atoi(m[4])
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: end %q: %w", table, m[1], m[4], err)
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("table %s: column %s: invalid span (%d:%d)", table, m[1], start, end)
		}
		cols = append(cols, ColumnSpec{
			Name:         m[1],
			Start:        start,
			Length:       end - start + 1,
			DeclaredType: m[2],
		})
	}
	return cols, nil
}
