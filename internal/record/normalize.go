package record

import (
	"ncd/internal/fixedwidth"
	"ncd/internal/schema"
)

// Stats counts what a Normalizer absorbed instead of failing on.
type Stats struct {
	Rows      int64
	Redacted  int64
	Malformed int64
}

// Normalizer applies redaction and type parsing to raw records of one table.
// It is not safe for concurrent use.
type Normalizer struct {
	names   []string
	flags   []bool // source redaction flags, see Field.SourceFlag
	parsers []schema.ParseFunc
	stats   Stats
}

// NewNormalizer builds a typed normalizer from a README schema.
//
// Errors:
//   - *schema.UnsupportedTypeError when any column has an unknown declared type.
func NewNormalizer(t schema.TableSchema) (*Normalizer, error) {
	mappings, err := schema.MapColumns(t)
	if err != nil {
		return nil, err
	}
	n := &Normalizer{
		names:   make([]string, len(t.Columns)),
		parsers: make([]schema.ParseFunc, len(t.Columns)),
	}
	for i, c := range t.Columns {
		n.names[i] = c.Name
		n.parsers[i] = mappings[i].Parse
	}
	n.flags = sourceFlags(n.names)
	return n, nil
}

// NewStringNormalizer builds an untyped normalizer for global and lookup
// tables: every non-redacted cell passes through as a string.
func NewStringNormalizer(names []string) *Normalizer {
	n := &Normalizer{
		names:   append([]string(nil), names...),
		flags:   sourceFlags(names),
		parsers: make([]schema.ParseFunc, len(names)),
	}
	for i := range names {
		n.parsers[i] = passString
	}
	return n
}

func sourceFlags(names []string) []bool {
	needs := NeedsCompanion(names)
	out := make([]bool, len(needs))
	for i, ok := range needs {
		out[i] = !ok
	}
	return out
}

// A redacted global cell carries no value, matching normal tables.
func passString(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	return raw, false
}

// Stats returns the running counters.
func (n *Normalizer) Stats() Stats { return n.stats }

// Normalize converts raw cells into a Record. Missing trailing cells are
// treated as empty and extra cells are ignored.
func (n *Normalizer) Normalize(raw fixedwidth.RawRecord) Record {
	fields := make([]Field, len(n.names))
	for i, name := range n.names {
		var cell string
		if i < len(raw) {
			cell = raw[i]
		}
		fields[i].Name = name
		fields[i].SourceFlag = n.flags[i]
		if fixedwidth.IsRedacted(cell) {
			fields[i].Redacted = true
			n.stats.Redacted++
			continue
		}
		v, malformed := n.parsers[i](cell)
		if malformed {
			n.stats.Malformed++
		}
		fields[i].Value = v
	}
	n.stats.Rows++
	return Record{Fields: fields}
}
