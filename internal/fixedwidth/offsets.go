package fixedwidth

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"ncd/internal/schema"
)

// RawRecord is one decoded line, aligned with the schema or divider columns.
// Cells are trimmed and never contain the line terminator.
type RawRecord []string

// SliceOffsets cuts line at the README offsets of cols. Offsets are byte
// positions; each cell is decoded from Latin-1 after slicing so multi-byte
// output never shifts later fields. A line shorter than a field's end yields
// the available prefix, or "" when the field starts past the end.
func SliceOffsets(line []byte, cols []schema.ColumnSpec) RawRecord {
	out := make(RawRecord, len(cols))
	for i, c := range cols {
		start := c.Start - 1
		end := start + c.Length
		if start >= len(line) {
			continue
		}
		if end > len(line) {
			end = len(line)
		}
		out[i] = strings.TrimSpace(schema.DecodeLatin1(line[start:end]))
	}
	return out
}

// RowReader streams offset-sliced records from a normal table data file.
type RowReader struct {
	br   *bufio.Reader
	cols []schema.ColumnSpec
	line int
}

// NewRowReader reads fixed-width lines from r, scrubbing carriage returns.
func NewRowReader(r io.Reader, t schema.TableSchema) *RowReader {
	return &RowReader{
		br:   bufio.NewReaderSize(NewCRScrubber(r), 64*1024),
		cols: t.Columns,
	}
}

// Line returns the 1-based number of the line last returned by Next.
func (rr *RowReader) Line() int { return rr.line }

// Next returns the next non-blank record or io.EOF.
func (rr *RowReader) Next() (RawRecord, error) {
	for {
		raw, err := rr.br.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return nil, err
		}
		rr.line++
		raw = bytes.TrimRight(raw, "\n")
		if len(bytes.TrimSpace(raw)) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		return SliceOffsets(raw, rr.cols), nil
	}
}
