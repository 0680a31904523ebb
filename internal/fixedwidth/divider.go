package fixedwidth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// RedactionSentinel marks a cell withheld by the source agency.
const RedactionSentinel = "*"

// RedactedPrefix names the boolean companion of every data column.
const RedactedPrefix = "redacted_"

// IsRedacted reports whether a cell is exactly the redaction sentinel after
// trimming.
func IsRedacted(cell string) bool {
	return strings.TrimSpace(cell) == RedactionSentinel
}

// Span is a [Start, End) rune range taken from a divider line.
type Span struct {
	Start int
	End   int
}

// ParseDivider returns one Span per maximal run of dashes.
func ParseDivider(divider string) []Span {
	runes := []rune(divider)
	var out []Span
	for i := 0; i < len(runes); {
		if runes[i] != '-' {
			i++
			continue
		}
		j := i
		for j < len(runes) && runes[j] == '-' {
			j++
		}
		out = append(out, Span{Start: i, End: j})
		i = j
	}
	return out
}

// SliceSpans cuts line at the divider spans. Text outside every span is
// ignored; lines shorter than a span yield its available prefix.
func SliceSpans(line string, spans []Span) RawRecord {
	runes := []rune(line)
	out := make(RawRecord, len(spans))
	for i, s := range spans {
		if s.Start >= len(runes) {
			continue
		}
		end := s.End
		if end > len(runes) {
			end = len(runes)
		}
		out[i] = strings.TrimSpace(string(runes[s.Start:end]))
	}
	return out
}

// DividerTable is a decoded global or lookup table. Headers are already
// converted with HeaderName.
type DividerTable struct {
	Headers []string
	Rows    []RawRecord
}

// ParseDividerTable decodes "header / dashes / data..." text. Blank data lines
// are skipped and a trailing CR on any line is dropped.
func ParseDividerTable(text string) (DividerTable, error) {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	if len(lines) < 2 {
		return DividerTable{}, fmt.Errorf("divider table: need header and divider lines, got %d line(s)", len(lines))
	}
	if !isDividerLine(lines[1]) {
		return DividerTable{}, fmt.Errorf("divider table: second line is not a dash divider: %q", lines[1])
	}

	spans := ParseDivider(lines[1])
	raw := SliceSpans(lines[0], spans)
	headers := make([]string, len(raw))
	for i, h := range raw {
		headers[i] = HeaderName(h)
	}

	rows := make([]RawRecord, 0, len(lines)-2)
	for _, l := range lines[2:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		rows = append(rows, SliceSpans(l, spans))
	}
	return DividerTable{Headers: headers, Rows: rows}, nil
}

var reDividerLine = regexp.MustCompile(`^[\s-]*-[\s-]*$`)

func isDividerLine(s string) bool { return reDividerLine.MatchString(s) }

// HeaderName converts a camelCase header to SNAKE_UPPER_CASE by inserting an
// underscore before every interior uppercase letter and uppercasing the result
// ("CaseNumber" -> "CASE_NUMBER"). A header that already carries a redaction
// prefix ("RedactedCaseNumber", "redacted_CaseNumber") keeps a single
// lowercase "redacted_" ahead of the converted remainder.
func HeaderName(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, p := range []string{RedactedPrefix, "Redacted"} {
		rest, ok := strings.CutPrefix(raw, p)
		if ok && rest != "" && unicode.IsUpper([]rune(rest)[0]) {
			return RedactedPrefix + snakeUpper(rest)
		}
	}
	return snakeUpper(raw)
}

func snakeUpper(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
