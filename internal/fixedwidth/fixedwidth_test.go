package fixedwidth

import (
	"errors"
	"io"
	"strings"
	"testing"

	"ncd/internal/schema"
)

func TestSliceOffsets(t *testing.T) {
	t.Parallel()

	cols := []schema.ColumnSpec{
		{Name: "A", Start: 1, Length: 2},
		{Name: "B", Start: 3, Length: 5},
		{Name: "C", Start: 8, Length: 4},
	}
	got := SliceOffsets([]byte("ABx    *   "), cols)
	want := RawRecord{"AB", "x", "*"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cell %d: got %q want %q (all=%q)", i, got[i], want[i], got)
		}
	}

	short := SliceOffsets([]byte("AB"), cols)
	if short[0] != "AB" || short[1] != "" || short[2] != "" {
		t.Fatalf("short line: got %q", short)
	}
}

func TestSliceOffsets_DecodesLatin1PerCell(t *testing.T) {
	t.Parallel()

	cols := []schema.ColumnSpec{
		{Name: "NAME", Start: 1, Length: 4},
		{Name: "CODE", Start: 5, Length: 2},
	}
	got := SliceOffsets([]byte("Jos\xe9XY"), cols)
	if got[0] != "José" || got[1] != "XY" {
		t.Fatalf("got %q", got)
	}
}

// Writing values padded to their README widths and slicing them back must
// return the original values.
func TestOffsetRoundTrip(t *testing.T) {
	t.Parallel()

	cols := []schema.ColumnSpec{
		{Name: "DISTRICT", Start: 1, Length: 2},
		{Name: "CASEID", Start: 3, Length: 10},
		{Name: "FILINGDATE", Start: 13, Length: 11},
	}
	values := []string{"01", "123", "15-MAR-1999"}

	var b strings.Builder
	for i, c := range cols {
		b.WriteString(values[i])
		b.WriteString(strings.Repeat(" ", c.Length-len(values[i])))
	}

	got := SliceOffsets([]byte(b.String()), cols)
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("field %s: got %q want %q", cols[i].Name, got[i], values[i])
		}
	}
}

func TestRowReader_SkipsBlankLinesAndScrubsCR(t *testing.T) {
	t.Parallel()

	ts := schema.TableSchema{Name: "T", Columns: []schema.ColumnSpec{
		{Name: "A", Start: 1, Length: 2},
		{Name: "B", Start: 3, Length: 3},
	}}
	src := "01abc\r\n\r\n02d\rf\n03xyz"
	rr := NewRowReader(strings.NewReader(src), ts)

	var got []RawRecord
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, rec)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d: %q", len(got), got)
	}
	if got[1][1] != "d f" {
		t.Fatalf("CR inside record not scrubbed: %q", got[1][1])
	}
	if got[2][0] != "03" || got[2][1] != "xyz" {
		t.Fatalf("last record without newline: %q", got[2])
	}
}

func TestParseDivider_Widths(t *testing.T) {
	t.Parallel()

	spans := ParseDivider("----  ---------")
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %v", spans)
	}
	if w := spans[0].End - spans[0].Start; w != 4 {
		t.Fatalf("first width: got %d want 4", w)
	}
	if w := spans[1].End - spans[1].Start; w != 9 {
		t.Fatalf("second width: got %d want 9", w)
	}
	if spans[1].Start != 6 {
		t.Fatalf("second start: got %d want 6", spans[1].Start)
	}
}

func TestHeaderName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"CaseNumber":          "CASE_NUMBER",
		"RedactedCaseNumber":  "redacted_CASE_NUMBER",
		"redacted_CaseNumber": "redacted_CASE_NUMBER",
		"Code":                "CODE",
		"Redactedness":        "REDACTEDNESS",
		" Description ":       "DESCRIPTION",
	}
	for in, want := range cases {
		if got := HeaderName(in); got != want {
			t.Errorf("HeaderName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsRedacted(t *testing.T) {
	t.Parallel()

	for _, c := range []string{"*", " * ", "*\t"} {
		if !IsRedacted(c) {
			t.Errorf("IsRedacted(%q) = false", c)
		}
	}
	for _, c := range []string{"", "**", "a*", "-"} {
		if IsRedacted(c) {
			t.Errorf("IsRedacted(%q) = true", c)
		}
	}
}

func TestParseDividerTable(t *testing.T) {
	t.Parallel()

	text := "Code  Description\r\n----  -----------\r\nA     Acquitted\r\n\r\nB     *\nC"
	tbl, err := ParseDividerTable(text)
	if err != nil {
		t.Fatalf("ParseDividerTable: %v", err)
	}
	if len(tbl.Headers) != 2 || tbl.Headers[0] != "CODE" || tbl.Headers[1] != "DESCRIPTION" {
		t.Fatalf("headers: %q", tbl.Headers)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("expected 3 rows (blank skipped), got %d: %q", len(tbl.Rows), tbl.Rows)
	}
	if tbl.Rows[1][1] != "*" || tbl.Rows[2][0] != "C" || tbl.Rows[2][1] != "" {
		t.Fatalf("rows: %q", tbl.Rows)
	}

	if _, err := ParseDividerTable("Code\nnot a divider\n"); err == nil {
		t.Fatalf("expected error for missing divider")
	}
}

const sampleGlobal = `LIONS GLOBAL REFERENCE TABLES

GS_DISTRICT

DistrictCode  DistrictName
------------  ------------
01            Maine
02            *

GS_STATUS

StatusCode  RedactedFlag
----------  ------------
O           N
`

func TestSplitGlobalSections(t *testing.T) {
	t.Parallel()

	secs, err := SplitGlobalSections(sampleGlobal)
	if err != nil {
		t.Fatalf("SplitGlobalSections: %v", err)
	}
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d: %#v", len(secs), secs)
	}
	if secs[0].Name != "GS_DISTRICT" || secs[1].Name != "GS_STATUS" {
		t.Fatalf("names: %q %q", secs[0].Name, secs[1].Name)
	}

	tbl, err := ParseDividerTable(secs[0].Body)
	if err != nil {
		t.Fatalf("ParseDividerTable: %v", err)
	}
	if tbl.Headers[0] != "DISTRICT_CODE" || len(tbl.Rows) != 2 {
		t.Fatalf("table: %#v", tbl)
	}
}

func TestSplitGlobalSections_Duplicate(t *testing.T) {
	t.Parallel()

	text := sampleGlobal + "\nGS_STATUS\n\nA\n-\nx\n"
	_, err := SplitGlobalSections(text)
	var amb *schema.AmbiguousTableBoundaryError
	if !errors.As(err, &amb) || amb.Table != "GS_STATUS" {
		t.Fatalf("expected ambiguous GS_STATUS, got %v", err)
	}
}

func TestExtractLookupTable(t *testing.T) {
	t.Parallel()

	text := "Lookup table GS_DISP for dispositions\n\nDispCode  Text\n--------  ----\nA         Acq\n\nEnd of file\n"
	name, body, err := ExtractLookupTable(text)
	if err != nil {
		t.Fatalf("ExtractLookupTable: %v", err)
	}
	if name != "GS_DISP" {
		t.Fatalf("name: %q", name)
	}
	if body != "DispCode  Text\n--------  ----\nA         Acq" {
		t.Fatalf("body: %q", body)
	}

	_, body, err = ExtractLookupTable("Table GS_X\n\nA\n-\n1\n")
	if err != nil || body != "A\n-\n1" {
		t.Fatalf("single blank run: body=%q err=%v", body, err)
	}

	if _, _, err := ExtractLookupTable("no name here\n\nA\n-\n"); err == nil {
		t.Fatalf("expected error without GS_ name")
	}
}
