package ddl

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"ncd/internal/fixedwidth"
	"ncd/internal/schema"
)

func caseSchema() schema.TableSchema {
	return schema.TableSchema{Name: "GS_CASE", Columns: []schema.ColumnSpec{
		{Name: "DISTRICT", Start: 1, Length: 2, DeclaredType: "VARCHAR2(2)"},
		{Name: "CASEID", Start: 3, Length: 10, DeclaredType: "NUMBER(10)"},
		{Name: "FILINGDATE", Start: 13, Length: 11, DeclaredType: "DATE"},
	}}
}

func TestForNormal_Unpartitioned(t *testing.T) {
	t.Parallel()

	tbl, err := ForNormal(caseSchema(), false)
	if err != nil {
		t.Fatalf("ForNormal: %v", err)
	}
	want := []Column{
		{"DISTRICT", schema.String},
		{"CASEID", schema.BigInt},
		{"FILINGDATE", schema.Date},
		{"redacted_DISTRICT", schema.Boolean},
		{"redacted_CASEID", schema.Boolean},
		{"redacted_FILINGDATE", schema.Boolean},
	}
	if len(tbl.Columns) != len(want) {
		t.Fatalf("columns: %#v", tbl.Columns)
	}
	for i := range want {
		if tbl.Columns[i] != want[i] {
			t.Fatalf("column %d: got %#v want %#v", i, tbl.Columns[i], want[i])
		}
	}
	if tbl.Partitioned || !tbl.Replace {
		t.Fatalf("unpartitioned table must replace: %#v", tbl)
	}
	if got := tbl.StoredColumns(); len(got) != len(want) {
		t.Fatalf("unpartitioned StoredColumns must not add the partition key: %#v", got)
	}
}

func TestForNormal_Partitioned(t *testing.T) {
	t.Parallel()

	tbl, err := ForNormal(caseSchema(), true)
	if err != nil {
		t.Fatalf("ForNormal: %v", err)
	}
	if !tbl.Partitioned || tbl.Replace {
		t.Fatalf("partitioned table must be IF NOT EXISTS: %#v", tbl)
	}
	stored := tbl.StoredColumns()
	if last := stored[len(stored)-1]; last != PartitionColumn {
		t.Fatalf("last stored column: %#v", last)
	}
	for _, c := range tbl.Columns {
		if c.Name == PartitionColumn.Name {
			t.Fatalf("partition key must not be a data column")
		}
	}

	sql := RenderExternal("ncd", tbl, "file:///data/tables/gs_case/")
	for _, frag := range []string{
		"CREATE EXTERNAL TABLE IF NOT EXISTS `ncd`.`gs_case`",
		"`FILINGDATE` date",
		"`redacted_CASEID` boolean",
		"PARTITIONED BY (`filename_district` string)",
		"JsonSerDe",
		"LOCATION 'file:///data/tables/gs_case/'",
	} {
		if !strings.Contains(sql, frag) {
			t.Fatalf("external DDL missing %q:\n%s", frag, sql)
		}
	}
}

func TestForStrings(t *testing.T) {
	t.Parallel()

	tbl, err := ForStrings("GS_DISTRICT", []string{"DISTRICT_CODE", "DISTRICT_NAME"})
	if err != nil {
		t.Fatalf("ForStrings: %v", err)
	}
	if !tbl.Replace || tbl.Partitioned {
		t.Fatalf("global tables always replace: %#v", tbl)
	}
	want := []string{"DISTRICT_CODE", "DISTRICT_NAME", "redacted_DISTRICT_CODE", "redacted_DISTRICT_NAME"}
	if got := names(tbl.Columns); !slices.Equal(got, want) {
		t.Fatalf("names: %v", got)
	}
	if tbl.Columns[1].Type != schema.String || tbl.Columns[3].Type != schema.Boolean {
		t.Fatalf("types: %#v", tbl.Columns)
	}
	if sql := RenderExternal("ncd", tbl, "x"); strings.Contains(sql, "PARTITIONED BY") {
		t.Fatalf("unpartitioned table rendered with partition clause:\n%s", sql)
	}
}

// A header that already carries the redaction prefix is the flag for its base
// column; neither gets a generated companion.
func TestForStrings_SourceRedactionFlags(t *testing.T) {
	t.Parallel()

	dt, err := fixedwidth.ParseDividerTable("CaseNumber  RedactedCaseNumber  Office\n" +
		"----------  ------------------  ------\n" +
		"123         N                   AB\n")
	if err != nil {
		t.Fatalf("ParseDividerTable: %v", err)
	}
	tbl, err := ForStrings("GS_FLAGGED", dt.Headers)
	if err != nil {
		t.Fatalf("ForStrings: %v", err)
	}
	want := []string{"CASE_NUMBER", "redacted_CASE_NUMBER", "OFFICE", "redacted_OFFICE"}
	if got := names(tbl.Columns); !slices.Equal(got, want) {
		t.Fatalf("names: %v, want %v", got, want)
	}
}

func TestForStrings_DuplicateColumn(t *testing.T) {
	t.Parallel()

	_, err := ForStrings("GS_DUP", []string{"CODE", "NAME", "CODE"})
	var dce *DuplicateColumnError
	if !errors.As(err, &dce) || dce.Table != "GS_DUP" || dce.Column != "CODE" {
		t.Fatalf("expected DuplicateColumnError for GS_DUP.CODE, got %v", err)
	}
}

func TestForNormal_DuplicateColumn(t *testing.T) {
	t.Parallel()

	ts := schema.TableSchema{Name: "GS_X", Columns: []schema.ColumnSpec{
		{Name: "A", Start: 1, Length: 1, DeclaredType: "VARCHAR2(1)"},
		{Name: "A", Start: 2, Length: 1, DeclaredType: "VARCHAR2(1)"},
	}}
	var dce *DuplicateColumnError
	if _, err := ForNormal(ts, false); !errors.As(err, &dce) || dce.Table != "GS_X" {
		t.Fatalf("expected DuplicateColumnError, got %v", err)
	}
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func TestRenderHelpers(t *testing.T) {
	t.Parallel()

	tbl := Table{Name: "GS_CASE"}
	if got := RenderDrop("ncd", tbl); got != "DROP TABLE IF EXISTS `ncd`.`gs_case`" {
		t.Fatalf("drop: %q", got)
	}
	if got := RenderRepair("ncd", tbl); got != "MSCK REPAIR TABLE `ncd`.`gs_case`" {
		t.Fatalf("repair: %q", got)
	}
	if got := RenderCreateDatabase("ncd"); got != "CREATE DATABASE IF NOT EXISTS `ncd`" {
		t.Fatalf("create database: %q", got)
	}
}
