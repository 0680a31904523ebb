// Package ddl builds backend-neutral table definitions for loaded tables and
// renders them for the external-table query engine. Relational backends render
// their own dialects from the same Table value.
package ddl

import (
	"fmt"
	"strings"

	"ncd/internal/record"
	"ncd/internal/schema"
)

// Type is a backend-neutral column type.
type Type = schema.StorageType

// Column is one named, typed column.
type Column struct {
	Name string
	Type Type
}

// PartitionColumn is the partition key of district-split tables.
var PartitionColumn = Column{Name: "filename_district", Type: schema.String}

// Table describes one table to create.
//
// Replace means prior contents are dropped before creation; otherwise creation
// is IF NOT EXISTS. Partitioned tables are never replaced, so districts from
// successive files accumulate.
type Table struct {
	Name        string
	Columns     []Column // data columns then redaction companions
	Partitioned bool
	Replace     bool
}

// StoredColumns returns the columns a row store materializes: Columns plus the
// partition key as a trailing column when the table is partitioned.
func (t Table) StoredColumns() []Column {
	if !t.Partitioned {
		return t.Columns
	}
	out := make([]Column, 0, len(t.Columns)+1)
	out = append(out, t.Columns...)
	return append(out, PartitionColumn)
}

// ForNormal builds the definition of a README-described table.
//
// Errors:
//   - *schema.UnsupportedTypeError for an unknown declared type.
func ForNormal(ts schema.TableSchema, partitioned bool) (Table, error) {
	mappings, err := schema.MapColumns(ts)
	if err != nil {
		return Table{}, err
	}
	names := make([]string, len(ts.Columns))
	types := make([]Type, len(ts.Columns))
	for i, c := range ts.Columns {
		names[i] = c.Name
		types[i] = mappings[i].Storage
	}
	cols, err := withCompanions(ts.Name, names, types)
	if err != nil {
		return Table{}, err
	}
	return Table{
		Name:        ts.Name,
		Columns:     cols,
		Partitioned: partitioned,
		Replace:     !partitioned,
	}, nil
}

// ForStrings builds the definition of an untyped global or lookup table. Such
// tables are always fully reloaded.
//
// Errors:
//   - *DuplicateColumnError when two headers convert to the same name.
func ForStrings(name string, columns []string) (Table, error) {
	types := make([]Type, len(columns))
	for i := range types {
		types[i] = schema.String
	}
	cols, err := withCompanions(name, columns, types)
	if err != nil {
		return Table{}, err
	}
	return Table{Name: name, Columns: cols, Replace: true}, nil
}

// DuplicateColumnError reports two columns of one table with the same name.
type DuplicateColumnError struct {
	Table  string
	Column string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("table %s: duplicate column %s", e.Table, e.Column)
}

// withCompanions lists data columns then the generated redaction companions.
// Columns the source already flags get none; see record.NeedsCompanion.
func withCompanions(table string, names []string, types []Type) ([]Column, error) {
	needs := record.NeedsCompanion(names)
	out := make([]Column, 0, 2*len(names))
	for i, n := range names {
		out = append(out, Column{Name: n, Type: types[i]})
	}
	for i, n := range names {
		if needs[i] {
			out = append(out, Column{Name: record.CompanionName(n), Type: schema.Boolean})
		}
	}
	seen := make(map[string]bool, len(out))
	for _, c := range out {
		if seen[c.Name] {
			return nil, &DuplicateColumnError{Table: table, Column: c.Name}
		}
		seen[c.Name] = true
	}
	return out, nil
}

// RenderCreateDatabase renders the statement creating the query database.
func RenderCreateDatabase(database string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", hiveIdent(database))
}

// RenderDrop renders DROP TABLE IF EXISTS.
func RenderDrop(database string, t Table) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified(database, t.Name))
}

// RenderRepair renders the statement that makes the query engine discover
// partition directories written since the last repair.
func RenderRepair(database string, t Table) string {
	return fmt.Sprintf("MSCK REPAIR TABLE %s", qualified(database, t.Name))
}

// RenderExternal renders a Hive-style external table over gzipped JSON lines
// stored under location.
func RenderExternal(database string, t Table, location string) string {
	var b strings.Builder
	b.WriteString("CREATE EXTERNAL TABLE IF NOT EXISTS ")
	b.WriteString(qualified(database, t.Name))
	b.WriteString(" (\n")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  %s %s", hiveIdent(c.Name), hiveType(c.Type))
	}
	b.WriteString("\n)")
	if t.Partitioned {
		fmt.Fprintf(&b, "\nPARTITIONED BY (%s %s)", hiveIdent(PartitionColumn.Name), hiveType(PartitionColumn.Type))
	}
	b.WriteString("\nROW FORMAT SERDE 'org.openx.data.jsonserde.JsonSerDe'")
	fmt.Fprintf(&b, "\nLOCATION '%s'", strings.ReplaceAll(location, "'", "''"))
	return b.String()
}

func hiveType(t Type) string {
	switch t {
	case schema.BigInt:
		return "bigint"
	case schema.Date:
		return "date"
	case schema.Double:
		return "double"
	case schema.Boolean:
		return "boolean"
	default:
		return "string"
	}
}

func hiveIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func qualified(database, table string) string {
	if database == "" {
		return hiveIdent(strings.ToLower(table))
	}
	return hiveIdent(database) + "." + hiveIdent(strings.ToLower(table))
}
