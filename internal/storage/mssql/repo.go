package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ncd/internal/ddl"
	"ncd/internal/schema"
	"ncd/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for Microsoft SQL Server.
//
// cfg.Database is used as the SQL Server schema (default dbo). Tables are
// created behind OBJECT_ID guards since SQL Server has no
// CREATE TABLE IF NOT EXISTS.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The binary must
//     register the "sqlserver" driver elsewhere (internal/storage/all does).
type Repo struct {
	db     dbConn
	schema string
}

// New opens a database/sql handle on the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty bulk loads.
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}, schema: schemaOrDefault(cfg.Database)}, nil
}

func schemaOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return "dbo"
	}
	return s
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureDatabase creates the target schema if missing. CREATE SCHEMA must be
// the only statement in its batch, hence EXEC.
func (r *Repo) EnsureDatabase(ctx context.Context) error {
	if r.schema == "dbo" {
		return nil
	}
	q := fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s');",
		escapeLiteral(r.schema), escapeLiteral(mssqlIdent(r.schema)))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create schema %s: %w", r.schema, err)
	}
	return nil
}

// CreateTable drops t first when t.Replace, then creates it if missing.
func (r *Repo) CreateTable(ctx context.Context, t ddl.Table) error {
	stmts, err := buildCreateSQL(r.schema, t)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows inserts rows with multi-row INSERT ... VALUES statements.
//
// Statements are chunked to stay under SQL Server's limits of 2100 parameters
// and 1000 row constructors per VALUES clause.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", table)
	}

	maxRows := rowsPerStatement(len(columns))
	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		q, args := buildBulkInsertSQL(qualify(r.schema, table), columns, rows[start:end])

		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// DeletePartition removes every row previously loaded for district.
func (r *Repo) DeletePartition(ctx context.Context, table, district string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = @p1;",
		mssqlTableIdent(qualify(r.schema, table)), mssqlIdent(ddl.PartitionColumn.Name))
	if _, err := r.db.ExecContext(ctx, q, district); err != nil {
		return fmt.Errorf("delete partition %s/%s: %w", table, district, err)
	}
	return nil
}

func rowsPerStatement(columns int) int {
	n := 2000 / max(1, columns)
	return max(1, min(n, 1000))
}

func qualify(schemaName, table string) string {
	return schemaName + "." + table
}

// buildCreateSQL returns an optional guarded DROP followed by a guarded CREATE.
func buildCreateSQL(schemaName string, t ddl.Table) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("mssql: table name is empty")
	}
	cols := t.StoredColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		typ, err := mssqlType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("mssql: table %s column %s: %w", t.Name, c.Name, err)
		}
		defs = append(defs, fmt.Sprintf("%s %s NULL", mssqlIdent(c.Name), typ))
	}

	name := qualify(schemaName, t.Name)
	var stmts []string
	if t.Replace {
		stmts = append(stmts, fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
			escapeLiteral(name), mssqlTableIdent(name)))
	}
	stmts = append(stmts, wrapCreateIfMissing(name, strings.Join(defs, ", ")))
	return stmts, nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		escapeLiteral(tableName),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func mssqlType(t ddl.Type) (string, error) {
	switch t {
	case schema.String:
		return "NVARCHAR(MAX)", nil
	case schema.BigInt:
		return "BIGINT", nil
	case schema.Date:
		return "DATE", nil
	case schema.Double:
		return "FLOAT", nil
	case schema.Boolean:
		return "BIT", nil
	}
	return "", fmt.Errorf("no SQL Server type for %q", t)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.GS_CASE" -> [dbo].[GS_CASE]
func mssqlTableIdent(name string) string {
	parts := strings.SplitN(name, ".", 2)
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
