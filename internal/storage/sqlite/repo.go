package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ncd/internal/ddl"
	"ncd/internal/schema"
	"ncd/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key differences from Postgres:
//   - SQLite has no native DATE type. DATE columns are declared DATE (NUMERIC
//     affinity) but values are written as "YYYY-MM-DD" text so they sort and
//     compare correctly and stay readable.
//   - There is one schema per file; cfg.Database is ignored.
//   - Multi-row inserts are chunked to stay under the bound-parameter limit.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// maxParams stays below SQLITE_MAX_VARIABLE_NUMBER (32766 since 3.32).
const maxParams = 32000

// New opens the database file named by cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureDatabase is a no-op: the database file is the database.
func (r *Repo) EnsureDatabase(ctx context.Context) error { return nil }

// CreateTable drops (when t.Replace) and creates t.
func (r *Repo) CreateTable(ctx context.Context, t ddl.Table) error {
	stmts, err := buildCreateSQL(t)
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

// InsertRows inserts rows in one transaction using chunked multi-row INSERTs.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	perStmt := maxParams / len(columns)
	if perStmt < 1 {
		perStmt = 1
	}

	var total int64
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// DeletePartition removes every row previously loaded for district.
func (r *Repo) DeletePartition(ctx context.Context, table, district string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, sqlIdent(table), sqlIdent(ddl.PartitionColumn.Name))
	if _, err := r.db.ExecContext(ctx, q, district); err != nil {
		return fmt.Errorf("delete partition %s/%s: %w", table, district, err)
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(t ddl.Table) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	cols := t.StoredColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns", t.Name)
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		defs = append(defs, sqlIdent(c.Name)+" "+typ)
	}

	var stmts []string
	if t.Replace {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+sqlIdent(t.Name))
	}
	stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", ")))
	return stmts, nil
}

func sqliteType(t ddl.Type) (string, error) {
	switch t {
	case schema.String:
		return "TEXT", nil
	case schema.BigInt:
		return "INTEGER", nil
	case schema.Date:
		return "DATE", nil
	case schema.Double:
		return "REAL", nil
	case schema.Boolean:
		return "BOOLEAN", nil
	}
	return "", fmt.Errorf("no sqlite type for %q", t)
}

// buildInsertSQL builds one multi-row INSERT and its args, converting DATE
// values to text.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, sqliteValue(v))
		}
	}
	return b.String(), args
}

func sqliteValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatSQLiteDate(t)
	}
	return v
}

// formatSQLiteDate formats a calendar date as YYYY-MM-DD.
func formatSQLiteDate(t time.Time) string {
	return t.Format(schema.ISODateLayout)
}
