package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ncd/internal/ddl"
	"ncd/internal/schema"
	"ncd/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Schema creation (cfg.Database is used as the Postgres schema)
  - Drop-and-create or IF NOT EXISTS table creation, per ddl.Table.Replace
  - Bulk row loads through COPY
  - District deletes so a partition can be reloaded idempotently
*/
type Repo struct {
	conn   pgConn
	schema string
}

// pgConn is the subset of *pgxpool.Pool this package uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Close()
}

var _ pgConn = (*pgxpool.Pool)(nil)

// New creates a pool-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Repo{conn: pool, schema: cfg.Database}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.conn.Close()
}

// EnsureDatabase creates the target schema when one is configured.
func (r *Repo) EnsureDatabase(ctx context.Context) error {
	if r.schema == "" {
		return nil
	}
	if _, err := r.conn.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(r.schema))); err != nil {
		return fmt.Errorf("create schema %s: %w", r.schema, err)
	}
	return nil
}

// CreateTable runs the statements from buildCreateSQL in order.
func (r *Repo) CreateTable(ctx context.Context, t ddl.Table) error {
	stmts, err := buildCreateSQL(r.schema, t)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := r.conn.Exec(ctx, s); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows bulk-loads rows with COPY. DATE values arrive as time.Time and
// are encoded by pgx directly.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.conn.CopyFrom(ctx, copyIdent(r.schema, table), columns, pgx.CopyFromRows(rows))
}

// DeletePartition removes every row previously loaded for district.
func (r *Repo) DeletePartition(ctx context.Context, table, district string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1;`, tableIdent(r.schema, table), pgIdent(ddl.PartitionColumn.Name))
	if _, err := r.conn.Exec(ctx, q, district); err != nil {
		return fmt.Errorf("delete partition %s/%s: %w", table, district, err)
	}
	return nil
}

// buildCreateSQL returns the DDL for t: an optional DROP followed by
// CREATE TABLE IF NOT EXISTS. The partition key of a partitioned table is
// materialized as a trailing TEXT column.
//
// Pure, so it is unit-tested without a database.
func buildCreateSQL(schemaName string, t ddl.Table) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	cols := t.StoredColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns", t.Name)
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		typ, err := pgType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		defs = append(defs, pgIdent(c.Name)+" "+typ)
	}

	name := tableIdent(schemaName, t.Name)
	var stmts []string
	if t.Replace {
		stmts = append(stmts, fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, name))
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, name, strings.Join(defs, ", ")))
	return stmts, nil
}

func pgType(t ddl.Type) (string, error) {
	switch t {
	case schema.String:
		return "TEXT", nil
	case schema.BigInt:
		return "BIGINT", nil
	case schema.Date:
		return "DATE", nil
	case schema.Double:
		return "DOUBLE PRECISION", nil
	case schema.Boolean:
		return "BOOLEAN", nil
	}
	return "", fmt.Errorf("no postgres type for %q", t)
}

// pgIdent double-quotes an identifier, preserving the README's upper case.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func tableIdent(schemaName, table string) string {
	if schemaName == "" {
		return pgIdent(table)
	}
	return pgIdent(schemaName) + "." + pgIdent(table)
}

func copyIdent(schemaName, table string) pgx.Identifier {
	if schemaName == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{schemaName, table}
}
