// Package storage defines the collaborator the loader writes through and a
// kind -> factory registry for the concrete backends.
//
// Every backend implements Repository. Row stores additionally implement
// RowInserter (and usually PartitionDeleter); object stores implement
// BlobUploader. The loader picks its write path by type assertion.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"ncd/internal/ddl"
)

// Config is the minimal configuration needed to open a backend.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - DSN is passed through to the backend; its meaning is backend-specific
//     (connection string, SQLite path, object-store root directory).
//   - Database names the target schema or query database. Backends that have
//     no such concept ignore it.
type Config struct {
	Kind     string
	DSN      string
	Database string
}

// Repository is the capability every backend provides.
type Repository interface {
	// EnsureDatabase creates the target schema/database if missing.
	EnsureDatabase(ctx context.Context) error

	// CreateTable creates t. When t.Replace is set, an existing table is
	// dropped first; otherwise creating an existing table is a no-op.
	CreateTable(ctx context.Context, t ddl.Table) error

	// Close releases backend resources. Call once.
	Close()
}

// RowInserter is implemented by row stores.
//
// columns matches each row positionally. Implementations must not retain rows
// after returning.
type RowInserter interface {
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// PartitionDeleter is implemented by row stores that keep the district
// partition key as a column. The loader deletes a district before reloading
// it so a rerun does not duplicate rows.
type PartitionDeleter interface {
	DeletePartition(ctx context.Context, table, district string) error
}

// BlobUploader is implemented by object stores that hold one gzipped JSON-lines
// blob per table file and expose them through external tables.
type BlobUploader interface {
	// PrefixForTable returns the object prefix all blobs of table live under.
	PrefixForTable(table string) string

	// UploadBlob stores one blob. district is empty for unpartitioned tables.
	UploadBlob(ctx context.Context, table string, blob io.Reader, district string) error

	// RepairPartitions makes the query engine see partitions uploaded since
	// the last repair.
	RepairPartitions(ctx context.Context, table string) error
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind. Call it from an init function in
// the backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens the backend registered for cfg.Kind.
//
// Errors:
//   - If cfg.Kind is empty or unsupported.
//   - Whatever the backend factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
