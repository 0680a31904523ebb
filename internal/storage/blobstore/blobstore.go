// Package blobstore is the object-store backend: every table file becomes one
// gzipped JSON-lines blob in a bucket, and tables are exposed to the query
// engine as external tables over the blob prefixes.
//
// Bucket layout:
//
//	tables/<table>/<table>.json.gz                                 unpartitioned
//	tables/<table>/filename_district=<D>/<table>-<D>.json.gz       partitioned
//	queries/statements.sql                                         DryRunLog output
//
// The DSN is either a local directory (opened with fileblob) or a bucket URL
// such as s3://bucket?region=us-east-1, file:///data/ncd or mem://.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"ncd/internal/ddl"
	"ncd/internal/storage"
)

func init() {
	storage.Register("blobstore", New)
}

// DefaultDatabase is used when the config names none.
const DefaultDatabase = "ncd"

// StatementLogKey is the object DryRunLog writes to.
const StatementLogKey = "queries/statements.sql"

// StatementSink receives the DDL meant for the external-table query engine.
type StatementSink interface {
	Exec(ctx context.Context, stmt string) error
}

// DryRunLog is a StatementSink that runs nothing. It records statements, in
// order, as a single object in the bucket so an operator can replay them.
type DryRunLog struct {
	bucket *blob.Bucket
	key    string

	mu     sync.Mutex
	loaded bool
	buf    bytes.Buffer
}

// NewDryRunLog records statements under key in bucket, appending to what an
// earlier run left there.
func NewDryRunLog(bucket *blob.Bucket, key string) *DryRunLog {
	return &DryRunLog{bucket: bucket, key: key}
}

func (l *DryRunLog) Exec(ctx context.Context, stmt string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		prev, err := l.bucket.ReadAll(ctx, l.key)
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("blobstore: statement log: %w", err)
		}
		l.buf.Write(prev)
		l.loaded = true
	}
	fmt.Fprintf(&l.buf, "%s;\n\n", stmt)
	if err := l.bucket.WriteAll(ctx, l.key, l.buf.Bytes(), &blob.WriterOptions{ContentType: "application/sql"}); err != nil {
		return fmt.Errorf("blobstore: statement log: %w", err)
	}
	return nil
}

// Store implements storage.Repository and storage.BlobUploader.
type Store struct {
	bucket   *blob.Bucket
	base     string // bucket URL used in table locations, no trailing slash
	database string
	stmts    StatementSink

	mu     sync.Mutex
	tables map[string]ddl.Table
}

// New opens the bucket named by cfg.DSN. Statements go to a DryRunLog in the
// same bucket.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	bucket, base, err := openBucket(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return NewWithBucket(bucket, base, cfg.Database, nil), nil
}

// NewWithBucket wraps an open bucket. base is the bucket URL written into
// table locations. A nil stmts records into a DryRunLog at StatementLogKey.
func NewWithBucket(bucket *blob.Bucket, base, database string, stmts StatementSink) *Store {
	if database == "" {
		database = DefaultDatabase
	}
	if stmts == nil {
		stmts = NewDryRunLog(bucket, StatementLogKey)
	}
	return &Store{
		bucket:   bucket,
		base:     strings.TrimSuffix(base, "/"),
		database: database,
		stmts:    stmts,
		tables:   map[string]ddl.Table{},
	}
}

func openBucket(ctx context.Context, dsn string) (*blob.Bucket, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, "", errors.New("blobstore: empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dir, err := filepath.Abs(dsn)
		if err != nil {
			return nil, "", fmt.Errorf("blobstore: %w", err)
		}
		b, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true, NoTempDir: true})
		if err != nil {
			return nil, "", fmt.Errorf("blobstore: open %s: %w", dir, err)
		}
		return b, "file://" + filepath.ToSlash(dir), nil
	}

	b, err := blob.OpenBucket(ctx, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: open %s: %w", dsn, err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		_ = b.Close()
		return nil, "", fmt.Errorf("blobstore: %w", err)
	}
	u.RawQuery = ""
	return b, u.String(), nil
}

func (s *Store) Close() { _ = s.bucket.Close() }

// EnsureDatabase issues CREATE DATABASE.
func (s *Store) EnsureDatabase(ctx context.Context) error {
	return s.stmts.Exec(ctx, ddl.RenderCreateDatabase(s.database))
}

// CreateTable issues DROP (when t.Replace) and CREATE EXTERNAL TABLE. A
// replaced table also loses its previous blobs.
func (s *Store) CreateTable(ctx context.Context, t ddl.Table) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("blobstore: table name is empty")
	}
	if t.Replace {
		if err := s.stmts.Exec(ctx, ddl.RenderDrop(s.database, t)); err != nil {
			return err
		}
		if err := s.deletePrefix(ctx, s.PrefixForTable(t.Name)); err != nil {
			return fmt.Errorf("blobstore: clear %s: %w", t.Name, err)
		}
	}
	if err := s.stmts.Exec(ctx, ddl.RenderExternal(s.database, t, s.base+"/"+s.PrefixForTable(t.Name))); err != nil {
		return err
	}

	s.mu.Lock()
	s.tables[t.Name] = t
	s.mu.Unlock()
	return nil
}

// PrefixForTable returns "tables/<table>/" with the table name lowercased.
func (s *Store) PrefixForTable(table string) string {
	return "tables/" + strings.ToLower(table) + "/"
}

// BlobKey returns the object key of one table file.
func (s *Store) BlobKey(table, district string) string {
	lower := strings.ToLower(table)
	if district == "" {
		return s.PrefixForTable(table) + lower + ".json.gz"
	}
	return s.PrefixForTable(table) + ddl.PartitionColumn.Name + "=" + district + "/" + lower + "-" + district + ".json.gz"
}

// UploadBlob writes r under the table file's key. Readers never see a partial
// object.
func (s *Store) UploadBlob(ctx context.Context, table string, r io.Reader, district string) error {
	key := s.BlobKey(table, district)
	if err := s.bucket.Upload(ctx, key, r, &blob.WriterOptions{ContentType: "application/gzip"}); err != nil {
		return fmt.Errorf("blobstore: upload %s: %w", key, err)
	}
	return nil
}

// RepairPartitions issues MSCK REPAIR TABLE for a partitioned table. It is a
// no-op for unpartitioned or unknown tables.
func (s *Store) RepairPartitions(ctx context.Context, table string) error {
	s.mu.Lock()
	t, ok := s.tables[table]
	s.mu.Unlock()
	if !ok || !t.Partitioned {
		return nil
	}
	return s.stmts.Exec(ctx, ddl.RenderRepair(s.database, t))
}

func (s *Store) deletePrefix(ctx context.Context, prefix string) error {
	var keys []string
	it := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}
	for _, k := range keys {
		if err := s.bucket.Delete(ctx, k); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
	return nil
}
