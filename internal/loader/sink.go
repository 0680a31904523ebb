package loader

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"

	"ncd/internal/ddl"
	"ncd/internal/metrics"
	"ncd/internal/record"
	"ncd/internal/storage"
)

// sink routes normalized records of one table file to storage.
type sink interface {
	// open starts one file of t. district is empty for unpartitioned tables.
	open(ctx context.Context, t ddl.Table, district string) (writer, error)
	// finish runs once after every file of t has been committed.
	finish(ctx context.Context, t ddl.Table) error
}

type writer interface {
	add(ctx context.Context, rec record.Record) error
	commit(ctx context.Context) error
	abort()
}

// newSink picks the write path a backend supports. Object stores win over row
// stores when a backend offers both.
func newSink(repo storage.Repository, batchSize int, job, tempDir string) (sink, error) {
	if up, ok := repo.(storage.BlobUploader); ok {
		return &blobSink{up: up, batchSize: batchSize, job: job, tempDir: tempDir}, nil
	}
	if ins, ok := repo.(storage.RowInserter); ok {
		del, _ := repo.(storage.PartitionDeleter)
		return &rowSink{ins: ins, del: del, batchSize: batchSize, job: job}, nil
	}
	return nil, fmt.Errorf("storage backend %T can neither insert rows nor upload blobs", repo)
}

// ---- relational path ----

type rowSink struct {
	ins       storage.RowInserter
	del       storage.PartitionDeleter
	batchSize int
	job       string
}

func (s *rowSink) open(ctx context.Context, t ddl.Table, district string) (writer, error) {
	if t.Partitioned && s.del != nil {
		if err := s.del.DeletePartition(ctx, t.Name, district); err != nil {
			return nil, err
		}
	}
	stored := t.StoredColumns()
	cols := make([]string, len(stored))
	for i, c := range stored {
		cols[i] = c.Name
	}
	w := &rowWriter{sink: s, table: t.Name, columns: cols, batch: make([]*record.Row, 0, min(s.batchSize, 4096))}
	if t.Partitioned {
		w.district = district
	}
	return w, nil
}

func (s *rowSink) finish(context.Context, ddl.Table) error { return nil }

type rowWriter struct {
	sink     *rowSink
	table    string
	columns  []string
	district string
	batch    []*record.Row
	rows     [][]any
}

func (w *rowWriter) add(ctx context.Context, rec record.Record) error {
	r := record.GetRow(len(w.columns))
	r.V = rec.AppendValues(r.V)
	if w.district != "" {
		r.V = append(r.V, w.district)
	}
	w.batch = append(w.batch, r)
	if len(w.batch) >= w.sink.batchSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *rowWriter) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	w.rows = w.rows[:0]
	for _, r := range w.batch {
		w.rows = append(w.rows, r.V)
	}
	_, err := w.sink.ins.InsertRows(ctx, w.table, w.columns, w.rows)
	clear(w.rows)
	if err != nil {
		w.abort()
		return err
	}
	for _, r := range w.batch {
		r.Free()
	}
	w.batch = w.batch[:0]
	metrics.RecordBatch(w.sink.job)
	return nil
}

func (w *rowWriter) commit(ctx context.Context) error { return w.flush(ctx) }

func (w *rowWriter) abort() {
	for _, r := range w.batch {
		r.Drop()
	}
	w.batch = w.batch[:0]
}

// ---- object-store path ----

type blobSink struct {
	up        storage.BlobUploader
	batchSize int
	job       string
	tempDir   string
}

func (s *blobSink) open(ctx context.Context, t ddl.Table, district string) (writer, error) {
	if !t.Partitioned {
		district = ""
	}
	f, err := os.CreateTemp(s.tempDir, "ncd-blob-*.json.gz")
	if err != nil {
		return nil, fmt.Errorf("blob spool: %w", err)
	}
	bw := bufio.NewWriterSize(f, 256*1024)
	return &blobWriter{sink: s, table: t.Name, district: district, f: f, bw: bw, gz: gzip.NewWriter(bw)}, nil
}

func (s *blobSink) finish(ctx context.Context, t ddl.Table) error {
	if !t.Partitioned {
		return nil
	}
	return s.up.RepairPartitions(ctx, t.Name)
}

// blobWriter spools gzipped JSON lines to a temp file and uploads it on
// commit. One table file becomes exactly one blob.
type blobWriter struct {
	sink     *blobSink
	table    string
	district string
	f        *os.File
	bw       *bufio.Writer
	gz       *gzip.Writer
	pending  int
}

func (w *blobWriter) add(ctx context.Context, rec record.Record) error {
	line, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := w.gz.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("blob spool: %w", err)
	}
	w.pending++
	if w.pending >= w.sink.batchSize {
		w.pending = 0
		metrics.RecordBatch(w.sink.job)
		return ctx.Err()
	}
	return nil
}

func (w *blobWriter) commit(ctx context.Context) error {
	defer w.cleanup()
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("blob spool: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("blob spool: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("blob spool: %w", err)
	}
	if err := w.sink.up.UploadBlob(ctx, w.table, w.f, w.district); err != nil {
		return err
	}
	if w.pending > 0 {
		metrics.RecordBatch(w.sink.job)
	}
	return nil
}

func (w *blobWriter) abort() { w.cleanup() }

func (w *blobWriter) cleanup() {
	if w.f == nil {
		return
	}
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
	w.f = nil
}
