// Package loader drives the load of one National Caseload Data archive:
// README schemas, then normal tables, then the global reference file, then
// the standalone lookup files.
//
// A Loader is sequential and not retryable; a failed archive is reloaded from
// the start. Normal-table districts are idempotent on reload (partitions are
// replaced), every other table is dropped and recreated.
package loader

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ncd/internal/ddl"
	"ncd/internal/fixedwidth"
	"ncd/internal/manifest"
	"ncd/internal/metrics"
	"ncd/internal/record"
	"ncd/internal/schema"
	"ncd/internal/storage"
)

const globalFileName = fixedwidth.GlobalFileName

// ReadmeName is the archive member holding the normal-table layouts.
const ReadmeName = "README.txt"

// DefaultBatchSize is used when Loader.BatchSize is not positive.
const DefaultBatchSize = 100000

// Logger is the minimal logging interface used by the loader.
// *log.Logger and zerolog.Logger satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// TableKind says where a table came from.
type TableKind string

const (
	KindNormal TableKind = "normal"
	KindGlobal TableKind = "global"
	KindLookup TableKind = "lookup"
)

// TableResult is the outcome of one loaded table.
type TableResult struct {
	Name           string
	Kind           TableKind
	Files          int
	Rows           int64
	RedactedCells  int64
	MalformedCells int64
	Partitioned    bool
}

// Summary reports a completed archive load.
type Summary struct {
	Archive string
	RunID   string
	Tables  []TableResult
}

// Loader loads archives into Repo.
type Loader struct {
	Repo   storage.Repository
	Logger Logger

	// BatchSize is the number of rows handed to the backend at once.
	BatchSize int
	// Job labels metrics. Defaults to "ncd".
	Job string
	// TempDir holds blob spool files; empty means os.TempDir.
	TempDir string

	// NewRunID is a seam for tests; defaults to uuid.NewString.
	NewRunID func() string

	state atomic.Int32
}

// State returns the current state. It is safe to call from other goroutines.
func (l *Loader) State() State { return State(l.state.Load()) }

func (l *Loader) advance(s State) { l.state.Store(int32(s)) }

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return l.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// LoadFile opens the zip archive at path and loads it.
func (l *Loader) LoadFile(ctx context.Context, path string) (Summary, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Summary{}, &LoadError{Archive: filepath.Base(path), State: StateOpen, Err: err}
	}
	defer zr.Close()
	return l.Load(ctx, &zr.Reader, filepath.Base(path))
}

// run carries per-archive state through one Load call.
type run struct {
	l       *Loader
	archive string
	id      string
	job     string
	logf    func(format string, v ...any)
	members map[string]*zip.File
	names   []string
	sink    sink
	summary Summary
}

// Load loads every table of the archive.
//
// Errors:
//   - *LoadError wrapping ErrMissingReadme when the README is absent.
//   - *LoadError wrapping the first table or file failure; the load stops
//     there and tables loaded earlier are left in place.
func (l *Loader) Load(ctx context.Context, zr *zip.Reader, archive string) (Summary, error) {
	l.advance(StateOpen)
	if l.Repo == nil {
		return Summary{}, &LoadError{Archive: archive, State: StateOpen, Err: errors.New("loader: Repo is required")}
	}

	batch := l.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	job := l.Job
	if job == "" {
		job = "ncd"
	}
	newID := l.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}

	r := &run{l: l, archive: archive, id: newID(), job: job, logf: l.logger(), members: map[string]*zip.File{}}
	r.summary = Summary{Archive: archive, RunID: r.id}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		r.members[f.Name] = f
		r.names = append(r.names, f.Name)
	}
	sort.Strings(r.names)

	s, err := newSink(l.Repo, batch, job, l.TempDir)
	if err != nil {
		return r.summary, r.fail("", "", err)
	}
	r.sink = s

	start := time.Now()
	r.logf("stage=archive_start archive=%s run_id=%s members=%d", archive, r.id, len(r.names))
	if err := l.Repo.EnsureDatabase(ctx); err != nil {
		return r.summary, r.fail("", "", fmt.Errorf("ensure database: %w", err))
	}

	var schemas schema.Schemas
	steps := []struct {
		name string
		fn   func(context.Context) error
		next State
	}{
		{"schemas", func(context.Context) (err error) { schemas, err = r.readSchemas(); return err }, StateSchemasExtracted},
		{"normal", func(ctx context.Context) error { return r.loadNormal(ctx, schemas) }, StateNormalTablesLoaded},
		{"global", r.loadGlobal, StateGlobalLoaded},
		{"lookup", r.loadLookups, StateLookupsLoaded},
	}
	for _, st := range steps {
		stepStart := time.Now()
		err := st.fn(ctx)
		metrics.RecordStep(job, st.name, err, time.Since(stepStart))
		if err != nil {
			return r.summary, err
		}
		l.advance(st.next)
		r.logf("stage=%s ok state=%s duration=%s run_id=%s", st.name, st.next, durMS(stepStart), r.id)
	}

	l.advance(StateDone)
	r.logf("stage=archive_done archive=%s run_id=%s tables=%d duration=%s", archive, r.id, len(r.summary.Tables), durMS(start))
	return r.summary, nil
}

func (r *run) fail(table, file string, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	return &LoadError{Archive: r.archive, State: r.l.State(), Table: table, File: file, Err: err}
}

func (r *run) readMember(name string) ([]byte, error) {
	f, ok := r.members[name]
	if !ok {
		return nil, fmt.Errorf("member %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (r *run) readText(name string) (string, error) {
	b, err := r.readMember(name)
	if err != nil {
		return "", err
	}
	return schema.DecodeText(b), nil
}

func (r *run) readSchemas() (schema.Schemas, error) {
	name, ok := manifest.Find(r.names, ReadmeName)
	if !ok {
		return nil, r.fail("", "", ErrMissingReadme)
	}
	text, err := r.readText(name)
	if err != nil {
		return nil, r.fail("", name, err)
	}
	schemas, err := schema.ParseReadme(text)
	if err != nil {
		return nil, r.fail("", name, err)
	}
	r.logf("stage=schemas tables=%d file=%s", len(schemas), name)
	return schemas, nil
}

func (r *run) loadNormal(ctx context.Context, schemas schema.Schemas) error {
	for _, name := range schemas.Names() {
		if err := ctx.Err(); err != nil {
			return r.fail(name, "", err)
		}
		ts, _ := schemas.Lookup(name)
		if len(ts.Columns) == 0 {
			r.logf("stage=normal_skip table=%s reason=empty_schema", name)
			continue
		}
		fam, err := manifest.Resolve(r.names, name)
		if err != nil {
			return r.fail(name, "", err)
		}
		if fam.Empty() {
			r.logf("stage=normal_skip table=%s reason=no_data_files", name)
			continue
		}
		if err := r.loadNormalTable(ctx, ts, fam); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) loadNormalTable(ctx context.Context, ts schema.TableSchema, fam manifest.Family) error {
	start := time.Now()
	if err := ts.Validate(); err != nil {
		return r.fail(ts.Name, "", err)
	}
	norm, err := record.NewNormalizer(ts)
	if err != nil {
		return r.fail(ts.Name, "", err)
	}
	tbl, err := ddl.ForNormal(ts, fam.Partitioned)
	if err != nil {
		return r.fail(ts.Name, "", err)
	}
	if err := r.l.Repo.CreateTable(ctx, tbl); err != nil {
		return r.fail(ts.Name, "", fmt.Errorf("create table: %w", err))
	}

	for _, df := range fam.Files {
		if err := r.loadNormalFile(ctx, ts, tbl, norm, df); err != nil {
			return r.fail(ts.Name, df.Name, err)
		}
	}
	if err := r.sink.finish(ctx, tbl); err != nil {
		return r.fail(ts.Name, "", err)
	}

	r.record(TableResult{Name: ts.Name, Kind: KindNormal, Files: len(fam.Files), Partitioned: fam.Partitioned}, norm.Stats(), start)
	return nil
}

func (r *run) loadNormalFile(ctx context.Context, ts schema.TableSchema, tbl ddl.Table, norm *record.Normalizer, df manifest.DataFile) error {
	f, ok := r.members[df.Name]
	if !ok {
		return fmt.Errorf("member %s not found", df.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := r.sink.open(ctx, tbl, df.District)
	if err != nil {
		return err
	}
	rows := fixedwidth.NewRowReader(rc, ts)
	for {
		raw, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.abort()
			return fmt.Errorf("line %d: %w", rows.Line(), err)
		}
		if err := w.add(ctx, norm.Normalize(raw)); err != nil {
			w.abort()
			return fmt.Errorf("line %d: %w", rows.Line(), err)
		}
	}
	if err := w.commit(ctx); err != nil {
		return err
	}
	r.logf("stage=normal_file table=%s file=%s district=%s lines=%d", ts.Name, df.Name, df.District, rows.Line())
	return nil
}

func (r *run) loadGlobal(ctx context.Context) error {
	name, ok := manifest.Find(r.names, globalFileName)
	if !ok {
		r.logf("stage=global_skip archive=%s err=%q", r.archive, ErrMissingGlobalFile)
		return nil
	}
	text, err := r.readText(name)
	if err != nil {
		return r.fail("", name, err)
	}
	sections, err := fixedwidth.SplitGlobalSections(text)
	if err != nil {
		return r.fail("", name, err)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })

	for _, sec := range sections {
		dt, err := fixedwidth.ParseDividerTable(sec.Body)
		if err != nil {
			return r.fail(sec.Name, name, err)
		}
		if err := r.loadStringTable(ctx, KindGlobal, sec.Name, name, dt); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) loadLookups(ctx context.Context) error {
	for _, name := range manifest.LookupFiles(r.names) {
		text, err := r.readText(name)
		if err != nil {
			return r.fail("", name, err)
		}
		table, body, err := fixedwidth.ExtractLookupTable(text)
		if err != nil {
			return r.fail("", name, err)
		}
		dt, err := fixedwidth.ParseDividerTable(body)
		if err != nil {
			return r.fail(table, name, err)
		}
		if err := r.loadStringTable(ctx, KindLookup, table, name, dt); err != nil {
			return err
		}
	}
	return nil
}

// loadStringTable loads a divider-delimited table whose cells stay strings.
func (r *run) loadStringTable(ctx context.Context, kind TableKind, table, file string, dt fixedwidth.DividerTable) error {
	if err := ctx.Err(); err != nil {
		return r.fail(table, file, err)
	}
	if len(dt.Headers) == 0 {
		r.logf("stage=%s_skip table=%s reason=no_columns", kind, table)
		return nil
	}
	start := time.Now()
	tbl, err := ddl.ForStrings(table, dt.Headers)
	if err != nil {
		return r.fail(table, file, err)
	}
	if err := r.l.Repo.CreateTable(ctx, tbl); err != nil {
		return r.fail(table, file, fmt.Errorf("create table: %w", err))
	}

	norm := record.NewStringNormalizer(dt.Headers)
	w, err := r.sink.open(ctx, tbl, "")
	if err != nil {
		return r.fail(table, file, err)
	}
	for _, raw := range dt.Rows {
		if err := w.add(ctx, norm.Normalize(raw)); err != nil {
			w.abort()
			return r.fail(table, file, err)
		}
	}
	if err := w.commit(ctx); err != nil {
		return r.fail(table, file, err)
	}
	if err := r.sink.finish(ctx, tbl); err != nil {
		return r.fail(table, file, err)
	}

	r.record(TableResult{Name: table, Kind: kind, Files: 1}, norm.Stats(), start)
	return nil
}

func (r *run) record(res TableResult, st record.Stats, start time.Time) {
	res.Rows, res.RedactedCells, res.MalformedCells = st.Rows, st.Redacted, st.Malformed
	r.summary.Tables = append(r.summary.Tables, res)

	metrics.RecordRecords(r.job, metrics.KindRows, st.Rows)
	metrics.RecordRecords(r.job, metrics.KindRedacted, st.Redacted)
	metrics.RecordRecords(r.job, metrics.KindMalformed, st.Malformed)
	r.logf("stage=table table=%s kind=%s files=%d rows=%d redacted=%d malformed=%d partitioned=%t duration=%s run_id=%s",
		res.Name, res.Kind, res.Files, res.Rows, res.RedactedCells, res.MalformedCells, res.Partitioned, durMS(start), r.id)
}
