package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocloud.dev/blob/memblob"

	"ncd/internal/ddl"
	"ncd/internal/storage"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithBucket(memblob.OpenBucket(nil), "mem://ncd", "", nil)
	t.Cleanup(s.Close)
	return s
}

func readKey(t *testing.T, s *Store, key string) string {
	t.Helper()
	b, err := s.bucket.ReadAll(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(b)
}

func exists(t *testing.T, s *Store, key string) bool {
	t.Helper()
	ok, err := s.bucket.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("exists %s: %v", key, err)
	}
	return ok
}

// recordingSink keeps statements in memory.
type recordingSink struct{ stmts []string }

func (r *recordingSink) Exec(_ context.Context, stmt string) error {
	r.stmts = append(r.stmts, stmt)
	return nil
}

func TestStore_PartitionedUploadAndRepair(t *testing.T) {
	t.Parallel()
	s := memStore(t)
	ctx := context.Background()

	tbl := ddl.Table{Name: "GS_CASE", Columns: []ddl.Column{{Name: "A", Type: "STRING"}}, Partitioned: true}
	if err := s.EnsureDatabase(ctx); err != nil {
		t.Fatalf("EnsureDatabase: %v", err)
	}
	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.UploadBlob(ctx, "GS_CASE", strings.NewReader("blob-me"), "ME"); err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	if err := s.RepairPartitions(ctx, "GS_CASE"); err != nil {
		t.Fatalf("RepairPartitions: %v", err)
	}

	if got := readKey(t, s, "tables/gs_case/filename_district=ME/gs_case-ME.json.gz"); got != "blob-me" {
		t.Fatalf("blob: %q", got)
	}

	log := readKey(t, s, StatementLogKey)
	for _, frag := range []string{
		"CREATE DATABASE IF NOT EXISTS `ncd`",
		"CREATE EXTERNAL TABLE IF NOT EXISTS `ncd`.`gs_case`",
		"LOCATION 'mem://ncd/tables/gs_case/'",
		"MSCK REPAIR TABLE `ncd`.`gs_case`",
	} {
		if !strings.Contains(log, frag) {
			t.Fatalf("statement log missing %q:\n%s", frag, log)
		}
	}
	if strings.Contains(log, "DROP TABLE") {
		t.Fatalf("partitioned table must not be dropped:\n%s", log)
	}
}

func TestStore_ReplaceClearsPreviousBlobs(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s := NewWithBucket(memblob.OpenBucket(nil), "mem://ncd", "refdata", sink)
	defer s.Close()
	ctx := context.Background()

	tbl := ddl.Table{Name: "GS_DISTRICT", Columns: []ddl.Column{{Name: "A", Type: "STRING"}}, Replace: true}
	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.UploadBlob(ctx, "GS_DISTRICT", strings.NewReader("v1"), ""); err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	// Another table sharing the name prefix must survive.
	if err := s.UploadBlob(ctx, "GS_DISTRICT_X", strings.NewReader("keep"), ""); err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	if !exists(t, s, "tables/gs_district/gs_district.json.gz") {
		t.Fatalf("blob missing after upload")
	}

	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable again: %v", err)
	}
	if exists(t, s, "tables/gs_district/gs_district.json.gz") {
		t.Fatalf("replace should remove the old blob")
	}
	if !exists(t, s, "tables/gs_district_x/gs_district_x.json.gz") {
		t.Fatalf("replace removed a sibling table's blob")
	}

	// Unpartitioned tables need no repair.
	if err := s.RepairPartitions(ctx, "GS_DISTRICT"); err != nil {
		t.Fatalf("RepairPartitions: %v", err)
	}
	want := []string{"DROP TABLE IF EXISTS `refdata`.`gs_district`", "CREATE EXTERNAL", "DROP TABLE", "CREATE EXTERNAL"}
	if len(sink.stmts) != len(want) {
		t.Fatalf("statements: %q", sink.stmts)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(sink.stmts[i], prefix) {
			t.Fatalf("statement %d = %q, want prefix %q", i, sink.stmts[i], prefix)
		}
	}
	if exists(t, s, StatementLogKey) {
		t.Fatalf("a custom sink must replace the dry-run log")
	}
}

func TestDryRunLog_AppendsAcrossRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	if err := NewDryRunLog(bucket, "q.sql").Exec(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := NewDryRunLog(bucket, "q.sql").Exec(ctx, "SELECT 2"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	got, err := bucket.ReadAll(ctx, "q.sql")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "SELECT 1;\n\nSELECT 2;\n\n" {
		t.Fatalf("log: %q", got)
	}
}

func TestNew_LocalDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "blobstore", DSN: root})
	if err != nil {
		t.Fatalf("storage.New(blobstore): %v", err)
	}
	defer repo.Close()
	s := repo.(*Store)
	ctx := context.Background()

	tbl := ddl.Table{Name: "GS_CASE", Columns: []ddl.Column{{Name: "A", Type: "STRING"}}}
	if err := s.CreateTable(ctx, tbl); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.UploadBlob(ctx, "GS_CASE", strings.NewReader("on-disk"), ""); err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "tables", "gs_case", "gs_case.json.gz"))
	if err != nil || string(got) != "on-disk" {
		t.Fatalf("blob file: %q err=%v", got, err)
	}
	stmts, err := os.ReadFile(filepath.Join(root, "queries", "statements.sql"))
	if err != nil {
		t.Fatalf("statement log: %v", err)
	}
	loc := "LOCATION 'file://" + filepath.ToSlash(root) + "/tables/gs_case/'"
	if !strings.Contains(string(stmts), loc) {
		t.Fatalf("statement log missing %q:\n%s", loc, stmts)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), storage.Config{Kind: "blobstore", DSN: " "}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestBlobKey(t *testing.T) {
	t.Parallel()

	s := &Store{}
	if got := s.BlobKey("GS_CASE", ""); got != "tables/gs_case/gs_case.json.gz" {
		t.Fatalf("unpartitioned key: %q", got)
	}
	if got := s.BlobKey("GS_CASE", "NH"); got != "tables/gs_case/filename_district=NH/gs_case-NH.json.gz" {
		t.Fatalf("partitioned key: %q", got)
	}
}
