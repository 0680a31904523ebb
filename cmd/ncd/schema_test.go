package main

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"ncd/internal/loader"
)

const testReadme = `GS_CASE - Criminal cases
DISTRICT                  NOT NULL VARCHAR2(2)      (1:2)
CASEID                             NUMBER(10)       (3:12)
NOTES                              CLOB             (13:20)
`

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "FY2020.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSchemaCommand(t *testing.T) {
	path := writeZip(t, map[string]string{"nested/readme.TXT": testReadme})

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"schema", "--env-file", "", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var doc schemaDoc
	if err := yaml.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("yaml: %v\n%s", err, out.String())
	}
	if doc.Archive != "FY2020.zip" || len(doc.Tables) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
	tbl := doc.Tables[0]
	if tbl.Table != "GS_CASE" || tbl.Width != 20 {
		t.Fatalf("table = %+v", tbl)
	}
	want := []columnDoc{
		{Name: "DISTRICT", Start: 1, Length: 2, Type: "VARCHAR2(2)", Storage: "STRING"},
		{Name: "CASEID", Start: 3, Length: 10, Type: "NUMBER(10)", Storage: "BIGINT"},
		{Name: "NOTES", Start: 13, Length: 8, Type: "CLOB", Storage: "UNSUPPORTED"},
	}
	if len(tbl.Columns) != len(want) {
		t.Fatalf("columns = %+v", tbl.Columns)
	}
	for i := range want {
		if tbl.Columns[i] != want[i] {
			t.Errorf("column %d = %+v, want %+v", i, tbl.Columns[i], want[i])
		}
	}
}

func TestReadArchiveSchemas_MissingReadme(t *testing.T) {
	t.Parallel()
	path := writeZip(t, map[string]string{"gs_case.txt": "ME"})
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	if _, err := readArchiveSchemas(&zr.Reader); !errors.Is(err, loader.ErrMissingReadme) {
		t.Fatalf("err = %v, want ErrMissingReadme", err)
	}
}

func TestSchemaCommand_RequiresOneArg(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"schema", "--env-file", ""})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Fatalf("err = %v", err)
	}
}
