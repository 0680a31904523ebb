package manifest

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		members     []string
		table       string
		wantFiles   []DataFile
		partitioned bool
	}{
		{
			name:      "single exact file",
			members:   []string{"README.TXT", "gs_case.txt", "gs_caseinfo.txt"},
			table:     "GS_CASE",
			wantFiles: []DataFile{{Name: "gs_case.txt"}},
		},
		{
			name:      "exact match ignores case",
			members:   []string{"GS_CASE.TXT"},
			table:     "GS_CASE",
			wantFiles: []DataFile{{Name: "GS_CASE.TXT"}},
		},
		{
			name:        "district files sorted",
			members:     []string{"gs_case_NH.txt", "gs_case_ME.txt", "gs_case_participant_ME.txt", "gs_case_me.txt"},
			table:       "GS_CASE",
			wantFiles:   []DataFile{{Name: "gs_case_ME.txt", District: "ME"}, {Name: "gs_case_NH.txt", District: "NH"}},
			partitioned: true,
		},
		{
			name:    "no files",
			members: []string{"README.TXT"},
			table:   "GS_CASE",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fam, err := Resolve(tc.members, tc.table)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if fam.Partitioned != tc.partitioned {
				t.Fatalf("partitioned: got %v want %v", fam.Partitioned, tc.partitioned)
			}
			if len(fam.Files) != len(tc.wantFiles) {
				t.Fatalf("files: got %#v want %#v", fam.Files, tc.wantFiles)
			}
			for i := range tc.wantFiles {
				if fam.Files[i] != tc.wantFiles[i] {
					t.Fatalf("file %d: got %#v want %#v", i, fam.Files[i], tc.wantFiles[i])
				}
			}
			if fam.Empty() != (len(tc.wantFiles) == 0) {
				t.Fatalf("Empty() mismatch")
			}
		})
	}
}

func TestResolve_MixedPartition(t *testing.T) {
	t.Parallel()

	_, err := Resolve([]string{"gs_case.txt", "gs_case_ME.txt"}, "GS_CASE")
	var mixed *MixedPartitionError
	if !errors.As(err, &mixed) {
		t.Fatalf("expected MixedPartitionError, got %v", err)
	}
	if mixed.Exact != "gs_case.txt" || len(mixed.Districts) != 1 || mixed.Districts[0] != "ME" {
		t.Fatalf("unexpected error: %#v", mixed)
	}
}

func TestLookupFilesAndFind(t *testing.T) {
	t.Parallel()

	members := []string{"table_gs_b.txt", "README.TXT", "table_gs_a.txt", "gs_case.txt"}
	got := LookupFiles(members)
	if len(got) != 2 || got[0] != "table_gs_a.txt" || got[1] != "table_gs_b.txt" {
		t.Fatalf("LookupFiles: %v", got)
	}

	if n, ok := Find(members, "readme.txt"); !ok || n != "README.TXT" {
		t.Fatalf("Find: %q %v", n, ok)
	}
	if _, ok := Find(members, "global_LIONS.txt"); ok {
		t.Fatalf("Find should miss global file")
	}
}
