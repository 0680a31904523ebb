// Package manifest maps table names onto the data files of an archive.
//
// A normal table is stored either as one file named after the table
// ("gs_case.txt") or split by federal judicial district
// ("gs_case_ME.txt", "gs_case_NH.txt", ...). Never both.
package manifest

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"ncd/internal/fixedwidth"
)

// DataFile is one archive member holding rows of a table. District is empty
// for an unpartitioned table.
type DataFile struct {
	Name     string
	District string
}

// Family is the set of files for one table.
type Family struct {
	Table       string
	Files       []DataFile
	Partitioned bool
}

// Empty reports whether no file was found for the table.
func (f Family) Empty() bool { return len(f.Files) == 0 }

// MixedPartitionError reports a table that has both an unsuffixed file and
// district-suffixed files, so it is unclear which copy is authoritative.
type MixedPartitionError struct {
	Table     string
	Exact     string
	Districts []string
}

func (e *MixedPartitionError) Error() string {
	return fmt.Sprintf("table %s: both %s and %d district file(s) (%s) present",
		e.Table, e.Exact, len(e.Districts), strings.Join(e.Districts, ", "))
}

// Resolve selects the files of table among the archive member names.
//
// Matching is against base names. The unsuffixed file is compared without
// regard to case; district files must be "<lower(table)>_<DISTRICT>.txt" with
// an uppercase district code. District files are returned sorted by district.
//
// Edge cases:
//   - No matching file returns an empty Family and no error.
//
// Errors:
//   - *MixedPartitionError when both shapes are present.
func Resolve(names []string, table string) (Family, error) {
	lower := strings.ToLower(table)
	exactName := lower + ".txt"
	reDistrict := regexp.MustCompile(`^` + regexp.QuoteMeta(lower) + `_([A-Z]+)\.txt$`)

	fam := Family{Table: table}
	var exact string
	var districts []DataFile
	for _, n := range names {
		base := path.Base(n)
		if strings.ToLower(base) == exactName {
			exact = n
			continue
		}
		if m := reDistrict.FindStringSubmatch(base); m != nil {
			districts = append(districts, DataFile{Name: n, District: m[1]})
		}
	}

	switch {
	case exact != "" && len(districts) > 0:
		codes := make([]string, len(districts))
		for i, d := range districts {
			codes[i] = d.District
		}
		sort.Strings(codes)
		return Family{}, &MixedPartitionError{Table: table, Exact: exact, Districts: codes}
	case exact != "":
		fam.Files = []DataFile{{Name: exact}}
	case len(districts) > 0:
		sort.Slice(districts, func(i, j int) bool { return districts[i].District < districts[j].District })
		fam.Files = districts
		fam.Partitioned = true
	}
	return fam, nil
}

// LookupFiles returns members whose base name starts with "table_gs_", sorted.
func LookupFiles(names []string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(path.Base(n), fixedwidth.LookupFilePrefix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Find returns the member whose base name equals want without regard to case.
// Archives ship "README.TXT" or "readme.txt" depending on the release.
func Find(names []string, want string) (string, bool) {
	for _, n := range names {
		if strings.EqualFold(path.Base(n), want) {
			return n, true
		}
	}
	return "", false
}
