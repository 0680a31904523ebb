package schema

import "fmt"

// UnsupportedTypeError reports a declared column type the loader does not know
// how to store. It is fatal for the table that declares it.
type UnsupportedTypeError struct {
	Table        string
	Column       string
	DeclaredType string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("unsupported declared type %q", e.DeclaredType)
	}
	return fmt.Sprintf("table %s: column %s: unsupported declared type %q", e.Table, e.Column, e.DeclaredType)
}

// AmbiguousTableBoundaryError reports a table name whose section header matched
// zero or several times, so its text span cannot be determined.
type AmbiguousTableBoundaryError struct {
	Table   string
	Matches int
	Source  string // "README", "global_LIONS.txt", ...
}

func (e *AmbiguousTableBoundaryError) Error() string {
	return fmt.Sprintf("%s: table %s: ambiguous section boundary (%d header matches)", e.Source, e.Table, e.Matches)
}
