package loader

import (
	"errors"
	"fmt"
)

// State is the loader's position in an archive load. States only advance.
type State int32

const (
	StateOpen State = iota
	StateSchemasExtracted
	StateNormalTablesLoaded
	StateGlobalLoaded
	StateLookupsLoaded
	StateDone
)

var stateNames = [...]string{
	StateOpen:               "OPEN",
	StateSchemasExtracted:   "SCHEMAS_EXTRACTED",
	StateNormalTablesLoaded: "NORMAL_TABLES_LOADED",
	StateGlobalLoaded:       "GLOBAL_LOADED",
	StateLookupsLoaded:      "LOOKUPS_LOADED",
	StateDone:               "DONE",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrMissingReadme aborts a load: without it no normal table can be read.
	ErrMissingReadme = errors.New("archive has no README.txt")

	// ErrMissingGlobalFile is logged, not returned; the archive simply has
	// no global tables.
	ErrMissingGlobalFile = errors.New("archive has no " + globalFileName)
)

// LoadError locates a failure inside an archive. Table and File are empty
// when the failure is not specific to one.
type LoadError struct {
	Archive string
	State   State
	Table   string
	File    string
	Err     error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load %s (state=%s", e.Archive, e.State)
	if e.Table != "" {
		msg += " table=" + e.Table
	}
	if e.File != "" {
		msg += " file=" + e.File
	}
	return msg + "): " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }
