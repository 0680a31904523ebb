package schema

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StorageType is the backend-neutral column type tag used by DDL generation.
// Normal tables only use String, BigInt, Date and Double; Boolean is reserved
// for redaction companions.
type StorageType string

const (
	String  StorageType = "STRING"
	BigInt  StorageType = "BIGINT"
	Date    StorageType = "DATE"
	Double  StorageType = "DOUBLE"
	Boolean StorageType = "BOOLEAN"
)

// OracleDateLayout is the DD-Mon-YYYY form used by the source agency
// (e.g. 15-MAR-1999). Month names match case-insensitively.
const OracleDateLayout = "2-Jan-2006"

// ISODateLayout is the rendering used for DATE values in output records.
const ISODateLayout = "2006-01-02"

// ParseFunc converts a trimmed, non-redacted cell into a typed value.
//
// It returns (nil, false) for an empty cell and (nil, true) for a non-empty
// cell that could not be parsed; malformed cells never produce an error.
type ParseFunc func(raw string) (v any, malformed bool)

// TypeMapping is the result of mapping one declared type.
type TypeMapping struct {
	Declared string
	Storage  StorageType
	Parse    ParseFunc
}

var (
	reDeclaredType = regexp.MustCompile(`^(?P<type>[^(]+)(?:\((?P<args>.+)\))?$`)

	typeCache sync.Map // declared type -> TypeMapping
)

// MapType maps a declared column type such as VARCHAR2(30), NUMBER(9,2), DATE
// or FLOAT onto a storage type and a cell parser.
//
// Errors:
//   - Returns *UnsupportedTypeError for any other base type. The caller is
//     expected to fill in Table and Column.
func MapType(declared string) (TypeMapping, error) {
	if v, ok := typeCache.Load(declared); ok {
		return v.(TypeMapping), nil
	}

	m := reDeclaredType.FindStringSubmatch(strings.TrimSpace(declared))
	if m == nil {
		return TypeMapping{}, &UnsupportedTypeError{DeclaredType: declared}
	}

	tm := TypeMapping{Declared: declared}
	switch strings.TrimSpace(m[1]) {
	case "VARCHAR", "VARCHAR2":
		tm.Storage, tm.Parse = String, parseString
	case "NUMBER":
		tm.Storage, tm.Parse = BigInt, parseInteger
	case "DATE":
		tm.Storage, tm.Parse = Date, parseOracleDate
	case "FLOAT":
		tm.Storage, tm.Parse = Double, parseFloat
	default:
		return TypeMapping{}, &UnsupportedTypeError{DeclaredType: declared}
	}

	typeCache.Store(declared, tm)
	return tm, nil
}

// MapColumns maps every column of t, failing on the first unsupported type.
func MapColumns(t TableSchema) ([]TypeMapping, error) {
	out := make([]TypeMapping, len(t.Columns))
	for i, c := range t.Columns {
		tm, err := MapType(c.DeclaredType)
		if err != nil {
			if ute, ok := err.(*UnsupportedTypeError); ok {
				return nil, &UnsupportedTypeError{Table: t.Name, Column: c.Name, DeclaredType: ute.DeclaredType}
			}
			return nil, err
		}
		out[i] = tm
	}
	return out, nil
}

func parseString(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	return raw, false
}

func parseInteger(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, true
	}
	return n, false
}

func parseFloat(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, true
	}
	return f, false
}

func parseOracleDate(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	t, err := time.Parse(OracleDateLayout, raw)
	if err != nil {
		return nil, true
	}
	return t, false
}
