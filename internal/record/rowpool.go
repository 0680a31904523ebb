package record

import "sync"

// Row is a pooled positional row handed to a storage inserter.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - The loader builds a batch of Rows, passes their V slices to the
//     inserter, and calls Free on each once the insert has returned.
//
// Inserters must not retain V after returning. On an aborted batch use Drop so
// a Row still referenced by a failed driver call is never reused.
type Row struct {
	V    []any
	Line int // 1-based line in the source file, if known
}

var rowPool sync.Pool

// GetRow returns a Row with len(V) == 0 and capacity for at least colCount
// values; fill it with append.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, 0, colCount)
		}
		r.V = r.V[:0]
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, 0, colCount)}
}

// Free clears the Row and returns it to the pool.
func (r *Row) Free() {
	clear(r.V[:cap(r.V)])
	r.V = r.V[:0]
	rowPool.Put(r)
}

// Drop discards the Row without pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
