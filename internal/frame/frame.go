// Package frame implements the small in-memory table the steps move between
// the gateway and the transforms: ordered columns, rows of tagged values.
//
// A cell holds one of nil, int64, float64, string, bool or time.Time. Values
// coming from drivers are normalised by Normalize before they are stored.
package frame

import (
	"fmt"
	"strings"
	"time"
)

// Frame is an ordered set of named columns and rows.
type Frame struct {
	cols []string
	idx  map[string]int
	rows [][]any
}

// New creates an empty frame with the given columns.
func New(cols ...string) *Frame {
	f := &Frame{
		cols: make([]string, 0, len(cols)),
		idx:  make(map[string]int, len(cols)),
	}
	for _, c := range cols {
		f.addColumnName(c)
	}
	return f
}

func (f *Frame) addColumnName(name string) {
	if _, ok := f.idx[name]; ok {
		return
	}
	f.idx[name] = len(f.cols)
	f.cols = append(f.cols, name)
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.cols))
	copy(out, f.cols)
	return out
}

// Has reports whether the frame has the named column.
func (f *Frame) Has(col string) bool {
	_, ok := f.idx[col]
	return ok
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// Append adds a row. The number of values must match the columns.
func (f *Frame) Append(vals ...any) error {
	if len(vals) != len(f.cols) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(vals), len(f.cols))
	}
	row := make([]any, len(vals))
	for i, v := range vals {
		row[i] = Normalize(v)
	}
	f.rows = append(f.rows, row)
	return nil
}

// AppendMap adds a row from a column->value map; absent columns are nil.
func (f *Frame) AppendMap(m map[string]any) {
	row := make([]any, len(f.cols))
	for c, v := range m {
		if i, ok := f.idx[c]; ok {
			row[i] = Normalize(v)
		}
	}
	f.rows = append(f.rows, row)
}

// Row returns the values of row i in column order.
func (f *Frame) Row(i int) []any {
	return f.rows[i]
}

// Get returns the value at row i, column col (nil if the column is absent).
func (f *Frame) Get(i int, col string) any {
	j, ok := f.idx[col]
	if !ok {
		return nil
	}
	return f.rows[i][j]
}

// Set stores a value at row i, column col, adding the column if needed.
func (f *Frame) Set(i int, col string, v any) {
	if !f.Has(col) {
		f.AddColumn(col, nil)
	}
	f.rows[i][f.idx[col]] = Normalize(v)
}

// AddColumn appends a column whose values are produced by fill. A nil fill
// leaves the column empty. Adding an existing column overwrites its values.
func (f *Frame) AddColumn(name string, fill func(i int) any) {
	if !f.Has(name) {
		f.addColumnName(name)
		for i := range f.rows {
			f.rows[i] = append(f.rows[i], nil)
		}
	}
	if fill == nil {
		return
	}
	j := f.idx[name]
	for i := range f.rows {
		f.rows[i][j] = Normalize(fill(i))
	}
}

// Rename renames columns according to the mapping; unknown names are ignored.
func (f *Frame) Rename(mapping map[string]string) {
	for from, to := range mapping {
		j, ok := f.idx[from]
		if !ok || from == to {
			continue
		}
		delete(f.idx, from)
		f.cols[j] = to
		f.idx[to] = j
	}
}

// Select returns a new frame restricted to cols, in that order.
func (f *Frame) Select(cols ...string) (*Frame, error) {
	pos := make([]int, len(cols))
	for k, c := range cols {
		j, ok := f.idx[c]
		if !ok {
			return nil, fmt.Errorf("column %q not in frame", c)
		}
		pos[k] = j
	}
	out := New(cols...)
	out.rows = make([][]any, len(f.rows))
	for i, r := range f.rows {
		nr := make([]any, len(cols))
		for k, j := range pos {
			nr[k] = r[j]
		}
		out.rows[i] = nr
	}
	return out, nil
}

// Filter returns a new frame with the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int) bool) *Frame {
	out := New(f.cols...)
	for i, r := range f.rows {
		if keep(i) {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// DropNull removes rows with a nil value in any of cols and returns the
// number of rows removed.
func (f *Frame) DropNull(cols ...string) int {
	before := len(f.rows)
	kept := f.rows[:0]
	for _, r := range f.rows {
		ok := true
		for _, c := range cols {
			j, has := f.idx[c]
			if !has || r[j] == nil {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return before - len(f.rows)
}

// DedupBy keeps the first row for every distinct combination of cols and
// returns the number of rows removed.
func (f *Frame) DedupBy(cols ...string) int {
	seen := make(map[string]struct{}, len(f.rows))
	before := len(f.rows)
	kept := f.rows[:0]
	for _, r := range f.rows {
		k := f.key(r, cols)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, r)
	}
	f.rows = kept
	return before - len(f.rows)
}

func (f *Frame) key(r []any, cols []string) string {
	var b strings.Builder
	for n, c := range cols {
		if n > 0 {
			b.WriteByte(0x1f)
		}
		j, ok := f.idx[c]
		if !ok || r[j] == nil {
			b.WriteByte(0)
			continue
		}
		switch v := r[j].(type) {
		case time.Time:
			b.WriteString(v.UTC().Format(time.RFC3339Nano))
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// Concat stacks frames vertically. The result has the union of columns in
// first-seen order; cells for columns a frame lacks are nil.
func Concat(frames ...*Frame) *Frame {
	out := New()
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, c := range f.cols {
			out.addColumnName(c)
		}
	}
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, r := range f.rows {
			nr := make([]any, len(out.cols))
			for j, c := range f.cols {
				nr[out.idx[c]] = r[j]
			}
			out.rows = append(out.rows, nr)
		}
	}
	return out
}
