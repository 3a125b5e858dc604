// Package frame provides the columnar frames that back partition buffering.
// A Frame holds the rows of one partition (or one sealed sub-batch of it) as
// named columns. Frames are sealed from row batches, merged pairwise or in
// groups, and finally projected to a timestamp/value series.
//
// Merging checks column-set compatibility: batch frames whose schemas drifted
// apart mid-stream cannot be combined and fail the partition. Merging does not
// guarantee row order; consumers that need an ordering re-establish it by
// timestamp.
package frame

import (
	"sort"

	"github.com/quartzdata/foresight/pkg/fserrors"
)

// Frame is a tabular structure of rows by named columns. The zero value is
// not usable; construct frames with New or FromRows.
type Frame struct {
	order   []string
	columns map[string][]interface{}
	rows    int
}

// New creates an empty frame with the given column set.
func New(columns []string) *Frame {
	order := make([]string, len(columns))
	copy(order, columns)
	sort.Strings(order)

	cols := make(map[string][]interface{}, len(order))
	for _, name := range order {
		cols[name] = nil
	}
	return &Frame{order: order, columns: cols}
}

// FromRows seals a batch of rows into a frame. The column set is the union of
// all keys present in the batch; rows missing a column carry nil in it.
func FromRows(rows []map[string]interface{}) *Frame {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for name := range row {
			seen[name] = struct{}{}
		}
	}

	order := make([]string, 0, len(seen))
	for name := range seen {
		order = append(order, name)
	}
	sort.Strings(order)

	f := &Frame{
		order:   order,
		columns: make(map[string][]interface{}, len(order)),
	}
	for _, name := range order {
		f.columns[name] = make([]interface{}, 0, len(rows))
	}
	for _, row := range rows {
		f.appendRow(row)
	}
	return f
}

func (f *Frame) appendRow(row map[string]interface{}) {
	for _, name := range f.order {
		f.columns[name] = append(f.columns[name], row[name])
	}
	f.rows++
}

// NumRows returns the number of rows in the frame.
func (f *Frame) NumRows() int {
	return f.rows
}

// Columns returns the frame's column names in deterministic (sorted) order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Column returns the values of a column.
func (f *Frame) Column(name string) ([]interface{}, bool) {
	col, ok := f.columns[name]
	return col, ok
}

// Row materializes row i as a map. Intended for tests and debugging, not the
// hot path.
func (f *Frame) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(f.order))
	for _, name := range f.order {
		row[name] = f.columns[name][i]
	}
	return row
}

// sameColumns reports whether two frames have identical column sets. Orders
// are sorted at construction, so a positional comparison suffices.
func sameColumns(a, b *Frame) bool {
	if len(a.order) != len(b.order) {
		return false
	}
	for i, name := range a.order {
		if b.order[i] != name {
			return false
		}
	}
	return true
}

// Merge combines frames into a single frame containing every row of every
// input. An empty input yields an empty frame with no columns. Frames with
// incompatible column sets produce a merge-inconsistency error.
//
// Row order in the output is unspecified: callers must not rely on arrival
// order surviving a merge.
func Merge(frames ...*Frame) (*Frame, error) {
	nonEmpty := make([]*Frame, 0, len(frames))
	for _, f := range frames {
		if f != nil && f.rows > 0 {
			nonEmpty = append(nonEmpty, f)
		}
	}
	if len(nonEmpty) == 0 {
		return New(nil), nil
	}

	first := nonEmpty[0]
	total := 0
	for _, f := range nonEmpty {
		if !sameColumns(first, f) {
			return nil, fserrors.NewMergeInconsistency("", first.Columns(), f.Columns())
		}
		total += f.rows
	}

	out := &Frame{
		order:   first.Columns(),
		columns: make(map[string][]interface{}, len(first.order)),
	}
	for _, name := range out.order {
		merged := make([]interface{}, 0, total)
		for _, f := range nonEmpty {
			merged = append(merged, f.columns[name]...)
		}
		out.columns[name] = merged
	}
	out.rows = total
	return out, nil
}
