package frame

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzdata/foresight/pkg/fserrors"
)

func makeRows(start, count int) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, count)
	for i := start; i < start+count; i++ {
		rows = append(rows, map[string]interface{}{
			"id":    i,
			"value": float64(i) * 1.5,
		})
	}
	return rows
}

// rowKeys extracts the id column as a sorted slice, the multiset identity of
// a frame in these tests.
func rowKeys(t *testing.T, f *Frame) []int {
	t.Helper()
	col, ok := f.Column("id")
	require.True(t, ok)

	keys := make([]int, 0, len(col))
	for _, v := range col {
		keys = append(keys, v.(int))
	}
	sort.Ints(keys)
	return keys
}

func TestFromRowsPreservesAllRows(t *testing.T) {
	f := FromRows(makeRows(0, 25))
	assert.Equal(t, 25, f.NumRows())
	assert.Equal(t, []string{"id", "value"}, f.Columns())

	keys := rowKeys(t, f)
	for i, k := range keys {
		assert.Equal(t, i, k)
	}
}

func TestFromRowsUnionSchema(t *testing.T) {
	f := FromRows([]map[string]interface{}{
		{"a": 1},
		{"b": 2},
	})
	assert.Equal(t, []string{"a", "b"}, f.Columns())
	assert.Equal(t, 2, f.NumRows())

	row := f.Row(0)
	assert.Equal(t, 1, row["a"])
	assert.Nil(t, row["b"])
}

func TestMergeGroupingIrrelevant(t *testing.T) {
	// the same 60 rows partitioned three different ways must merge to the
	// same multiset
	groupings := [][]int{
		{60},
		{16, 16, 16, 12},
		{1, 59},
	}

	var reference []int
	for gi, sizes := range groupings {
		frames := make([]*Frame, 0, len(sizes))
		start := 0
		for _, size := range sizes {
			frames = append(frames, FromRows(makeRows(start, size)))
			start += size
		}
		require.Equal(t, 60, start)

		merged, err := Merge(frames...)
		require.NoError(t, err)
		assert.Equal(t, 60, merged.NumRows())

		keys := rowKeys(t, merged)
		if gi == 0 {
			reference = keys
		} else {
			assert.Equal(t, reference, keys, fmt.Sprintf("grouping %v", sizes))
		}
	}
}

func TestMergeOfMergesEqualsSingleMerge(t *testing.T) {
	a := FromRows(makeRows(0, 10))
	b := FromRows(makeRows(10, 10))
	c := FromRows(makeRows(20, 10))

	ab, err := Merge(a, b)
	require.NoError(t, err)
	nested, err := Merge(ab, c)
	require.NoError(t, err)

	flat, err := Merge(
		FromRows(makeRows(0, 10)),
		FromRows(makeRows(10, 10)),
		FromRows(makeRows(20, 10)),
	)
	require.NoError(t, err)

	assert.Equal(t, rowKeys(t, flat), rowKeys(t, nested))
}

func TestMergeEmptyInput(t *testing.T) {
	merged, err := Merge()
	require.NoError(t, err)
	assert.Equal(t, 0, merged.NumRows())

	merged, err = Merge(FromRows(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, merged.NumRows())
}

func TestMergeIncompatibleColumns(t *testing.T) {
	a := FromRows([]map[string]interface{}{{"id": 1, "value": 2.0}})
	b := FromRows([]map[string]interface{}{{"id": 2, "other": 3.0}})

	_, err := Merge(a, b)
	require.Error(t, err)
	assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeMergeInconsistency))
}
