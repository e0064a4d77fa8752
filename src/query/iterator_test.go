package query

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain[T any](t *testing.T, it BacktrackingIterator[T]) []T {
	t.Helper()

	var res []T
	for it.HasNext() {
		v, err := it.Next()
		require.NoError(t, err)
		res = append(res, v)
	}
	return res
}

func TestSliceIteratorForward(t *testing.T) {
	it := NewSliceIterator([]int{1, 2, 3})
	require.Equal(t, []int{1, 2, 3}, drain[int](t, it))

	_, err := it.Next()
	require.ErrorIs(t, err, ErrNoSuchElement)

	empty := NewSliceIterator[int](nil)
	require.False(t, empty.HasNext())
	_, err = empty.Next()
	require.ErrorIs(t, err, ErrNoSuchElement)
}

func TestSliceIteratorMarkPrev(t *testing.T) {
	it := NewSliceIterator([]int{1, 2, 3, 4})

	it.MarkPrev()
	it.Reset()
	v, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, 1, v, "no checkpoint before the first element")

	v, _ = it.Next()
	require.Equal(t, 2, v)
	it.MarkPrev()
	require.Equal(t, []int{3, 4}, drain[int](t, it))

	it.Reset()
	require.Equal(t, []int{2, 3, 4}, drain[int](t, it))

	it.Reset()
	require.Equal(t, []int{2, 3, 4}, drain[int](t, it), "the checkpoint survives a reset")
}

func TestSliceIteratorMarkNext(t *testing.T) {
	it := NewSliceIterator([]string{"a", "b", "c"})

	it.MarkNext()
	_, _ = it.Next()
	_, _ = it.Next()
	it.Reset()
	require.Equal(t, []string{"a", "b", "c"}, drain[string](t, it))

	it.MarkNext()
	it.Reset()
	require.False(t, it.HasNext(), "marking past the end replays nothing")
}

func TestSliceIteratorSeq(t *testing.T) {
	it := NewSliceIterator([]int{5, 6, 7})
	_, _ = it.Next()
	require.Equal(t, []int{6, 7}, slices.Collect(it.Seq()))
	require.Equal(t, 3, it.Len())
}

func TestSortRecords(t *testing.T) {
	records := []Record{
		NewRecord(Int64Box(3), StringBox("c")),
		NewRecord(Int64Box(1), StringBox("a")),
		NewRecord(Int64Box(3), StringBox("b")),
		NewRecord(Int64Box(2), StringBox("d")),
	}

	run, err := SortRecords(records, 0)
	require.NoError(t, err)

	var got []string
	for _, r := range drain[Record](t, run) {
		got = append(got, r.String())
	}
	require.Equal(t, []string{"(1, a)", "(2, d)", "(3, c)", "(3, b)"}, got, "ties keep input order")
	require.Equal(t, "(3, c)", records[0].String(), "input is not reordered")

	_, err = SortRecords(records, 5)
	require.ErrorIs(t, err, ErrColumnOutOfRange)

	mixed := []Record{NewRecord(Int64Box(1)), NewRecord(StringBox("x"))}
	_, err = SortRecords(mixed, 0)
	require.ErrorIs(t, err, ErrIncomparable)
}
