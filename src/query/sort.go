package query

import (
	"slices"

	"github.com/go-faster/errors"
)

// SortRecords returns a backtrackable run of records ordered by column col.
// The sort is stable and leaves the input slice untouched.
func SortRecords(records []Record, col int) (*SliceIterator[Record], error) {
	for i, r := range records {
		if _, err := r.Get(col); err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
	}

	sorted := slices.Clone(records)

	var cmpErr error
	slices.SortStableFunc(sorted, func(a, b Record) int {
		c, err := a[col].Compare(b[col])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c
	})
	if cmpErr != nil {
		return nil, errors.Wrapf(cmpErr, "sort by column %d", col)
	}

	return NewSliceIterator(sorted), nil
}
