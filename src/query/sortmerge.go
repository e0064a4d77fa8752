package query

import (
	"iter"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/relcore/src/pkg/optional"
)

// SortMergeIterator joins two inputs sorted by their join columns. Only the
// run of right records that share the current key is ever replayed.
//
// The iterator is not safe for concurrent use.
type SortMergeIterator struct {
	left     BacktrackingIterator[Record]
	right    BacktrackingIterator[Record]
	leftCol  int
	rightCol int

	leftRecord  optional.Optional[Record]
	rightRecord optional.Optional[Record]
	next        optional.Optional[Record]
	// marked is set while the right cursor has a checkpoint at the start
	// of the run matching leftRecord.
	marked bool
	err    error
}

// NewSortMergeIterator buffers the first joined record. Both inputs must be
// sorted ascending by their join column.
func NewSortMergeIterator(
	left BacktrackingIterator[Record],
	right BacktrackingIterator[Record],
	leftCol int,
	rightCol int,
) (*SortMergeIterator, error) {
	it := &SortMergeIterator{
		left:     left,
		right:    right,
		leftCol:  leftCol,
		rightCol: rightCol,
	}

	if err := it.advanceLeft(); err != nil {
		return nil, err
	}
	if err := it.advanceRight(); err != nil {
		return nil, err
	}
	if err := it.fetchNext(); err != nil {
		return nil, err
	}

	return it, nil
}

// HasNext reports whether Next has a record or an error to return.
func (it *SortMergeIterator) HasNext() bool {
	return it.next.IsSome() || it.err != nil
}

// Next returns the buffered joined record and looks ahead for the following
// one. It returns ErrNoSuchElement once the join is exhausted.
func (it *SortMergeIterator) Next() (Record, error) {
	if it.err != nil {
		return nil, it.err
	}

	rec, ok := it.next.Get()
	if !ok {
		return nil, ErrNoSuchElement
	}
	if err := it.fetchNext(); err != nil {
		it.err = err
	}
	return rec, nil
}

func (it *SortMergeIterator) Remove() error {
	return errors.Wrap(ErrUnsupportedOperation, "sort merge join is read-only")
}

// Seq yields the remaining joined records. Iteration stops after the first
// error.
func (it *SortMergeIterator) Seq() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for it.HasNext() {
			rec, err := it.Next()
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (it *SortMergeIterator) fetchNext() error {
	it.next = optional.None[Record]()

	for {
		left, ok := it.leftRecord.Get()
		if !ok {
			return nil
		}

		right, ok := it.rightRecord.Get()
		if !ok {
			if !it.marked {
				// every remaining right key is smaller than the current
				// left key, and left keys only grow
				it.leftRecord = optional.None[Record]()
				return nil
			}
			if err := it.replayRun(); err != nil {
				return err
			}
			continue
		}

		c, err := it.compare(left, right)
		if err != nil {
			return err
		}

		if !it.marked {
			if c < 0 {
				if err := it.advanceLeft(); err != nil {
					return err
				}
				continue
			}
			if c > 0 {
				if err := it.advanceRight(); err != nil {
					return err
				}
				continue
			}
			it.right.MarkPrev()
			it.marked = true
		}

		if c == 0 {
			it.next = optional.Some(left.Concat(right))
			return it.advanceRight()
		}

		if err := it.replayRun(); err != nil {
			return err
		}
	}
}

// replayRun rewinds the right cursor to the start of the matched run and
// moves on to the next left record.
func (it *SortMergeIterator) replayRun() error {
	it.right.Reset()
	it.marked = false

	right, err := it.right.Next()
	if err != nil {
		return errors.Wrap(err, "replay right run")
	}
	it.rightRecord = optional.Some(right)

	return it.advanceLeft()
}

func (it *SortMergeIterator) advanceLeft() error {
	it.leftRecord = optional.None[Record]()
	if !it.left.HasNext() {
		return nil
	}

	rec, err := it.left.Next()
	if err != nil {
		return errors.Wrap(err, "next left record")
	}
	it.leftRecord = optional.Some(rec)
	return nil
}

func (it *SortMergeIterator) advanceRight() error {
	it.rightRecord = optional.None[Record]()
	if !it.right.HasNext() {
		return nil
	}

	rec, err := it.right.Next()
	if err != nil {
		return errors.Wrap(err, "next right record")
	}
	it.rightRecord = optional.Some(rec)
	return nil
}

func (it *SortMergeIterator) compare(left, right Record) (int, error) {
	l, err := left.Get(it.leftCol)
	if err != nil {
		return 0, errors.Wrap(err, "left join key")
	}
	r, err := right.Get(it.rightCol)
	if err != nil {
		return 0, errors.Wrap(err, "right join key")
	}

	c, err := l.Compare(r)
	if err != nil {
		return 0, errors.Wrap(err, "compare join keys")
	}
	return c, nil
}
