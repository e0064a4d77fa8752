package query

import (
	"iter"
)

// BacktrackingIterator is a forward cursor with a single replay checkpoint.
type BacktrackingIterator[T any] interface {
	HasNext() bool
	Next() (T, error)

	// MarkPrev checkpoints the element last returned by Next. It does
	// nothing before the first call to Next.
	MarkPrev()
	// MarkNext checkpoints the element the next call to Next returns.
	MarkNext()
	// Reset rewinds to the checkpoint, so that Next returns the marked
	// element again. Without a checkpoint it does nothing.
	Reset()
}

// SliceIterator is a BacktrackingIterator over an in-memory run.
type SliceIterator[T any] struct {
	items []T
	next  int
	mark  int
}

var _ BacktrackingIterator[Record] = &SliceIterator[Record]{}

func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{
		items: items,
		mark:  -1,
	}
}

func (it *SliceIterator[T]) HasNext() bool {
	return it.next < len(it.items)
}

func (it *SliceIterator[T]) Next() (T, error) {
	if !it.HasNext() {
		var zero T
		return zero, ErrNoSuchElement
	}
	v := it.items[it.next]
	it.next++
	return v, nil
}

func (it *SliceIterator[T]) MarkPrev() {
	if it.next == 0 {
		return
	}
	it.mark = it.next - 1
}

func (it *SliceIterator[T]) MarkNext() {
	it.mark = it.next
}

func (it *SliceIterator[T]) Reset() {
	if it.mark < 0 {
		return
	}
	it.next = it.mark
}

// Len returns the total number of buffered elements.
func (it *SliceIterator[T]) Len() int {
	return len(it.items)
}

// Seq drains the iterator from its current position.
func (it *SliceIterator[T]) Seq() iter.Seq[T] {
	return func(yield func(T) bool) {
		for it.HasNext() {
			v, _ := it.Next()
			if !yield(v) {
				return
			}
		}
	}
}
