package query

import "github.com/go-faster/errors"

var (
	ErrNoSuchElement        = errors.New("no such element")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrIncomparable         = errors.New("values are not comparable")
	ErrColumnOutOfRange     = errors.New("column index out of range")
	ErrUnknownColumn        = errors.New("unknown column")
)
