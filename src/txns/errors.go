package txns

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

var (
	// ErrInvalidLockType is raised (as a panic) when a lock relation is
	// evaluated on a value outside the lock type enumeration.
	ErrInvalidLockType = errors.New("invalid lock type")

	ErrInvalidLock          = errors.New("invalid lock request")
	ErrDuplicateLockRequest = errors.New("duplicate lock request")
	ErrNoLockHeld           = errors.New("no lock held")
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrTxnAborted is returned to a waiter whose transaction released all
	// of its locks while the request was still queued.
	ErrTxnAborted = errors.New("transaction aborted while waiting for a lock")
)

// ProtocolError describes a rejected lock operation. It unwraps to one of
// the sentinel errors above.
type ProtocolError struct {
	Op        string
	Txn       common.TxnID
	Resource  ResourceName
	Held      LockType
	Requested LockType
	Kind      error
	Reason    string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf(
		"%s: %s on %q by %s (held %s, requested %s)",
		e.Kind,
		e.Op,
		e.Resource,
		e.Txn,
		e.Held,
		e.Requested,
	)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Kind
}
