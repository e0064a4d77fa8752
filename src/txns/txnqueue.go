package txns

import (
	"slices"
	"time"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

type requestKind uint8

const (
	requestAcquire requestKind = iota
	requestPromote
	requestAcquireAndRelease
)

func (k requestKind) String() string {
	switch k {
	case requestAcquire:
		return "acquire"
	case requestPromote:
		return "promote"
	case requestAcquireAndRelease:
		return "acquire-and-release"
	}
	return "unknown"
}

type lockRequest struct {
	kind     requestKind
	txnID    common.TxnID
	name     ResourceName
	lockMode LockType
	release  []ResourceName

	enqueuedAt time.Time
	err        error
	notifier   chan struct{}
}

func newLockRequest(
	kind requestKind,
	txnID common.TxnID,
	name ResourceName,
	lockMode LockType,
	release []ResourceName,
) *lockRequest {
	return &lockRequest{
		kind:       kind,
		txnID:      txnID,
		name:       name,
		lockMode:   lockMode,
		release:    release,
		enqueuedAt: time.Now(),
		notifier:   make(chan struct{}),
	}
}

// txnQueue is the grant set and the wait queue of a single resource. It is
// guarded by the owning Manager's mutex.
type txnQueue struct {
	granted map[common.TxnID]LockType
	waiting []*lockRequest
}

func newTxnQueue() *txnQueue {
	return &txnQueue{
		granted: map[common.TxnID]LockType{},
	}
}

// compatible reports whether lockMode can be granted to txnID given the
// locks other transactions hold. The requester's own grant is ignored, which
// is what promotions need.
func (q *txnQueue) compatible(txnID common.TxnID, lockMode LockType) bool {
	for holder, held := range q.granted {
		if holder == txnID {
			continue
		}
		if !Compatible(held, lockMode) {
			return false
		}
	}
	return true
}

func (q *txnQueue) pushBack(r *lockRequest) {
	q.waiting = append(q.waiting, r)
}

func (q *txnQueue) pushFront(r *lockRequest) {
	q.waiting = slices.Insert(q.waiting, 0, r)
}

func (q *txnQueue) remove(r *lockRequest) bool {
	i := slices.Index(q.waiting, r)
	if i < 0 {
		return false
	}
	q.waiting = slices.Delete(q.waiting, i, i+1)
	return true
}

func (q *txnQueue) empty() bool {
	return len(q.granted) == 0 && len(q.waiting) == 0
}
