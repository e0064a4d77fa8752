package txns

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/relcore/src"
	"github.com/Blackdeer1524/relcore/src/pkg/assert"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

// Lock is a single grant: txnID holds lockMode on name.
type Lock struct {
	TxnID    common.TxnID
	Name     ResourceName
	LockMode LockType
}

// LockManager owns the lock table. Every blocking method parks the caller
// until the request is compatible with the locks of other transactions.
type LockManager interface {
	Acquire(txnID common.TxnID, name ResourceName, lockMode LockType) error
	Release(txnID common.TxnID, name ResourceName) error
	Promote(txnID common.TxnID, name ResourceName, lockMode LockType) error
	// AcquireAndRelease atomically grants lockMode on name and releases the
	// transaction's locks on every resource in release. If name is in
	// release, its lock is replaced instead.
	AcquireAndRelease(
		txnID common.TxnID,
		name ResourceName,
		lockMode LockType,
		release []ResourceName,
	) error
	LockType(txnID common.TxnID, name ResourceName) LockType
	Locks(txnID common.TxnID) []Lock
	// ReleaseAll is the transaction teardown hook: it drops every grant
	// and cancels queued requests of txnID.
	ReleaseAll(txnID common.TxnID)
}

var _ LockManager = &Manager{}

// Manager is a LockManager with one FIFO wait queue per resource. The whole
// table is guarded by a single mutex; waiters park on a notifier channel
// outside of it.
type Manager struct {
	mu       sync.Mutex
	qs       map[ResourceName]*txnQueue
	txnLocks map[common.TxnID]map[ResourceName]LockType
	pending  map[common.TxnID][]*lockRequest

	log     src.Logger
	metrics *managerMetrics
}

func NewManager(log src.Logger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Manager{
		qs:       map[ResourceName]*txnQueue{},
		txnLocks: map[common.TxnID]map[ResourceName]LockType{},
		pending:  map[common.TxnID][]*lockRequest{},
		log:      log,
		metrics:  newManagerMetrics(),
	}
}

// Acquire grants lockMode on name to txnID. A fresh request waits if it
// conflicts with another holder or if other requests are already queued.
func (m *Manager) Acquire(
	txnID common.TxnID,
	name ResourceName,
	lockMode LockType,
) error {
	mustBeValid(lockMode)

	r, err := func() (*lockRequest, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		held := m.lockTypeLocked(txnID, name)
		if lockMode == LockNone {
			return nil, m.violation(
				"acquire", txnID, name, held, lockMode,
				ErrInvalidLock, "NL can't be acquired, release the lock instead",
			)
		}
		if held != LockNone {
			return nil, m.violation("acquire", txnID, name, held, lockMode, ErrDuplicateLockRequest, "")
		}

		q := m.queue(name)
		if len(q.waiting) == 0 && q.compatible(txnID, lockMode) {
			m.grantLocked(txnID, name, lockMode)
			return nil, nil
		}

		r := newLockRequest(requestAcquire, txnID, name, lockMode, nil)
		q.pushBack(r)
		m.parkLocked(r)
		return r, nil
	}()
	if err != nil || r == nil {
		return err
	}

	return m.wait(r)
}

// Release drops txnID's lock on name and grants whatever queued requests
// became compatible.
func (m *Manager) Release(txnID common.TxnID, name ResourceName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held := m.lockTypeLocked(txnID, name); held == LockNone {
		return m.violation("release", txnID, name, held, LockNone, ErrNoLockHeld, "")
	}
	m.ungrantLocked(txnID, name)

	return nil
}

// Promote replaces txnID's lock on name with a stronger lockMode. A blocked
// promotion is queued ahead of every other waiter.
func (m *Manager) Promote(
	txnID common.TxnID,
	name ResourceName,
	lockMode LockType,
) error {
	mustBeValid(lockMode)

	r, err := func() (*lockRequest, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		held := m.lockTypeLocked(txnID, name)
		switch {
		case held == LockNone:
			return nil, m.violation("promote", txnID, name, held, lockMode, ErrNoLockHeld, "")
		case held == lockMode:
			return nil, m.violation("promote", txnID, name, held, lockMode, ErrDuplicateLockRequest, "")
		case !Substitutable(lockMode, held):
			return nil, m.violation(
				"promote", txnID, name, held, lockMode,
				ErrInvalidLock, "requested mode doesn't cover the held one",
			)
		}

		q := m.queue(name)
		if q.compatible(txnID, lockMode) {
			m.grantLocked(txnID, name, lockMode)
			return nil, nil
		}

		r := newLockRequest(requestPromote, txnID, name, lockMode, nil)
		q.pushFront(r)
		m.parkLocked(r)
		return r, nil
	}()
	if err != nil || r == nil {
		return err
	}

	return m.wait(r)
}

func (m *Manager) AcquireAndRelease(
	txnID common.TxnID,
	name ResourceName,
	lockMode LockType,
	release []ResourceName,
) error {
	mustBeValid(lockMode)

	r, err := func() (*lockRequest, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		held := m.lockTypeLocked(txnID, name)
		if lockMode == LockNone {
			return nil, m.violation(
				"acquire-and-release", txnID, name, held, lockMode,
				ErrInvalidLock, "NL can't be acquired, release the lock instead",
			)
		}
		if held != LockNone && !slices.Contains(release, name) {
			return nil, m.violation(
				"acquire-and-release", txnID, name, held, lockMode,
				ErrDuplicateLockRequest, "",
			)
		}
		for _, rel := range release {
			if relHeld := m.lockTypeLocked(txnID, rel); relHeld == LockNone {
				return nil, m.violation(
					"acquire-and-release", txnID, rel, relHeld, lockMode,
					ErrNoLockHeld, "resource scheduled for release isn't locked",
				)
			}
		}

		r := newLockRequest(requestAcquireAndRelease, txnID, name, lockMode, slices.Clone(release))
		q := m.queue(name)
		if q.compatible(txnID, lockMode) {
			m.applyLocked(r)
			return nil, nil
		}

		q.pushFront(r)
		m.parkLocked(r)
		return r, nil
	}()
	if err != nil || r == nil {
		return err
	}

	return m.wait(r)
}

func (m *Manager) ReleaseAll(txnID common.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.pending[txnID]
	delete(m.pending, txnID)
	for _, r := range pending {
		q, ok := m.qs[r.name]
		assert.Assert(ok, "no queue for the parked request %+v", r)
		removed := q.remove(r)
		assert.Assert(removed, "queued request %+v is missing from its queue", r)

		r.err = ErrTxnAborted
		close(r.notifier)
		m.metrics.aborted(r.lockMode)
		m.processQueueLocked(r.name)
	}

	held := make([]ResourceName, 0, len(m.txnLocks[txnID]))
	for name := range m.txnLocks[txnID] {
		held = append(held, name)
	}
	slices.SortFunc(held, ResourceName.Compare)
	for _, name := range held {
		m.ungrantLocked(txnID, name)
	}

	if len(pending) > 0 || len(held) > 0 {
		m.log.Debugw(
			"released all locks",
			"txn", txnID,
			"released", len(held),
			"cancelled", len(pending),
		)
	}
}

func (m *Manager) LockType(txnID common.TxnID, name ResourceName) LockType {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lockTypeLocked(txnID, name)
}

// Locks returns every lock txnID holds, ancestors before descendants.
func (m *Manager) Locks(txnID common.TxnID) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	locks := make([]Lock, 0, len(m.txnLocks[txnID]))
	for name, mode := range m.txnLocks[txnID] {
		locks = append(locks, Lock{TxnID: txnID, Name: name, LockMode: mode})
	}
	slices.SortFunc(locks, func(a, b Lock) int { return a.Name.Compare(b.Name) })

	return locks
}

// LocksOn returns the grants on name ordered by transaction id.
func (m *Manager) LocksOn(name ResourceName) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[name]
	if !ok {
		return nil
	}

	locks := make([]Lock, 0, len(q.granted))
	for txnID, mode := range q.granted {
		locks = append(locks, Lock{TxnID: txnID, Name: name, LockMode: mode})
	}
	slices.SortFunc(locks, func(a, b Lock) int { return cmp.Compare(a.TxnID, b.TxnID) })

	return locks
}

// QueueLength returns the number of requests waiting on name.
func (m *Manager) QueueLength(name ResourceName) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.qs[name]; ok {
		return len(q.waiting)
	}
	return 0
}

func (m *Manager) wait(r *lockRequest) error {
	m.log.Debugw(
		"waiting for lock",
		"txn", r.txnID,
		"resource", r.name.String(),
		"mode", r.lockMode.String(),
		"request", r.kind.String(),
	)

	<-r.notifier
	m.metrics.waited(time.Since(r.enqueuedAt), r.lockMode)

	if r.err != nil {
		return errors.Wrapf(r.err, "%s %s on %q", r.kind, r.lockMode, r.name)
	}
	return nil
}

func (m *Manager) queue(name ResourceName) *txnQueue {
	q, ok := m.qs[name]
	if !ok {
		q = newTxnQueue()
		m.qs[name] = q
	}
	return q
}

func (m *Manager) lockTypeLocked(txnID common.TxnID, name ResourceName) LockType {
	if mode, ok := m.txnLocks[txnID][name]; ok {
		return mode
	}
	return LockNone
}

func (m *Manager) parkLocked(r *lockRequest) {
	m.pending[r.txnID] = append(m.pending[r.txnID], r)
	m.metrics.queued(r.lockMode)
}

func (m *Manager) unparkLocked(r *lockRequest) {
	pending := m.pending[r.txnID]
	i := slices.Index(pending, r)
	assert.Assert(i >= 0, "request %+v isn't parked", r)

	pending = slices.Delete(pending, i, i+1)
	if len(pending) == 0 {
		delete(m.pending, r.txnID)
		return
	}
	m.pending[r.txnID] = pending
}

func (m *Manager) grantLocked(txnID common.TxnID, name ResourceName, lockMode LockType) {
	m.queue(name).granted[txnID] = lockMode

	locks, ok := m.txnLocks[txnID]
	if !ok {
		locks = map[ResourceName]LockType{}
		m.txnLocks[txnID] = locks
	}
	locks[name] = lockMode

	m.metrics.granted(lockMode)
}

func (m *Manager) ungrantLocked(txnID common.TxnID, name ResourceName) {
	q, ok := m.qs[name]
	assert.Assert(ok, "trying to release an unlocked resource %q", name)

	mode, ok := q.granted[txnID]
	assert.Assert(ok, "transaction %d doesn't hold a lock on %q", txnID, name)
	delete(q.granted, txnID)

	locks := m.txnLocks[txnID]
	delete(locks, name)
	if len(locks) == 0 {
		delete(m.txnLocks, txnID)
	}

	m.metrics.released(mode)
	m.processQueueLocked(name)
}

func (m *Manager) applyLocked(r *lockRequest) {
	switch r.kind {
	case requestAcquire, requestPromote:
		m.grantLocked(r.txnID, r.name, r.lockMode)
	case requestAcquireAndRelease:
		m.grantLocked(r.txnID, r.name, r.lockMode)
		for _, rel := range r.release {
			if rel == r.name {
				continue
			}
			m.ungrantLocked(r.txnID, rel)
		}
	default:
		assert.Unreachable("unknown request kind %d", r.kind)
	}
}

// processQueueLocked grants queued requests on name from the front for as
// long as they are compatible with the current holders.
func (m *Manager) processQueueLocked(name ResourceName) {
	q, ok := m.qs[name]
	if !ok {
		return
	}

	for len(q.waiting) > 0 {
		r := q.waiting[0]
		if !q.compatible(r.txnID, r.lockMode) {
			break
		}

		q.waiting = q.waiting[1:]
		m.unparkLocked(r)
		m.applyLocked(r)
		close(r.notifier)
	}

	if q.empty() && m.qs[name] == q {
		delete(m.qs, name)
	}
}

func (m *Manager) violation(
	op string,
	txnID common.TxnID,
	name ResourceName,
	held LockType,
	requested LockType,
	kind error,
	reason string,
) error {
	err := &ProtocolError{
		Op:        op,
		Txn:       txnID,
		Resource:  name,
		Held:      held,
		Requested: requested,
		Kind:      kind,
		Reason:    reason,
	}
	m.log.Warnw(
		"lock protocol violation",
		"op", op,
		"txn", txnID,
		"resource", name.String(),
		"held", held.String(),
		"requested", requested.String(),
		"error", err,
	)
	return err
}
