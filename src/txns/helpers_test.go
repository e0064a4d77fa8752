package txns

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

func async(f func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- f()
	}()
	return done
}

func expectGranted(t *testing.T, ch <-chan error, mes string) {
	t.Helper()
	require.NotNil(t, ch)
	select {
	case err := <-ch:
		require.NoError(t, err, mes)
	case <-time.After(500 * time.Millisecond):
		t.Fatal(mes)
	}
}

func expectFailed(t *testing.T, ch <-chan error, target error, mes string) {
	t.Helper()
	select {
	case err := <-ch:
		require.ErrorIs(t, err, target, mes)
	case <-time.After(500 * time.Millisecond):
		t.Fatal(mes)
	}
}

func expectBlocked(t *testing.T, ch <-chan error, mes string) {
	t.Helper()
	require.NotNil(t, ch)
	select {
	case err := <-ch:
		t.Fatalf("%s: request finished with %v", mes, err)
	case <-time.After(100 * time.Millisecond):
	}
}

// recordingLockManager logs every mutating call that reaches the manager.
type recordingLockManager struct {
	*Manager

	mu    sync.Mutex
	calls []string
}

var _ LockManager = &recordingLockManager{}

func newRecordingLockManager() *recordingLockManager {
	return &recordingLockManager{Manager: NewManager(nil)}
}

func (r *recordingLockManager) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recordingLockManager) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.calls
	r.calls = nil
	return calls
}

func (r *recordingLockManager) Acquire(txnID common.TxnID, name ResourceName, lockMode LockType) error {
	r.record("acquire %d %s %s", txnID, name, lockMode)
	return r.Manager.Acquire(txnID, name, lockMode)
}

func (r *recordingLockManager) Release(txnID common.TxnID, name ResourceName) error {
	r.record("release %d %s", txnID, name)
	return r.Manager.Release(txnID, name)
}

func (r *recordingLockManager) Promote(txnID common.TxnID, name ResourceName, lockMode LockType) error {
	r.record("promote %d %s %s", txnID, name, lockMode)
	return r.Manager.Promote(txnID, name, lockMode)
}

func (r *recordingLockManager) AcquireAndRelease(
	txnID common.TxnID,
	name ResourceName,
	lockMode LockType,
	release []ResourceName,
) error {
	r.record("acquire-and-release %d %s %s %v", txnID, name, lockMode, release)
	return r.Manager.AcquireAndRelease(txnID, name, lockMode, release)
}

func locksOf(lm LockManager, txnID common.TxnID) map[string]LockType {
	res := map[string]LockType{}
	for _, l := range lm.Locks(txnID) {
		res[l.Name.String()] = l.LockMode
	}
	return res
}
