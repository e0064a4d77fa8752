package txns

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

type hierarchyFixture struct {
	lm    *recordingLockManager
	h     *Hierarchy
	db    *LockContext
	table *LockContext
	pages []*LockContext
}

func newHierarchyFixture(t *testing.T) hierarchyFixture {
	t.Helper()

	lm := newRecordingLockManager()
	h := NewHierarchy(lm, nil)
	f := hierarchyFixture{
		lm:    lm,
		h:     h,
		db:    h.Root(),
		table: h.Table(1),
	}
	for i := range 4 {
		f.pages = append(f.pages, h.Page(common.PageIdentity{TableID: 1, PageID: common.PageID(i)}))
	}
	return f
}

func TestHierarchyReturnsSharedContexts(t *testing.T) {
	f := newHierarchyFixture(t)

	require.Same(t, f.table, f.db.Child("table1"))
	require.Same(t, f.pages[2], f.h.Context(NewResourceName(DatabaseResource, "table1", "page2")))
	require.Same(t, f.table, f.pages[2].ParentContext())
	require.Same(t, f.db, f.table.ParentContext())
	require.Nil(t, f.db.ParentContext())
	require.Len(t, f.table.Children(), 4)

	require.Panics(t, func() { f.h.Context(NewResourceName("elsewhere")) })
}

func TestLockContextAcquireCountsAllAncestors(t *testing.T) {
	f := newHierarchyFixture(t)

	require.NoError(t, f.db.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.pages[0].Acquire(1, LockExclusive))
	require.NoError(t, f.pages[1].Acquire(1, LockShared))

	assert.Equal(t, 3, f.db.NumChildLocks(1))
	assert.Equal(t, 2, f.table.NumChildLocks(1))
	assert.Equal(t, 0, f.pages[0].NumChildLocks(1))
	assert.Equal(t, 0, f.db.NumChildLocks(2))
}

func TestLockContextAcquireChecksParent(t *testing.T) {
	f := newHierarchyFixture(t)

	err := f.table.Acquire(1, LockShared)
	require.ErrorIs(t, err, ErrInvalidLock)

	require.NoError(t, f.db.Acquire(1, LockIntentionShared))
	require.ErrorIs(t, f.table.Acquire(1, LockExclusive), ErrInvalidLock)
	require.ErrorIs(t, f.table.Acquire(1, LockIntentionExclusive), ErrInvalidLock)
	require.NoError(t, f.table.Acquire(1, LockShared))

	require.ErrorIs(t, f.table.Acquire(1, LockShared), ErrDuplicateLockRequest)
	require.ErrorIs(t, f.pages[0].Acquire(1, LockNone), ErrInvalidLock)

	require.Equal(t, 1, f.db.NumChildLocks(1), "rejected requests don't touch counters")
}

func TestLockContextAcquireRedundantUnderSIX(t *testing.T) {
	f := newHierarchyFixture(t)

	require.NoError(t, f.db.Acquire(1, LockSharedIntentionExclusive))
	require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
	require.ErrorIs(t, f.pages[0].Acquire(1, LockShared), ErrInvalidLock)
	require.NoError(t, f.pages[0].Acquire(1, LockExclusive))
}

func TestLockContextRelease(t *testing.T) {
	f := newHierarchyFixture(t)

	require.ErrorIs(t, f.db.Release(1), ErrNoLockHeld)

	require.NoError(t, f.db.Acquire(1, LockIntentionShared))
	require.NoError(t, f.table.Acquire(1, LockShared))

	err := f.db.Release(1)
	require.ErrorIs(t, err, ErrInvalidLock, "descendants still depend on the lock")
	require.Equal(t, LockIntentionShared, f.db.ExplicitLockType(1))

	require.NoError(t, f.table.Release(1))
	require.Equal(t, 0, f.db.NumChildLocks(1))
	require.NoError(t, f.db.Release(1))
	require.Empty(t, f.lm.Locks(1))
}

func TestLockContextPromote(t *testing.T) {
	f := newHierarchyFixture(t)

	require.ErrorIs(t, f.db.Promote(1, LockExclusive), ErrNoLockHeld)

	require.NoError(t, f.db.Acquire(1, LockIntentionShared))
	require.NoError(t, f.table.Acquire(1, LockShared))

	require.ErrorIs(t, f.table.Promote(1, LockShared), ErrDuplicateLockRequest)
	require.ErrorIs(t, f.table.Promote(1, LockIntentionShared), ErrInvalidLock)
	require.ErrorIs(t, f.table.Promote(1, LockExclusive), ErrInvalidLock, "parent IS can't parent X")

	require.NoError(t, f.db.Promote(1, LockIntentionExclusive))
	f.lm.Calls()
	require.NoError(t, f.table.Promote(1, LockExclusive))
	require.Equal(t, []string{"promote 1 database/table1 X"}, f.lm.Calls())
	require.Equal(t, LockExclusive, f.table.ExplicitLockType(1))
	require.Equal(t, 1, f.db.NumChildLocks(1))
}

func TestLockContextPromoteToSIXReleasesRedundantLocks(t *testing.T) {
	f := newHierarchyFixture(t)

	require.NoError(t, f.db.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.pages[0].Acquire(1, LockShared))
	require.NoError(t, f.pages[1].Acquire(1, LockIntentionShared))
	require.NoError(t, f.pages[2].Acquire(1, LockExclusive))
	require.Equal(t, 4, f.db.NumChildLocks(1))
	f.lm.Calls()

	require.NoError(t, f.table.Promote(1, LockSharedIntentionExclusive))

	require.Equal(
		t,
		[]string{
			"acquire-and-release 1 database/table1 SIX " +
				"[database/table1 database/table1/page0 database/table1/page1]",
		},
		f.lm.Calls(),
	)
	require.Equal(
		t,
		map[string]LockType{
			"database":              LockIntentionExclusive,
			"database/table1":       LockSharedIntentionExclusive,
			"database/table1/page2": LockExclusive,
		},
		locksOf(f.lm, 1),
	)
	assert.Equal(t, 2, f.db.NumChildLocks(1), "decreased by exactly the two released locks")
	assert.Equal(t, 1, f.table.NumChildLocks(1))
}

func TestLockContextPromoteToSIXKeepsIntentAboveX(t *testing.T) {
	f := newHierarchyFixture(t)

	row := f.pages[0].Child("row1")
	require.NoError(t, f.db.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.pages[0].Acquire(1, LockIntentionExclusive))
	require.NoError(t, row.Acquire(1, LockExclusive))
	require.NoError(t, f.pages[1].Acquire(1, LockIntentionExclusive))

	require.NoError(t, f.table.Promote(1, LockSharedIntentionExclusive))
	require.Equal(t, LockIntentionExclusive, f.pages[0].ExplicitLockType(1))
	require.Equal(t, LockExclusive, row.ExplicitLockType(1))
	require.Equal(t, LockNone, f.pages[1].ExplicitLockType(1))
	require.Equal(t, 2, f.table.NumChildLocks(1))
}

func TestLockContextPromoteToSIXUnderSIX(t *testing.T) {
	f := newHierarchyFixture(t)

	require.NoError(t, f.db.Acquire(1, LockSharedIntentionExclusive))
	require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
	require.ErrorIs(t, f.table.Promote(1, LockSharedIntentionExclusive), ErrInvalidLock)
}

func TestLockContextEscalate(t *testing.T) {
	t.Run("ReadOnlySubtreeBecomesS", func(t *testing.T) {
		f := newHierarchyFixture(t)

		require.NoError(t, f.db.Acquire(1, LockIntentionShared))
		require.NoError(t, f.table.Acquire(1, LockIntentionShared))
		require.NoError(t, f.pages[0].Acquire(1, LockShared))
		require.NoError(t, f.pages[3].Acquire(1, LockShared))
		f.lm.Calls()

		require.NoError(t, f.table.Escalate(1))
		require.Len(t, f.lm.Calls(), 1, "escalation is a single manager call")
		require.Equal(
			t,
			map[string]LockType{"database": LockIntentionShared, "database/table1": LockShared},
			locksOf(f.lm, 1),
		)
		require.Equal(t, 0, f.table.NumChildLocks(1))
		require.Equal(t, 1, f.db.NumChildLocks(1))
	})

	t.Run("WritesBecomeX", func(t *testing.T) {
		f := newHierarchyFixture(t)

		require.NoError(t, f.db.Acquire(1, LockIntentionExclusive))
		require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
		require.NoError(t, f.pages[0].Acquire(1, LockShared))
		require.NoError(t, f.pages[1].Acquire(1, LockExclusive))

		require.NoError(t, f.table.Escalate(1))
		require.Equal(t, LockExclusive, f.table.ExplicitLockType(1))
		require.Equal(t, LockNone, f.pages[0].ExplicitLockType(1))
		require.Equal(t, LockNone, f.pages[1].ExplicitLockType(1))
		require.Equal(t, 1, f.db.NumChildLocks(1))
	})

	t.Run("EscalatingTwiceIsANoop", func(t *testing.T) {
		f := newHierarchyFixture(t)

		require.NoError(t, f.db.Acquire(1, LockIntentionShared))
		require.NoError(t, f.table.Acquire(1, LockIntentionShared))
		require.NoError(t, f.table.Escalate(1))
		f.lm.Calls()

		require.NoError(t, f.table.Escalate(1))
		require.Empty(t, f.lm.Calls())
	})

	t.Run("NothingHeld", func(t *testing.T) {
		f := newHierarchyFixture(t)
		require.ErrorIs(t, f.table.Escalate(1), ErrNoLockHeld)
	})

	t.Run("OtherTransactionsAreUntouched", func(t *testing.T) {
		f := newHierarchyFixture(t)

		require.NoError(t, f.db.Acquire(1, LockIntentionShared))
		require.NoError(t, f.table.Acquire(1, LockIntentionShared))
		require.NoError(t, f.pages[0].Acquire(1, LockShared))
		require.NoError(t, f.db.Acquire(2, LockIntentionShared))
		require.NoError(t, f.table.Acquire(2, LockIntentionShared))
		require.NoError(t, f.pages[1].Acquire(2, LockShared))

		require.NoError(t, f.table.Escalate(1))
		require.Equal(t, LockShared, f.pages[1].ExplicitLockType(2))
		require.Equal(t, 1, f.table.NumChildLocks(2))
	})
}

func TestLockContextEffectiveLockType(t *testing.T) {
	tests := []struct {
		name      string
		db        LockType
		table     LockType
		page      LockType
		effective LockType
	}{
		{"nothing", LockNone, LockNone, LockNone, LockNone},
		{"explicit", LockIntentionShared, LockIntentionShared, LockShared, LockShared},
		{"intent ancestors grant nothing", LockIntentionExclusive, LockIntentionExclusive, LockNone, LockNone},
		{"S ancestor", LockIntentionShared, LockShared, LockNone, LockShared},
		{"SIX ancestor", LockIntentionExclusive, LockSharedIntentionExclusive, LockNone, LockShared},
		{"SIX ancestor over IX", LockSharedIntentionExclusive, LockIntentionExclusive, LockIntentionExclusive, LockSharedIntentionExclusive},
		{"SIX ancestor over X", LockIntentionExclusive, LockSharedIntentionExclusive, LockExclusive, LockExclusive},
		{"X ancestor", LockExclusive, LockNone, LockNone, LockExclusive},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newHierarchyFixture(t)
			for _, step := range []struct {
				lc   *LockContext
				mode LockType
			}{{f.db, test.db}, {f.table, test.table}, {f.pages[0], test.page}} {
				if step.mode != LockNone {
					require.NoError(t, f.lm.Manager.Acquire(1, step.lc.Name(), step.mode))
				}
			}
			require.Equal(t, test.effective, f.pages[0].EffectiveLockType(1))
			require.Equal(t, test.page, f.pages[0].ExplicitLockType(1))
		})
	}
}

func TestLockContextDisableChildLocks(t *testing.T) {
	f := newHierarchyFixture(t)

	require.NoError(t, f.db.Acquire(1, LockIntentionShared))
	f.db.DisableChildLocks()

	require.True(t, f.table.IsReadonly())
	require.True(t, f.pages[0].IsReadonly())
	require.True(t, f.h.Table(9).IsReadonly(), "contexts created later are read-only too")
	require.False(t, f.db.IsReadonly())

	require.ErrorIs(t, f.table.Acquire(1, LockShared), ErrUnsupportedOperation)
	require.ErrorIs(t, f.table.Release(1), ErrUnsupportedOperation)
	require.ErrorIs(t, f.table.Promote(1, LockExclusive), ErrUnsupportedOperation)
	require.ErrorIs(t, f.table.Escalate(1), ErrUnsupportedOperation)
	require.NoError(t, f.db.Promote(1, LockShared))
}

func TestLockContextSaturation(t *testing.T) {
	f := newHierarchyFixture(t)

	require.Equal(t, 4, f.table.Capacity())
	require.NoError(t, f.db.Acquire(1, LockIntentionShared))
	require.NoError(t, f.table.Acquire(1, LockIntentionShared))
	require.NoError(t, f.pages[0].Acquire(1, LockShared))
	require.InDelta(t, 0.25, f.table.Saturation(1), 1e-9)

	f.table.SetCapacity(10)
	require.InDelta(t, 0.1, f.table.Saturation(1), 1e-9)
	require.InDelta(t, 0.0, f.table.Saturation(2), 1e-9)
	require.InDelta(t, 0.0, f.pages[0].Saturation(1), 1e-9)
}

func TestHierarchyReleaseAll(t *testing.T) {
	f := newHierarchyFixture(t)

	require.NoError(t, f.db.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.table.Acquire(1, LockIntentionExclusive))
	require.NoError(t, f.pages[0].Acquire(1, LockExclusive))

	f.h.ReleaseAll(1)
	require.Empty(t, f.lm.Locks(1))
	require.Equal(t, 0, f.db.NumChildLocks(1))
	require.Equal(t, 0, f.table.NumChildLocks(1))

	require.NoError(t, f.db.Acquire(1, LockIntentionShared), "the transaction id can be reused")
}

// teardownLockManager runs onReleaseAll right before the manager tears a
// transaction down.
type teardownLockManager struct {
	*Manager
	onReleaseAll func(txnID common.TxnID)
}

func (m *teardownLockManager) ReleaseAll(txnID common.TxnID) {
	m.onReleaseAll(txnID)
	m.Manager.ReleaseAll(txnID)
}

func TestHierarchyReleaseAllClearsLateCounters(t *testing.T) {
	lm := &teardownLockManager{Manager: NewManager(nil)}
	h := NewHierarchy(lm, nil)
	page := h.Page(common.PageIdentity{TableID: 1, PageID: 0})

	require.NoError(t, h.Root().Acquire(1, LockIntentionExclusive))
	require.NoError(t, h.Table(1).Acquire(1, LockIntentionExclusive))

	// a grant that lands while the transaction is being torn down
	lm.onReleaseAll = func(txnID common.TxnID) {
		h.adjustAncestors(txnID, page.Name(), 1)
	}
	h.ReleaseAll(1)

	require.Empty(t, lm.Locks(1))
	require.Equal(t, 0, h.Root().NumChildLocks(1))
	require.Equal(t, 0, h.Table(1).NumChildLocks(1))
}

func TestLockContextConcurrentSiblings(t *testing.T) {
	lm := NewManager(nil)
	h := NewHierarchy(lm, nil)
	table := h.Table(1)

	const txns = 16
	var wg sync.WaitGroup
	for i := range txns {
		wg.Add(1)
		go func(txnID common.TxnID) {
			defer wg.Done()

			if err := h.Root().Acquire(txnID, LockIntentionShared); err != nil {
				t.Error(err)
				return
			}
			if err := table.Acquire(txnID, LockIntentionShared); err != nil {
				t.Error(err)
				return
			}
			for p := range 8 {
				page := table.Child(PageSegment(common.PageID(p)))
				if err := page.Acquire(txnID, LockShared); err != nil {
					t.Error(err)
					return
				}
			}
		}(common.TxnID(i + 1)) //nolint:gosec
	}
	wg.Wait()

	for i := range txns {
		txnID := common.TxnID(i + 1) //nolint:gosec
		require.Equal(t, 9, h.Root().NumChildLocks(txnID))
		require.Equal(t, 8, table.NumChildLocks(txnID))
	}
	require.Len(t, table.Children(), 8)
}
