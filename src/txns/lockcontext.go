package txns

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/relcore/src"
	"github.com/Blackdeer1524/relcore/src/pkg/assert"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

// Hierarchy owns one LockContext per resource name. Contexts are created on
// first access and live as long as the hierarchy. A context finds its parent
// by name through the hierarchy, never through a back pointer.
type Hierarchy struct {
	lm  LockManager
	log src.Logger

	mu       sync.Mutex
	contexts map[ResourceName]*LockContext
	root     *LockContext
}

func NewHierarchy(lm LockManager, log src.Logger) *Hierarchy {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	h := &Hierarchy{
		lm:       lm,
		log:      log,
		contexts: map[ResourceName]*LockContext{},
	}
	h.root = newLockContext(h, NewResourceName(DatabaseResource), false)
	h.contexts[h.root.name] = h.root

	return h
}

func (h *Hierarchy) Root() *LockContext {
	return h.root
}

func (h *Hierarchy) LockManager() LockManager {
	return h.lm
}

// Context returns the context of name, creating the missing contexts along
// the path.
func (h *Hierarchy) Context(name ResourceName) *LockContext {
	if c, ok := h.lookup(name); ok {
		return c
	}

	segments := name.Segments()
	assert.Assert(
		len(segments) > 0 && segments[0] == h.root.name.String(),
		"resource %q is outside of the hierarchy rooted at %q",
		name,
		h.root.name,
	)

	c := h.root
	for _, s := range segments[1:] {
		c = c.Child(s)
	}
	return c
}

func (h *Hierarchy) Table(table common.TableID) *LockContext {
	return h.Context(TableResource(table))
}

func (h *Hierarchy) Page(page common.PageIdentity) *LockContext {
	return h.Context(PageResource(page))
}

// ReleaseAll tears down every lock of txnID, both in the manager and in the
// descendant counters.
func (h *Hierarchy) ReleaseAll(txnID common.TxnID) {
	// the manager goes first: a grant racing with the teardown must not
	// bump a counter that has already been cleared
	h.lm.ReleaseAll(txnID)

	h.mu.Lock()
	contexts := slices.Collect(maps.Values(h.contexts))
	h.mu.Unlock()

	for _, c := range contexts {
		c.forget(txnID)
	}
}

func (h *Hierarchy) lookup(name ResourceName) (*LockContext, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.contexts[name]
	return c, ok
}

func (h *Hierarchy) register(c *LockContext) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, exists := h.contexts[c.name]
	assert.Assert(!exists, "lock context %q is registered twice", c.name)
	h.contexts[c.name] = c
}

// adjustAncestors adds delta to the descendant counter of txnID in every
// strict ancestor of name.
func (h *Hierarchy) adjustAncestors(txnID common.TxnID, name ResourceName, delta int) {
	for p, ok := name.Parent().Get(); ok; p, ok = p.Parent().Get() {
		h.Context(p).addChildLocks(txnID, delta)
	}
}

// LockContext wraps LockManager calls for a single resource with the
// bookkeeping the multigranularity protocol needs.
type LockContext struct {
	h        *Hierarchy
	name     ResourceName
	readonly atomic.Bool

	mu                 sync.Mutex
	children           map[string]*LockContext
	numChildLocks      map[common.TxnID]int
	childLocksDisabled bool
	capacity           int
}

func newLockContext(h *Hierarchy, name ResourceName, readonly bool) *LockContext {
	c := &LockContext{
		h:             h,
		name:          name,
		children:      map[string]*LockContext{},
		numChildLocks: map[common.TxnID]int{},
		capacity:      -1,
	}
	c.readonly.Store(readonly)
	return c
}

func (c *LockContext) Name() ResourceName {
	return c.name
}

// ParentContext returns nil for the root.
func (c *LockContext) ParentContext() *LockContext {
	p, ok := c.name.Parent().Get()
	if !ok {
		return nil
	}
	return c.h.Context(p)
}

// Child returns the context of the child resource named segment. Every
// caller gets the same object for the same name.
func (c *LockContext) Child(segment string) *LockContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	if child, ok := c.children[segment]; ok {
		return child
	}

	child := newLockContext(c.h, c.name.Child(segment), c.readonly.Load() || c.childLocksDisabled)
	c.children[segment] = child
	c.h.register(child)

	return child
}

// Children returns the child contexts created so far, ordered by name.
func (c *LockContext) Children() []*LockContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	children := slices.Collect(maps.Values(c.children))
	slices.SortFunc(children, func(a, b *LockContext) int { return a.name.Compare(b.name) })
	return children
}

func (c *LockContext) IsReadonly() bool {
	return c.readonly.Load()
}

// DisableChildLocks makes every current and future descendant context
// read-only.
func (c *LockContext) DisableChildLocks() {
	c.mu.Lock()
	c.childLocksDisabled = true
	children := slices.Collect(maps.Values(c.children))
	c.mu.Unlock()

	for _, child := range children {
		child.readonly.Store(true)
		child.DisableChildLocks()
	}
}

// NumChildLocks returns how many strict descendants of this resource txnID
// holds a lock on.
func (c *LockContext) NumChildLocks(txnID common.TxnID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.numChildLocks[txnID]
}

// SetCapacity overrides the number of children used by Saturation.
func (c *LockContext) SetCapacity(capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
}

func (c *LockContext) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.capacityLocked()
}

func (c *LockContext) capacityLocked() int {
	if c.capacity < 0 {
		return len(c.children)
	}
	return c.capacity
}

// Saturation is the fraction of children txnID holds a lock on.
func (c *LockContext) Saturation(txnID common.TxnID) float64 {
	c.mu.Lock()
	children := slices.Collect(maps.Values(c.children))
	capacity := c.capacityLocked()
	c.mu.Unlock()

	if capacity == 0 {
		return 0
	}

	locked := 0
	for _, child := range children {
		if child.ExplicitLockType(txnID) != LockNone {
			locked++
		}
	}
	return float64(locked) / float64(capacity)
}

func (c *LockContext) ExplicitLockType(txnID common.TxnID) LockType {
	return c.h.lm.LockType(txnID, c.name)
}

// EffectiveLockType accounts for ancestor locks: an X ancestor grants X
// here, an S or SIX ancestor grants at least S.
func (c *LockContext) EffectiveLockType(txnID common.TxnID) LockType {
	explicit := c.ExplicitLockType(txnID)

	inheritsShared := false
	for p := c.ParentContext(); p != nil; p = p.ParentContext() {
		switch p.ExplicitLockType(txnID) {
		case LockExclusive:
			return LockExclusive
		case LockShared, LockSharedIntentionExclusive:
			inheritsShared = true
		}
	}

	if !inheritsShared {
		return explicit
	}
	switch explicit {
	case LockExclusive:
		return LockExclusive
	case LockIntentionExclusive, LockSharedIntentionExclusive:
		return LockSharedIntentionExclusive
	default:
		return LockShared
	}
}

// Acquire grants lockMode on this resource. The transaction must not hold
// a lock here yet, and the parent lock must permit lockMode.
func (c *LockContext) Acquire(txnID common.TxnID, lockMode LockType) error {
	mustBeValid(lockMode)

	held := c.ExplicitLockType(txnID)
	if err := c.checkWritable("acquire", txnID, held, lockMode); err != nil {
		return err
	}

	switch {
	case lockMode == LockNone:
		return c.violation(
			"acquire", txnID, held, lockMode,
			ErrInvalidLock, "NL can't be acquired, release the lock instead",
		)
	case held != LockNone:
		return c.violation("acquire", txnID, held, lockMode, ErrDuplicateLockRequest, "")
	case (lockMode == LockShared || lockMode == LockIntentionShared) && c.hasSIXAncestor(txnID):
		return c.violation(
			"acquire", txnID, held, lockMode,
			ErrInvalidLock, "an ancestor already holds SIX",
		)
	}
	if err := c.checkParent("acquire", txnID, held, lockMode); err != nil {
		return err
	}

	if err := c.h.lm.Acquire(txnID, c.name, lockMode); err != nil {
		return err
	}
	c.h.adjustAncestors(txnID, c.name, 1)

	return nil
}

// Release drops the lock on this resource. Locks on descendants have to be
// released first.
func (c *LockContext) Release(txnID common.TxnID) error {
	held := c.ExplicitLockType(txnID)
	if err := c.checkWritable("release", txnID, held, LockNone); err != nil {
		return err
	}

	if held == LockNone {
		return c.violation("release", txnID, held, LockNone, ErrNoLockHeld, "")
	}
	if n := c.NumChildLocks(txnID); n > 0 {
		return c.violation(
			"release", txnID, held, LockNone,
			ErrInvalidLock, fmt.Sprintf("%d descendant locks depend on it", n),
		)
	}

	if err := c.h.lm.Release(txnID, c.name); err != nil {
		return err
	}
	c.h.adjustAncestors(txnID, c.name, -1)

	return nil
}

// Promote replaces the held lock with the stronger lockMode. Promoting to
// SIX also drops descendant locks the SIX lock makes redundant, using a
// single AcquireAndRelease call.
func (c *LockContext) Promote(txnID common.TxnID, lockMode LockType) error {
	mustBeValid(lockMode)

	held := c.ExplicitLockType(txnID)
	if err := c.checkWritable("promote", txnID, held, lockMode); err != nil {
		return err
	}

	switch {
	case held == LockNone:
		return c.violation("promote", txnID, held, lockMode, ErrNoLockHeld, "")
	case held == lockMode:
		return c.violation("promote", txnID, held, lockMode, ErrDuplicateLockRequest, "")
	case !Substitutable(lockMode, held):
		return c.violation(
			"promote", txnID, held, lockMode,
			ErrInvalidLock, "requested mode doesn't cover the held one",
		)
	case lockMode == LockSharedIntentionExclusive && c.hasSIXAncestor(txnID):
		return c.violation(
			"promote", txnID, held, lockMode,
			ErrInvalidLock, "an ancestor already holds SIX",
		)
	}
	if err := c.checkParent("promote", txnID, held, lockMode); err != nil {
		return err
	}

	if lockMode != LockSharedIntentionExclusive {
		return c.h.lm.Promote(txnID, c.name, lockMode)
	}

	redundant := c.redundantUnderSIX(txnID)
	release := make([]ResourceName, 0, len(redundant)+1)
	release = append(release, c.name)
	for _, l := range redundant {
		release = append(release, l.Name)
	}

	if err := c.h.lm.AcquireAndRelease(txnID, c.name, lockMode, release); err != nil {
		return err
	}
	for _, l := range redundant {
		c.h.adjustAncestors(txnID, l.Name, -1)
	}

	return nil
}

// Escalate collapses the locks txnID holds on this resource and its
// descendants into a single S or X lock here. X is chosen if any of them
// allows writes.
func (c *LockContext) Escalate(txnID common.TxnID) error {
	held := c.ExplicitLockType(txnID)
	if err := c.checkWritable("escalate", txnID, held, LockNone); err != nil {
		return err
	}
	if held == LockNone {
		return c.violation("escalate", txnID, held, LockNone, ErrNoLockHeld, "")
	}

	descendants := c.descendantLocks(txnID)

	target := LockShared
	if !readOnlyMode(held) {
		target = LockExclusive
	}
	for _, l := range descendants {
		if !readOnlyMode(l.LockMode) {
			target = LockExclusive
			break
		}
	}

	if len(descendants) == 0 && held == target {
		return nil
	}
	if err := c.checkParent("escalate", txnID, held, target); err != nil {
		return err
	}

	release := make([]ResourceName, 0, len(descendants)+1)
	release = append(release, c.name)
	for _, l := range descendants {
		release = append(release, l.Name)
	}

	if err := c.h.lm.AcquireAndRelease(txnID, c.name, target, release); err != nil {
		return err
	}
	for _, l := range descendants {
		c.h.adjustAncestors(txnID, l.Name, -1)
	}

	c.h.log.Debugw(
		"escalated lock",
		"txn", txnID,
		"resource", c.name.String(),
		"from", held.String(),
		"to", target.String(),
		"released", len(descendants),
	)

	return nil
}

func readOnlyMode(t LockType) bool {
	return t == LockShared || t == LockIntentionShared
}

func (c *LockContext) descendantLocks(txnID common.TxnID) []Lock {
	var res []Lock
	for _, l := range c.h.lm.Locks(txnID) {
		if l.Name.IsDescendantOf(c.name) {
			res = append(res, l)
		}
	}
	return res
}

// redundantUnderSIX returns the descendant locks a SIX lock on this
// resource subsumes: everything except X locks and the intent locks that
// parent a retained X lock.
func (c *LockContext) redundantUnderSIX(txnID common.TxnID) []Lock {
	descendants := c.descendantLocks(txnID)

	var exclusive []ResourceName
	for _, l := range descendants {
		if l.LockMode == LockExclusive {
			exclusive = append(exclusive, l.Name)
		}
	}

	var redundant []Lock
	for _, l := range descendants {
		if l.LockMode == LockExclusive {
			continue
		}
		supportsX := slices.ContainsFunc(exclusive, func(x ResourceName) bool {
			return x.IsDescendantOf(l.Name)
		})
		if !supportsX {
			redundant = append(redundant, l)
		}
	}
	return redundant
}

func (c *LockContext) hasSIXAncestor(txnID common.TxnID) bool {
	for p := c.ParentContext(); p != nil; p = p.ParentContext() {
		if p.ExplicitLockType(txnID) == LockSharedIntentionExclusive {
			return true
		}
	}
	return false
}

func (c *LockContext) checkWritable(op string, txnID common.TxnID, held, requested LockType) error {
	if !c.readonly.Load() {
		return nil
	}
	return c.violation(op, txnID, held, requested, ErrUnsupportedOperation, "child locks are disabled")
}

func (c *LockContext) checkParent(op string, txnID common.TxnID, held, requested LockType) error {
	p := c.ParentContext()
	if p == nil {
		return nil
	}

	parentMode := p.ExplicitLockType(txnID)
	if CanBeParentLock(parentMode, requested) {
		return nil
	}
	return c.violation(
		op, txnID, held, requested,
		ErrInvalidLock, fmt.Sprintf("parent %q holds %s", p.name, parentMode),
	)
}

func (c *LockContext) addChildLocks(txnID common.TxnID, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.numChildLocks[txnID] + delta
	assert.Assert(n >= 0, "negative descendant lock counter for %s on %q", txnID, c.name)
	if n == 0 {
		delete(c.numChildLocks, txnID)
		return
	}
	c.numChildLocks[txnID] = n
}

func (c *LockContext) forget(txnID common.TxnID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.numChildLocks, txnID)
}

func (c *LockContext) violation(
	op string,
	txnID common.TxnID,
	held LockType,
	requested LockType,
	kind error,
	reason string,
) error {
	err := &ProtocolError{
		Op:        op,
		Txn:       txnID,
		Resource:  c.name,
		Held:      held,
		Requested: requested,
		Kind:      kind,
		Reason:    reason,
	}
	c.h.log.Warnw(
		"lock protocol violation",
		"op", op,
		"txn", txnID,
		"resource", c.name.String(),
		"held", held.String(),
		"requested", requested.String(),
		"error", err,
	)
	return err
}

func (c *LockContext) String() string {
	var b strings.Builder
	b.WriteString("LockContext(")
	b.WriteString(c.name.String())
	if c.readonly.Load() {
		b.WriteString(", readonly")
	}
	b.WriteString(")")
	return b.String()
}
