package txns

import (
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
)

// LockType is a multigranularity lock mode.
//
// https://www.geeksforgeeks.org/dbms/multiple-granularity-locking-in-dbms/
type LockType uint8

const (
	LockNone LockType = iota
	LockIntentionShared
	LockIntentionExclusive
	LockShared
	LockSharedIntentionExclusive
	LockExclusive

	lockTypeCount
)

// AllLockTypes lists every valid lock mode.
var AllLockTypes = [...]LockType{
	LockNone,
	LockIntentionShared,
	LockIntentionExclusive,
	LockShared,
	LockSharedIntentionExclusive,
	LockExclusive,
}

func (t LockType) Valid() bool {
	return t < lockTypeCount
}

func mustBeValid(types ...LockType) {
	for _, t := range types {
		if !t.Valid() {
			panic(errors.Wrapf(ErrInvalidLockType, "lock type %d", uint8(t)))
		}
	}
}

func (t LockType) String() string {
	switch t {
	case LockNone:
		return "NL"
	case LockIntentionShared:
		return "IS"
	case LockIntentionExclusive:
		return "IX"
	case LockShared:
		return "S"
	case LockSharedIntentionExclusive:
		return "SIX"
	case LockExclusive:
		return "X"
	}
	return "INVALID"
}

// IsIntent reports whether t announces locks on descendants.
func (t LockType) IsIntent() bool {
	mustBeValid(t)
	return t == LockIntentionShared ||
		t == LockIntentionExclusive ||
		t == LockSharedIntentionExclusive
}

// Compatible reports whether one transaction may hold `held` on a resource
// while another holds `requested` on the same resource.
func Compatible(held, requested LockType) bool {
	mustBeValid(held, requested)

	if held == LockNone || requested == LockNone {
		return true
	}

	switch held {
	case LockIntentionShared:
		return requested != LockExclusive
	case LockIntentionExclusive:
		return requested == LockIntentionShared || requested == LockIntentionExclusive
	case LockShared:
		return requested == LockIntentionShared || requested == LockShared
	case LockSharedIntentionExclusive:
		return requested == LockIntentionShared
	case LockExclusive:
		return false
	}
	assert.Unreachable("lock type %s", held)
	return false
}

// ParentLock returns the mode that must be held on the parent resource
// before t can be granted on a child.
func ParentLock(t LockType) LockType {
	mustBeValid(t)

	switch t {
	case LockNone:
		return LockNone
	case LockIntentionShared, LockShared:
		return LockIntentionShared
	case LockIntentionExclusive, LockSharedIntentionExclusive, LockExclusive:
		return LockIntentionExclusive
	}
	assert.Unreachable("lock type %s", t)
	return LockNone
}

// CanBeParentLock reports whether holding parent on a resource permits
// granting child on one of its children.
func CanBeParentLock(parent, child LockType) bool {
	mustBeValid(parent, child)

	switch child {
	case LockNone:
		return true
	case LockIntentionShared, LockShared:
		return parent != LockNone && parent != LockSharedIntentionExclusive
	case LockIntentionExclusive, LockExclusive, LockSharedIntentionExclusive:
		return parent == LockIntentionExclusive ||
			parent == LockSharedIntentionExclusive ||
			parent == LockExclusive
	}
	assert.Unreachable("lock type %s", child)
	return false
}

// Substitutable reports whether holding substitute grants everything
// required would.
func Substitutable(substitute, required LockType) bool {
	mustBeValid(substitute, required)

	switch required {
	case LockNone:
		return substitute == LockNone
	case LockIntentionShared:
		return substitute != LockNone
	case LockIntentionExclusive:
		return substitute == LockIntentionExclusive ||
			substitute == LockSharedIntentionExclusive ||
			substitute == LockExclusive
	case LockShared:
		return substitute == LockShared ||
			substitute == LockSharedIntentionExclusive ||
			substitute == LockExclusive
	case LockSharedIntentionExclusive:
		return substitute == LockSharedIntentionExclusive || substitute == LockExclusive
	case LockExclusive:
		return substitute == LockExclusive
	}
	assert.Unreachable("lock type %s", required)
	return false
}
