package txns

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

var tracer = otel.Tracer(instrumentationName)

// EnsureSufficientLockHeld makes sure the transaction carried by ctx can
// perform actions requiring requestType (S, X or NL) on lc. It acquires,
// promotes or escalates the fewest locks needed, including intent locks on
// ancestors. It is a no-op when ctx carries no transaction or lc is nil.
func EnsureSufficientLockHeld(
	ctx context.Context,
	lc *LockContext,
	requestType LockType,
) (err error) {
	mustBeValid(requestType)
	assert.Assert(
		requestType == LockShared || requestType == LockExclusive || requestType == LockNone,
		"only S, X and NL can be requested, got %s",
		requestType,
	)

	txnID, ok := TxnFromContext(ctx)
	if !ok || lc == nil || requestType == LockNone {
		return nil
	}

	_, span := tracer.Start(
		ctx,
		"txns.EnsureSufficientLockHeld",
		trace.WithAttributes(
			attribute.String("resource", lc.Name().String()),
			attribute.String("request", requestType.String()),
			attribute.Int64("txn", int64(txnID)), //nolint:gosec
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	effective := lc.EffectiveLockType(txnID)
	explicit := lc.ExplicitLockType(txnID)

	if Substitutable(effective, requestType) {
		return nil
	}

	if Substitutable(requestType, effective) && explicit != LockNone {
		if explicit.IsIntent() {
			if err := lc.Escalate(txnID); err != nil {
				return err
			}
			if Substitutable(lc.EffectiveLockType(txnID), requestType) {
				return nil
			}
		}
		return lockTarget(txnID, lc, requestType)
	}

	if explicit == LockIntentionExclusive && requestType == LockShared {
		return lc.Promote(txnID, LockSharedIntentionExclusive)
	}

	return lockTarget(txnID, lc, requestType)
}

// lockTarget secures the intent locks on the ancestors of lc and then
// acquires or promotes requestType on lc itself.
func lockTarget(txnID common.TxnID, lc *LockContext, requestType LockType) error {
	if err := ensureAncestors(txnID, lc, ParentLock(requestType)); err != nil {
		return err
	}

	// promoting an ancestor to SIX may have released or covered lc's lock
	if Substitutable(lc.EffectiveLockType(txnID), requestType) {
		return nil
	}
	if lc.ExplicitLockType(txnID) == LockNone {
		return lc.Acquire(txnID, requestType)
	}
	return lc.Promote(txnID, requestType)
}

// ensureAncestors makes the parent of lc hold at least need, fixing the
// ancestors root-down first.
func ensureAncestors(txnID common.TxnID, lc *LockContext, need LockType) error {
	parent := lc.ParentContext()
	if parent == nil || need == LockNone {
		return nil
	}

	held := parent.ExplicitLockType(txnID)
	if Substitutable(held, need) {
		return nil
	}

	if err := ensureAncestors(txnID, parent, ParentLock(need)); err != nil {
		return err
	}

	switch {
	case held == LockNone:
		return parent.Acquire(txnID, need)
	case held == LockShared && need == LockIntentionExclusive:
		return parent.Promote(txnID, LockSharedIntentionExclusive)
	default:
		return parent.Promote(txnID, need)
	}
}
