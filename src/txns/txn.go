package txns

import (
	"context"
	"sync/atomic"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
)

type txnKey struct{}

// WithTxn returns a context that carries txnID as the current transaction.
func WithTxn(ctx context.Context, txnID common.TxnID) context.Context {
	return context.WithValue(ctx, txnKey{}, txnID)
}

// TxnFromContext returns the current transaction, if any.
func TxnFromContext(ctx context.Context) (common.TxnID, bool) {
	txnID, ok := ctx.Value(txnKey{}).(common.TxnID)
	if !ok || txnID.IsNil() {
		return common.NilTxnID, false
	}
	return txnID, true
}

// TxnIDGenerator hands out monotonically increasing transaction ids,
// starting at 1.
type TxnIDGenerator struct {
	last atomic.Uint64
}

func (g *TxnIDGenerator) Next() common.TxnID {
	return common.TxnID(g.last.Add(1))
}
