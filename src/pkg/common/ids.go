package common

import "strconv"

// TxnID is a monotonically increasing counter. It is guaranteed to be
// unique between transactions of one process.
type TxnID uint64

const NilTxnID TxnID = 0

func (t TxnID) IsNil() bool {
	return t == NilTxnID
}

func (t TxnID) String() string {
	return "txn#" + strconv.FormatUint(uint64(t), 10)
}

// TableID and PageID name the storage objects the lock hierarchy covers.
type TableID uint64
type PageID uint64

// PageIdentity addresses a page within a table.
type PageIdentity struct {
	TableID TableID
	PageID  PageID
}
