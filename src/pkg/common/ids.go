package common

// TxnID is a monotonically increasing transaction identifier. Besides
// identifying a transaction it orders transactions for the wait-die
// deadlock prevention policy in the lock manager.
type TxnID uint64

const NilTxnID TxnID = 0

// EntityID identifies a node in the graph.
type EntityID uint64

// TokenID is the id side of a token (label name or property key name).
// Token-to-string translation lives behind the token registry and is
// not this kernel's concern.
type TokenID int64

const NilTokenID TokenID = -1
