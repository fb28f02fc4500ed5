package kernel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/GraphKernel/src/indexing"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

// Type distinguishes transactions a caller opened explicitly from
// ones the kernel opened on the caller's behalf.
type Type int

const (
	Implicit Type = iota
	Explicit
)

// Commit/Close results for transactions that wrote nothing or rolled
// back.
const (
	ReadOnly int64 = 0
	Rollback int64 = -1
)

type lifecycleState int32

const (
	stateOpen lifecycleState = iota
	stateCommitting
	stateCommitted
	stateRollingBack
	stateRolledBack
)

// Transaction is a transaction with the graph. Changes made within it
// are immediately visible to its own operations and become visible to
// other transactions only after a successful Commit.
//
// A Transaction is exclusively owned by the goroutine that began it.
// The only cross-goroutine entry point is MarkForTermination; in
// particular FreezeLocks/ThawLocks assume the single owner and must
// not be called concurrently.
type Transaction struct {
	kernel *Kernel
	txnID  common.TxnID
	txType Type

	state       atomic.Int32
	writes      *writeSet
	beginEpoch  uint64
	upgraded    bool
	freezeCount int

	terminationReason atomic.Pointer[TerminationReason]
	terminateOnce     sync.Once
	terminatedCh      chan struct{}

	metaMu   sync.RWMutex
	metadata map[string]any

	stats executionStats

	ops *operations

	releaseOnce sync.Once
	closed      bool
	commitID    int64
}

func (tx *Transaction) loadState() lifecycleState {
	return lifecycleState(tx.state.Load())
}

func (tx *Transaction) setState(s lifecycleState) {
	tx.state.Store(int32(s))
}

// IsOpen reports whether the transaction is still open. Pure
// observer, no side effects.
func (tx *Transaction) IsOpen() bool {
	return tx.loadState() == stateOpen && !tx.closed
}

// IsTerminated reports whether MarkForTermination was invoked.
func (tx *Transaction) IsTerminated() bool {
	return tx.terminationReason.Load() != nil
}

// ReasonIfTerminated returns the reason of the first successful
// MarkForTermination call.
func (tx *Transaction) ReasonIfTerminated() (TerminationReason, bool) {
	r := tx.terminationReason.Load()
	if r == nil {
		return "", false
	}
	return *r, true
}

// MarkForTermination marks the transaction so it can never commit
// successfully and every subsequent operation fails fast. Callable
// from any goroutine at any time before the transaction is terminal.
// The first reason wins: a second call with a different reason keeps
// the first, preserving the initiating failure cause for audit.
func (tx *Transaction) MarkForTermination(reason TerminationReason) {
	switch tx.loadState() {
	case stateCommitted, stateRolledBack:
		return
	}

	if tx.terminationReason.CompareAndSwap(nil, &reason) {
		tx.terminateOnce.Do(func() { close(tx.terminatedCh) })
	}
}

func (tx *Transaction) terminationError() error {
	if r := tx.terminationReason.Load(); r != nil {
		return &TerminationError{Reason: *r}
	}
	return nil
}

// assertOpen guards every data/schema operation: fails fast once the
// transaction is terminated or no longer open.
func (tx *Transaction) assertOpen() error {
	if err := tx.terminationError(); err != nil {
		return err
	}
	if !tx.IsOpen() {
		return errNotOpen
	}
	return nil
}

// SetMetaData associates caller-defined meta data with the
// transaction; purely for introspection, no effect on semantics.
func (tx *Transaction) SetMetaData(data map[string]any) {
	tx.metaMu.Lock()
	defer tx.metaMu.Unlock()

	tx.metadata = make(map[string]any, len(data))
	for k, v := range data {
		tx.metadata[k] = v
	}
}

func (tx *Transaction) MetaData() map[string]any {
	tx.metaMu.RLock()
	defer tx.metaMu.RUnlock()

	out := make(map[string]any, len(tx.metadata))
	for k, v := range tx.metadata {
		out[k] = v
	}
	return out
}

// FreezeLocks forbids lock acquisition and release on this
// transaction until ThawLocks is called once per freeze. Nested.
func (tx *Transaction) FreezeLocks() {
	tx.freezeCount++
}

// ThawLocks undoes one nesting of FreezeLocks.
func (tx *Transaction) ThawLocks() error {
	if tx.freezeCount == 0 {
		return errors.New("thawLocks without a matching freezeLocks")
	}
	tx.freezeCount--
	return nil
}

func (tx *Transaction) locksFrozen() bool { return tx.freezeCount > 0 }

// releaseResources drops locks and open cursors. Runs exactly once,
// on every exit path out of commit, rollback and close.
func (tx *Transaction) releaseResources() {
	tx.releaseOnce.Do(func() {
		tx.ops.closeCursors()
		tx.kernel.locker.ReleaseAll(tx.txnID)
	})
}

// Commit makes the transaction's changes durable and visible:
// storage batch and all derived index batches succeed or fail
// together. Returns the id of the committed transaction, ReadOnly if
// nothing was written, or an error after automatic rollback.
//
// A transaction that was marked for termination can never commit; an
// in-flight Commit observes the mark before finalizing and converts
// to rollback.
func (tx *Transaction) Commit() (int64, error) {
	if tx.loadState() != stateOpen || tx.closed {
		return 0, errors.Wrap(ErrTransactionFailure, "commit on a transaction that is not open")
	}
	if err := tx.terminationError(); err != nil {
		tx.rollbackInternal()
		return 0, err
	}

	tx.setState(stateCommitting)
	defer tx.releaseResources()

	if tx.writes.Empty() {
		tx.setState(stateCommitted)
		tx.closed = true
		tx.commitID = ReadOnly
		return ReadOnly, nil
	}

	ctx, span := tx.kernel.tracer.Start(context.Background(), "kernel.commit")
	defer span.End()

	batch := tx.writes.ToBatch()
	descriptors := tx.kernel.indexing.Descriptors()
	updates := indexing.DeriveUpdates(tx.kernel.store, batch, descriptors)

	// Last chance for an asynchronous termination request to win.
	if err := tx.terminationError(); err != nil {
		tx.abortCommit()
		return 0, err
	}

	inverse, err := tx.kernel.store.Apply(batch)
	if err != nil {
		tx.abortCommit()
		return 0, errors.Wrap(ErrTransactionFailure, err.Error())
	}

	if err := tx.kernel.indexing.ApplyUpdates(ctx, updates); err != nil {
		// Index apply failed: revert the storage batch so storage and
		// indexes stay in lockstep.
		if _, revErr := tx.kernel.store.Apply(inverse); revErr != nil {
			tx.kernel.log.Errorw("storage revert after index failure",
				"txn", tx.txnID, "err", revErr)
		}
		tx.abortCommit()
		return 0, errors.Wrap(ErrTransactionFailure, err.Error())
	}

	tx.setState(stateCommitted)
	tx.closed = true
	tx.commitID = tx.kernel.nextCommitID.Add(1)

	tx.kernel.log.Debugw("transaction committed",
		"txn", tx.txnID, "commitID", tx.commitID, "indexBatches", len(updates))
	return tx.commitID, nil
}

func (tx *Transaction) abortCommit() {
	tx.setState(stateRollingBack)
	tx.writes = newWriteSet()
	tx.setState(stateRolledBack)
	tx.closed = true
	tx.commitID = Rollback
}

// Rollback discards the transaction-state layer without deriving or
// applying any index update. Storage-level rollback never fails.
func (tx *Transaction) Rollback() int64 {
	if tx.loadState() != stateOpen || tx.closed {
		return Rollback
	}
	tx.rollbackInternal()
	return Rollback
}

func (tx *Transaction) rollbackInternal() {
	tx.setState(stateRollingBack)
	defer tx.releaseResources()

	tx.writes = newWriteSet()
	tx.setState(stateRolledBack)
	tx.closed = true
	tx.commitID = Rollback
}

// Close rolls the transaction back unless Commit already completed.
// Safe as deferred cleanup after an error from any operation; closing
// twice is a no-op.
func (tx *Transaction) Close() error {
	if tx.closed {
		return nil
	}
	if tx.IsOpen() {
		tx.rollbackInternal()
	}
	return nil
}
