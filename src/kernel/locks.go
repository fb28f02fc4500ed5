package kernel

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/txns"
)

// LockClient is the transaction's view of the process-wide lock
// facade. Every acquisition goes through the freeze gate first and
// waits cooperatively: a pending wait aborts as soon as the owning
// transaction is marked for termination or the context expires.
type LockClient struct {
	tx *Transaction
}

func (lc *LockClient) guard() error {
	if err := lc.tx.assertOpen(); err != nil {
		return err
	}
	if lc.tx.locksFrozen() {
		return ErrFrozenLocks
	}
	return nil
}

func (lc *LockClient) await(ctx context.Context, notifier <-chan struct{}) error {
	select {
	case <-notifier:
		return nil
	case <-lc.tx.terminatedCh:
		return lc.tx.terminationError()
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "lock wait")
	}
}

func (lc *LockClient) acquireEntity(
	ctx context.Context,
	id common.EntityID,
	mode txns.EntityLockMode,
) error {
	if err := lc.guard(); err != nil {
		return err
	}

	n := lc.tx.kernel.locker.LockEntity(lc.tx.txnID, id, mode)
	if n.IsNone() {
		return errors.Wrap(txns.ErrDeadlockPrevention, "entity lock")
	}
	return lc.await(ctx, n.Unwrap())
}

// AcquireSharedEntity blocks until the node can be read without a
// concurrent writer, honoring wait-die.
func (lc *LockClient) AcquireSharedEntity(ctx context.Context, id common.EntityID) error {
	return lc.acquireEntity(ctx, id, txns.ENTITY_LOCK_SHARED)
}

// AcquireExclusiveEntity blocks until this transaction is the node's
// only lock holder, upgrading an already held shared lock in place.
func (lc *LockClient) AcquireExclusiveEntity(ctx context.Context, id common.EntityID) error {
	return lc.acquireEntity(ctx, id, txns.ENTITY_LOCK_EXCLUSIVE)
}

func (lc *LockClient) acquireSchema(ctx context.Context, mode txns.SchemaLockMode) error {
	if err := lc.guard(); err != nil {
		return err
	}

	n := lc.tx.kernel.locker.LockSchema(lc.tx.txnID, mode)
	if n.IsNone() {
		return errors.Wrap(txns.ErrDeadlockPrevention, "schema lock")
	}
	return lc.await(ctx, n.Unwrap())
}

// AcquireSchemaShared protects writers from a concurrent index
// create/drop for the rest of the transaction.
func (lc *LockClient) AcquireSchemaShared(ctx context.Context) error {
	return lc.acquireSchema(ctx, txns.SCHEMA_LOCK_SHARED)
}

// AcquireSchemaExclusive serializes an index create/drop against
// every writer.
func (lc *LockClient) AcquireSchemaExclusive(ctx context.Context) error {
	return lc.acquireSchema(ctx, txns.SCHEMA_LOCK_EXCLUSIVE)
}

// ReleaseAll is only valid outside a frozen section; normally locks
// live until commit or rollback and are dropped by the transaction
// itself.
func (lc *LockClient) ReleaseAll() error {
	if lc.tx.locksFrozen() {
		return ErrFrozenLocks
	}
	lc.tx.kernel.locker.ReleaseAll(lc.tx.txnID)
	return nil
}
