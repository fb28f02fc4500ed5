package txns

import (
	"sync"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/optional"
)

// Locker is the process-wide lock facade transactions go through.
// Entity locks guard single-node writes; the schema lock serializes
// index creation/drop against writers.
type Locker struct {
	schemaLockManager *Manager[SchemaLockMode, struct{}]
	entityLockManager *Manager[EntityLockMode, common.EntityID]

	heldGuard sync.Mutex
	held      map[common.TxnID]map[common.EntityID]EntityLockMode
}

func NewLocker() *Locker {
	return &Locker{
		schemaLockManager: NewManager[SchemaLockMode, struct{}](),
		entityLockManager: NewManager[EntityLockMode, common.EntityID](),
		held:              map[common.TxnID]map[common.EntityID]EntityLockMode{},
	}
}

func closedNotifier() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// LockSchema acquires the schema lock. None means the request lost to
// the deadlock prevention policy and the transaction must abort.
func (l *Locker) LockSchema(
	txnID common.TxnID,
	lockMode SchemaLockMode,
) optional.Optional[<-chan struct{}] {
	if l.schemaLockManager.IsHeld(txnID, struct{}{}) {
		n := l.schemaLockManager.Upgrade(NewTxnLockRequest(txnID, struct{}{}, lockMode))
		if n == nil {
			return optional.None[<-chan struct{}]()
		}
		return optional.Some(n)
	}

	n := l.schemaLockManager.Lock(NewTxnLockRequest(txnID, struct{}{}, lockMode))
	if n == nil {
		return optional.None[<-chan struct{}]()
	}
	return optional.Some(n)
}

// LockEntity acquires (or upgrades to) the requested lock on a node.
func (l *Locker) LockEntity(
	txnID common.TxnID,
	id common.EntityID,
	lockMode EntityLockMode,
) optional.Optional[<-chan struct{}] {
	heldMode, isHeld := func() (EntityLockMode, bool) {
		l.heldGuard.Lock()
		defer l.heldGuard.Unlock()

		modes, ok := l.held[txnID]
		if !ok {
			return EntityLockMode{}, false
		}
		m, ok := modes[id]
		return m, ok
	}()

	if isHeld {
		if heldMode == lockMode || heldMode == ENTITY_LOCK_EXCLUSIVE {
			return optional.Some(closedNotifier())
		}

		n := l.entityLockManager.Upgrade(NewTxnLockRequest(txnID, id, lockMode))
		if n == nil {
			return optional.None[<-chan struct{}]()
		}
		l.rememberHeld(txnID, id, lockMode)
		return optional.Some(n)
	}

	n := l.entityLockManager.Lock(NewTxnLockRequest(txnID, id, lockMode))
	if n == nil {
		return optional.None[<-chan struct{}]()
	}
	l.rememberHeld(txnID, id, lockMode)
	return optional.Some(n)
}

func (l *Locker) rememberHeld(
	txnID common.TxnID,
	id common.EntityID,
	lockMode EntityLockMode,
) {
	l.heldGuard.Lock()
	defer l.heldGuard.Unlock()

	modes, ok := l.held[txnID]
	if !ok {
		modes = map[common.EntityID]EntityLockMode{}
		l.held[txnID] = modes
	}
	modes[id] = lockMode
}

// ReleaseAll drops every lock the transaction holds, including
// entries it abandoned while still waiting for a grant.
func (l *Locker) ReleaseAll(txnID common.TxnID) {
	func() {
		l.heldGuard.Lock()
		defer l.heldGuard.Unlock()
		delete(l.held, txnID)
	}()

	l.entityLockManager.UnlockAll(txnID)
	l.schemaLockManager.UnlockAll(txnID)
}
