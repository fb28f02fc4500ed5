package txns

import (
	"runtime"
	"sync"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/assert"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

// Manager is a lock manager over objects of one kind. A per-object
// queue orders requests; the wait-die policy (older transactions may
// wait for younger ones, never the reverse) prevents deadlocks.
type Manager[LockModeType LockMode[LockModeType], ObjectIDType comparable] struct {
	qsGuard sync.Mutex
	qs      map[ObjectIDType]*txnQueue[LockModeType, ObjectIDType]

	lockedObjectsGuard sync.Mutex
	lockedObjects      map[common.TxnID]map[ObjectIDType]struct{}
}

func NewManager[LockModeType LockMode[LockModeType], ObjectIDType comparable]() *Manager[LockModeType, ObjectIDType] {
	return &Manager[LockModeType, ObjectIDType]{
		qsGuard:            sync.Mutex{},
		qs:                 map[ObjectIDType]*txnQueue[LockModeType, ObjectIDType]{},
		lockedObjectsGuard: sync.Mutex{},
		lockedObjects:      map[common.TxnID]map[ObjectIDType]struct{}{},
	}
}

// Lock attempts to acquire a lock on the object named in the request.
// Returns a channel that is closed once the lock is granted, or nil
// if the request was refused by the deadlock prevention policy.
//
// The object is registered as held by the transaction before the
// grant arrives, so UnlockAll releases entries a terminated
// transaction abandoned while still waiting.
func (m *Manager[LockModeType, ObjectIDType]) Lock(
	r TxnLockRequest[LockModeType, ObjectIDType],
) <-chan struct{} {
	q := func() *txnQueue[LockModeType, ObjectIDType] {
		m.qsGuard.Lock()
		defer m.qsGuard.Unlock()

		q, ok := m.qs[r.objectID]
		if !ok {
			q = newTxnQueue[LockModeType, ObjectIDType]()
			m.qs[r.objectID] = q
		}

		return q
	}()

	notifier := q.Lock(r)
	if notifier == nil {
		return nil
	}

	func() {
		m.lockedObjectsGuard.Lock()
		defer m.lockedObjectsGuard.Unlock()

		alreadyLocked, ok := m.lockedObjects[r.txnID]
		if !ok {
			alreadyLocked = make(map[ObjectIDType]struct{})
			m.lockedObjects[r.txnID] = alreadyLocked
		}

		_, isAlreadyLocked := alreadyLocked[r.objectID]
		assert.Assert(!isAlreadyLocked,
			"Didn't expect the object %+v to be locked by a transaction %+v",
			r.objectID,
			r.txnID)

		alreadyLocked[r.objectID] = struct{}{}
	}()

	return notifier
}

// IsHeld reports whether the transaction currently holds (or waits
// for) a lock on the object.
func (m *Manager[LockModeType, ObjectIDType]) IsHeld(
	txnID common.TxnID,
	objectID ObjectIDType,
) bool {
	m.lockedObjectsGuard.Lock()
	defer m.lockedObjectsGuard.Unlock()

	held, ok := m.lockedObjects[txnID]
	if !ok {
		return false
	}
	_, ok = held[objectID]
	return ok
}

// Upgrade attempts to upgrade the lock the transaction already holds
// on the object. Retries internally while the queue is contended.
// Returns a channel closed once the upgrade is granted, or nil if the
// upgrade lost to the deadlock prevention policy.
func (m *Manager[LockModeType, ObjectIDType]) Upgrade(
	r TxnLockRequest[LockModeType, ObjectIDType],
) <-chan struct{} {
	q := func() *txnQueue[LockModeType, ObjectIDType] {
		m.qsGuard.Lock()
		defer m.qsGuard.Unlock()

		q, present := m.qs[r.objectID]
		assert.Assert(present,
			"trying to upgrade a lock on an unlocked object. request: %+v",
			r)

		return q
	}()

	for {
		notifier, lost := q.Upgrade(r)
		if lost {
			return nil
		}
		if notifier != nil {
			return notifier
		}
		runtime.Gosched()
	}
}

// Unlock releases the lock held by the transaction on one object.
func (m *Manager[LockModeType, ObjectIDType]) Unlock(
	r TxnUnlockRequest[ObjectIDType],
) {
	q := func() *txnQueue[LockModeType, ObjectIDType] {
		m.qsGuard.Lock()
		defer m.qsGuard.Unlock()

		q, present := m.qs[r.objectID]
		assert.Assert(present,
			"trying to unlock the already unlocked object. objectID: %+v",
			r.objectID)

		return q
	}()

	for !q.Unlock(r) {
		runtime.Gosched()
	}

	func() {
		m.lockedObjectsGuard.Lock()
		defer m.lockedObjectsGuard.Unlock()

		locked, lockedExist := m.lockedObjects[r.txnID]
		assert.Assert(lockedExist,
			"expected a set of locked objects for the transaction %+v to exist",
			r.txnID,
		)
		delete(locked, r.objectID)
	}()
}

// UnlockAll releases every lock the transaction holds. Unknown
// transactions are a no-op, so release-on-close stays idempotent.
func (m *Manager[LockModeType, ObjectIDType]) UnlockAll(txnID common.TxnID) {
	lockedObjects := func() map[ObjectIDType]struct{} {
		m.lockedObjectsGuard.Lock()
		defer m.lockedObjectsGuard.Unlock()

		lockedObjects, ok := m.lockedObjects[txnID]
		if !ok {
			return nil
		}
		delete(m.lockedObjects, txnID)

		return lockedObjects
	}()

	unlockRequest := TxnUnlockRequest[ObjectIDType]{
		txnID: txnID,
	}

	for o := range lockedObjects {
		q := func() *txnQueue[LockModeType, ObjectIDType] {
			m.qsGuard.Lock()
			defer m.qsGuard.Unlock()

			q, present := m.qs[o]
			assert.Assert(
				present,
				"trying to unlock a transaction on an unlocked object. objectID: %+v",
				o,
			)

			return q
		}()

		unlockRequest.objectID = o
		for !q.Unlock(unlockRequest) {
			runtime.Gosched()
		}
	}
}
