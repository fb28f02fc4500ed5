package txns

import (
	"math"
	"sync"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/assert"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

type txnQueueEntry[LockModeType LockMode[LockModeType], ObjectIDType comparable] struct {
	r         TxnLockRequest[LockModeType, ObjectIDType]
	notifier  chan struct{}
	isRunning bool

	mu   sync.Mutex
	next *txnQueueEntry[LockModeType, ObjectIDType]
	prev *txnQueueEntry[LockModeType, ObjectIDType]
}

// SafeNext advances to the next entry, acquiring its lock before
// releasing the current one so the transition is race free.
func (lockedEntry *txnQueueEntry[LockModeType, ObjectIDType]) SafeNext() *txnQueueEntry[LockModeType, ObjectIDType] {
	next := lockedEntry.next
	assert.Assert(next != nil, "precondition is violated")

	next.mu.Lock()
	lockedEntry.mu.Unlock()

	return next
}

// SafeInsert inserts n right after the current (locked) entry,
// locking the successor only for the prev-pointer fixup.
func (lockedEntry *txnQueueEntry[LockModeType, ObjectIDType]) SafeInsert(n *txnQueueEntry[LockModeType, ObjectIDType]) {
	next := lockedEntry.next

	n.prev = lockedEntry
	n.next = next

	lockedEntry.next = n

	next.mu.Lock()
	next.prev = n
	next.mu.Unlock()
}

type txnQueue[LockModeType LockMode[LockModeType], ObjectIDType comparable] struct {
	head *txnQueueEntry[LockModeType, ObjectIDType]
	tail *txnQueueEntry[LockModeType, ObjectIDType]

	mu       sync.Mutex
	txnNodes map[common.TxnID]*txnQueueEntry[LockModeType, ObjectIDType]
}

// processBatch grants the lock to the longest prefix of mutually
// compatible waiters starting at muGuardedHead. Only a prefix of the
// queue may ever be in the granted state.
func (q *txnQueue[LockModeType, ObjectIDType]) processBatch(muGuardedHead *txnQueueEntry[LockModeType, ObjectIDType]) {
	assert.Assert(!muGuardedHead.isRunning, "processBatch contract is violated")

	cur := muGuardedHead
	defer func() { cur.mu.Unlock() }()

	if cur == q.tail {
		return
	}

	seenLockModes := make(map[LockMode[LockModeType]]struct{})
outer:
	for {
		for seenMode := range seenLockModes {
			if !seenMode.Compatible(cur.r.lockMode) {
				break outer
			}
		}

		seenLockModes[cur.r.lockMode] = struct{}{}

		cur.isRunning = true
		close(cur.notifier) // grants the lock to the transaction

		if cur.next == q.tail {
			break
		}

		cur = cur.SafeNext()
		assert.Assert(!cur.isRunning, "only list prefix is allowed to be in the locked state")
	}
}

func newTxnQueue[LockModeType LockMode[LockModeType], ObjectIDType comparable]() *txnQueue[LockModeType, ObjectIDType] {
	head := &txnQueueEntry[LockModeType, ObjectIDType]{
		r: TxnLockRequest[LockModeType, ObjectIDType]{
			txnID: math.MaxUint64, // Needed for the deadlock prevention policy
		},
	}
	tail := &txnQueueEntry[LockModeType, ObjectIDType]{
		r: TxnLockRequest[LockModeType, ObjectIDType]{
			txnID: 0, // Needed for the deadlock prevention policy
		},
	}
	head.next = tail
	tail.prev = head

	q := &txnQueue[LockModeType, ObjectIDType]{
		head: head,
		tail: tail,

		mu:       sync.Mutex{},
		txnNodes: map[common.TxnID]*txnQueueEntry[LockModeType, ObjectIDType]{},
	}

	return q
}

func checkDeadlockCondition(runnerID common.TxnID, waiterID common.TxnID) bool {
	// Deadlock prevention policy:
	// only older transactions can wait for younger ones.
	// Otherwise, the younger transaction is aborted.
	return runnerID < waiterID
}

// Lock attempts to acquire a lock for the request r.
//
// If the requested mode is compatible with every currently granted
// mode, the lock is granted immediately and a closed channel is
// returned. Otherwise the request is queued and the returned channel
// is closed once the lock is eventually granted. A nil return means
// the request lost to the deadlock prevention policy and the caller
// must abort.
func (q *txnQueue[LockModeType, ObjectIDType]) Lock(r TxnLockRequest[LockModeType, ObjectIDType]) <-chan struct{} {
	// Fast path - the queue is empty
	cur := q.head
	cur.mu.Lock()
	defer func() { cur.mu.Unlock() }()

	if cur.next == q.tail {
		notifier := make(chan struct{})
		close(notifier) // Grant the lock immediately
		newNode := &txnQueueEntry[LockModeType, ObjectIDType]{
			r:         r,
			notifier:  nil,
			isRunning: true,
		}
		cur.SafeInsert(newNode)

		q.mu.Lock()
		q.txnNodes[r.txnID] = newNode
		q.mu.Unlock()

		return notifier
	}

	cur = cur.SafeNext()
	locksAreCompatible := true
	deadlockCondition := false
	for cur.isRunning {
		assert.Assert(
			cur.r.txnID != r.txnID,
			"trying to lock already locked transaction. %+v",
			r,
		)

		deadlockCondition = deadlockCondition || checkDeadlockCondition(cur.r.txnID, r.txnID)
		locksAreCompatible = locksAreCompatible && r.lockMode.Compatible(cur.r.lockMode)
		if !locksAreCompatible {
			break
		}

		if cur.next == q.tail {
			notifier := make(chan struct{})
			close(notifier) // Grant the lock immediately
			newNode := &txnQueueEntry[LockModeType, ObjectIDType]{
				r:         r,
				notifier:  nil,
				isRunning: true,
			}
			cur.SafeInsert(newNode)

			q.mu.Lock()
			q.txnNodes[r.txnID] = newNode
			q.mu.Unlock()

			return notifier
		}
		cur = cur.SafeNext()
	}

	if deadlockCondition {
		return nil
	}

	for cur.next != q.tail {
		cur = cur.SafeNext()
		assert.Assert(
			cur.r.txnID != r.txnID,
			"trying to lock already locked transaction. %+v",
			r,
		)

		if checkDeadlockCondition(cur.r.txnID, r.txnID) {
			return nil
		}
	}

	notifier := make(chan struct{})
	newNode := &txnQueueEntry[LockModeType, ObjectIDType]{
		r:         r,
		notifier:  notifier,
		isRunning: false,
	}
	cur.SafeInsert(newNode)

	q.mu.Lock()
	q.txnNodes[r.txnID] = newNode
	q.mu.Unlock()

	return notifier
}

// Upgrade re-queues the transaction's granted entry with a stronger
// lock mode. A nil notifier with lost == false means the queue was
// contended and the caller should retry; lost == true means the
// upgrade would wait for a younger runner and the transaction must
// abort.
func (q *txnQueue[LockModeType, ObjectIDType]) Upgrade(
	r TxnLockRequest[LockModeType, ObjectIDType],
) (notifier <-chan struct{}, lost bool) {
	q.mu.Lock()
	cur, exists := q.txnNodes[r.txnID]
	q.mu.Unlock()

	assert.Assert(exists,
		"transaction %+v hasn't acquired a lock on the object %+v. request: %+v",
		r.txnID, r.objectID, r)
	cur.mu.Lock()
	assert.Assert(cur.isRunning, "can't upgrade a lock: it wasn't acquired yet. request: %+v", r)

	first := cur.prev
	if !first.mu.TryLock() {
		cur.mu.Unlock()
		return nil, false // the caller should retry
	}
	defer first.mu.Unlock()

	orig := cur

	next := cur.next
	next.mu.Lock()

	for next.isRunning {
		if checkDeadlockCondition(next.r.txnID, r.txnID) {
			next.mu.Unlock()
			cur.mu.Unlock()
			return nil, true
		}

		tmp := next.next
		tmp.mu.Lock()
		cur.mu.Unlock()
		cur = next
		next = tmp
	}

	c := make(chan struct{})
	e := &txnQueueEntry[LockModeType, ObjectIDType]{
		r:         r,
		notifier:  c,
		isRunning: false,
		mu:        sync.Mutex{},
		next:      next,
		prev:      cur,
	}

	cur.next = e
	next.prev = e

	q.mu.Lock()
	q.txnNodes[r.txnID] = e
	q.mu.Unlock()

	cur.mu.Unlock()
	next.mu.Unlock()

	second := first.next
	second.mu.Lock()
	defer second.mu.Unlock()

	third := second.next
	third.mu.Lock()
	defer third.mu.Unlock()

	first.next = third
	third.prev = first

	// The upgrading transaction was the only runner: its new entry is
	// now the queue head and the stronger lock is granted right away.
	if cur == orig && first == q.head {
		e.isRunning = true
		close(c)
	}

	return c, false
}

func (q *txnQueue[LockModeType, ObjectIDType]) Unlock(r TxnUnlockRequest[ObjectIDType]) bool {
	q.mu.Lock()
	deletingNode, present := q.txnNodes[r.txnID]
	q.mu.Unlock()

	assert.Assert(present, "node not found. %+v", r)

	deletingNode.mu.Lock()
	defer deletingNode.mu.Unlock()

	prev := deletingNode.prev
	if !prev.mu.TryLock() {
		return false
	}

	q.mu.Lock()
	delete(q.txnNodes, r.txnID)
	q.mu.Unlock()

	next := deletingNode.next
	next.mu.Lock()
	next.prev = prev
	next.mu.Unlock()

	prev.next = next
	if deletingNode.isRunning && prev == q.head && !next.isRunning {
		q.processBatch(prev.SafeNext())
		return true
	}
	prev.mu.Unlock()

	return true
}
