package txns

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

func expectClosedChannel(t *testing.T, ch <-chan struct{}, mes string) {
	require.NotNil(t, ch)
	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Error(mes)
	}
}

func expectOpenChannel(t *testing.T, ch <-chan struct{}, mes string) {
	require.NotNil(t, ch)
	select {
	case <-ch:
		t.Error(mes)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestSharedLockCompatibility shows proper lock compatibility
func TestSharedLockCompatibility(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier1 := q.Lock(NewTxnLockRequest(1, common.EntityID(1), ENTITY_LOCK_SHARED))
	notifier2 := q.Lock(NewTxnLockRequest(2, common.EntityID(1), ENTITY_LOCK_SHARED))

	expectClosedChannel(
		t,
		notifier1,
		"Compatible shared locks should both be granted immediately",
	)
	expectClosedChannel(
		t,
		notifier2,
		"Compatible shared locks should both be granted immediately",
	)
}

// TestExclusiveBlocking demonstrates lock queueing
func TestExclusiveBlocking(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier1 := q.Lock(NewTxnLockRequest(2, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(
		t,
		notifier1,
		"shared lock should have been granted immediately",
	)

	notifier2 := q.Lock(NewTxnLockRequest(1, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	expectOpenChannel(t, notifier2, "exclusive lock should have been enqueued")
}

// TestDeadlockPrevention verifies transaction age ordering
func TestDeadlockPrevention(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	// Older transaction (lower ID) holds the lock
	q.Lock(NewTxnLockRequest(1, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))

	// Younger transaction should abort instead of waiting
	result := q.Lock(NewTxnLockRequest(2, common.EntityID(1), ENTITY_LOCK_SHARED))
	if result != nil {
		t.Error(
			"Younger transaction should abort when blocking behind an older one",
		)
	}
}

// TestConcurrentAccess checks for race conditions
func TestConcurrentAccess(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	var wg sync.WaitGroup

	for i := 1; i <= 10; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			notifier := q.Lock(NewTxnLockRequest(
				common.TxnID(id), //nolint:gosec
				common.EntityID(1),
				ENTITY_LOCK_SHARED,
			))
			expectClosedChannel(
				t,
				notifier,
				"shared lock request should have been granted",
			)

			for !q.Unlock(NewTxnUnlockRequest(common.TxnID(id), common.EntityID(1))) { //nolint:gosec
			}
		}(i)
	}

	wg.Wait()
}

// TestExclusiveOrdering validates exclusive locks ordering
func TestExclusiveOrdering(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier1 := q.Lock(NewTxnLockRequest(9, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	notifier2 := q.Lock(NewTxnLockRequest(8, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))

	expectClosedChannel(t, notifier1, "empty queue -> grant the lock")
	expectOpenChannel(
		t,
		notifier2,
		"shouldn't have granted the lock in presence of a concurrent exclusive lock",
	)

	if !q.Unlock(NewTxnUnlockRequest(9, common.EntityID(1))) {
		t.Errorf("no concurrent delete -> couldn't have failed")
	}

	expectClosedChannel(t, notifier2, "the waiter runs after the unlock")
}

// TestLockFairness tests the queue's fairness:
// a lock can't be granted while another transaction
// already waits for an incompatible one
func TestLockFairness(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier1 := q.Lock(NewTxnLockRequest(9, common.EntityID(1), ENTITY_LOCK_SHARED))
	notifier2 := q.Lock(NewTxnLockRequest(8, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	notifier3 := q.Lock(NewTxnLockRequest(7, common.EntityID(1), ENTITY_LOCK_SHARED))

	expectClosedChannel(t, notifier1, "empty queue -> grant the lock")
	expectOpenChannel(t, notifier2, "incompatible lock -> wait")
	expectOpenChannel(
		t,
		notifier3,
		"waiting incompatible lock -> can't grant the lock immediately",
	)
}

func TestLockUpgradeAlwaysAllowIfSingle(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier := q.Lock(NewTxnLockRequest(10, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(t, notifier, "empty queue -> grant the lock")

	upgraded, lost := q.Upgrade(NewTxnLockRequest(10, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	require.False(t, lost)
	expectClosedChannel(
		t,
		upgraded,
		"single transaction -> upgrade should be allowed",
	)
}

func TestLockUpgradeAllowIfSingleWhenNoPendingUpgrades(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier := q.Lock(NewTxnLockRequest(10, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(t, notifier, "empty queue -> grant the lock")

	blockedReqNotifier := q.Lock(NewTxnLockRequest(2, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	expectOpenChannel(
		t,
		blockedReqNotifier,
		"incompatible lock -> should be blocked",
	)

	upgraded, lost := q.Upgrade(NewTxnLockRequest(10, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	require.False(t, lost)
	expectClosedChannel(
		t,
		upgraded,
		"single running transaction -> upgrade should be allowed",
	)
}

func TestLockUpgradeForbidUpgradeIfDeadlock(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier := q.Lock(NewTxnLockRequest(3, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(t, notifier, "empty queue -> grant the lock")

	blockedReqNotifier := q.Lock(NewTxnLockRequest(2, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(
		t,
		blockedReqNotifier,
		"compatible lock -> grant the lock",
	)

	upgraded, lost := q.Upgrade(NewTxnLockRequest(3, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	require.Nil(t, upgraded)
	require.True(t, lost, "the upgrade would wait for a younger runner -> abort")
}

func TestLockUpgradeWaitsForOlderRunner(t *testing.T) {
	q := newTxnQueue[EntityLockMode, common.EntityID]()

	notifier := q.Lock(NewTxnLockRequest(4, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(t, notifier, "empty queue -> grant the lock")

	notifier2 := q.Lock(NewTxnLockRequest(3, common.EntityID(1), ENTITY_LOCK_SHARED))
	expectClosedChannel(
		t,
		notifier2,
		"compatible lock -> grant the lock",
	)

	upgraded, lost := q.Upgrade(NewTxnLockRequest(3, common.EntityID(1), ENTITY_LOCK_EXCLUSIVE))
	require.False(t, lost)
	expectOpenChannel(
		t,
		upgraded,
		"no deadlock -> upgrade should be allowed [wait]",
	)

	require.True(t, q.Unlock(NewTxnUnlockRequest(4, common.EntityID(1))))

	expectClosedChannel(t, upgraded, "waiter should be woken up after unlock")
}
