package txns

import (
	"errors"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

// ErrDeadlockPrevention is returned when a lock request loses to the
// wait-die policy; the requesting transaction must abort.
var ErrDeadlockPrevention = errors.New("lock refused by the deadlock prevention policy")

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type EntityLockMode TaggedType[uint8]
type SchemaLockMode TaggedType[uint8]

// LockMode is the compatibility contract a lock mode type implements.
type LockMode[Lock any] interface {
	Compatible(Lock) bool
	Upgradable(Lock) bool
}

var (
	ENTITY_LOCK_SHARED    EntityLockMode = EntityLockMode{0}
	ENTITY_LOCK_EXCLUSIVE EntityLockMode = EntityLockMode{1}
)

var (
	SCHEMA_LOCK_SHARED    SchemaLockMode = SchemaLockMode{0}
	SCHEMA_LOCK_EXCLUSIVE SchemaLockMode = SchemaLockMode{1}
)

var (
	_ LockMode[EntityLockMode] = EntityLockMode{0}
	_ LockMode[SchemaLockMode] = SchemaLockMode{0}
)

func (m EntityLockMode) Compatible(other EntityLockMode) bool {
	return m == ENTITY_LOCK_SHARED && other == ENTITY_LOCK_SHARED
}

func (m EntityLockMode) Upgradable(to EntityLockMode) bool {
	switch m {
	case ENTITY_LOCK_SHARED:
		return true
	case ENTITY_LOCK_EXCLUSIVE:
		return to == ENTITY_LOCK_EXCLUSIVE
	}
	return false
}

func (m SchemaLockMode) Compatible(other SchemaLockMode) bool {
	return m == SCHEMA_LOCK_SHARED && other == SCHEMA_LOCK_SHARED
}

func (m SchemaLockMode) Upgradable(to SchemaLockMode) bool {
	switch m {
	case SCHEMA_LOCK_SHARED:
		return true
	case SCHEMA_LOCK_EXCLUSIVE:
		return to == SCHEMA_LOCK_EXCLUSIVE
	}
	return false
}

type TxnLockRequest[LockModeType LockMode[LockModeType], ObjectIDType comparable] struct {
	txnID    common.TxnID
	objectID ObjectIDType
	lockMode LockModeType
}

func NewTxnLockRequest[LockModeType LockMode[LockModeType], ObjectIDType comparable](
	txnID common.TxnID,
	objectID ObjectIDType,
	lockMode LockModeType,
) TxnLockRequest[LockModeType, ObjectIDType] {
	return TxnLockRequest[LockModeType, ObjectIDType]{
		txnID:    txnID,
		objectID: objectID,
		lockMode: lockMode,
	}
}

type TxnUnlockRequest[ObjectIDType comparable] struct {
	txnID    common.TxnID
	objectID ObjectIDType
}

func NewTxnUnlockRequest[ObjectIDType comparable](
	txnID common.TxnID,
	objectID ObjectIDType,
) TxnUnlockRequest[ObjectIDType] {
	return TxnUnlockRequest[ObjectIDType]{
		txnID:    txnID,
		objectID: objectID,
	}
}
