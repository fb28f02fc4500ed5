package storage

import (
	"context"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

// Reader is the narrow read capability over committed graph state.
// Transactions diff their private state layer against it at commit
// time, and index constraint verification reads through it.
type Reader interface {
	NodeExists(id common.EntityID) bool
	HasLabel(id common.EntityID, label common.TokenID) bool
	NodeProperty(id common.EntityID, key common.TokenID) (Value, bool)
}

// ScanConsumer receives one committed node during a full scan.
// Returning an error aborts the scan.
type ScanConsumer func(
	id common.EntityID,
	labels map[common.TokenID]struct{},
	props map[common.TokenID]Value,
) error

// Scanner feeds index population with a full pass over committed
// nodes. The scan observes a node's committed state at visit time.
type Scanner interface {
	ScanNodes(ctx context.Context, consume ScanConsumer) error
}

// NodeCommand is one committed mutation of a single node.
type NodeCommand struct {
	ID common.EntityID

	Create bool
	Delete bool

	AddedLabels   []common.TokenID
	RemovedLabels []common.TokenID

	SetProps     map[common.TokenID]Value
	RemovedProps []common.TokenID
}

// Batch is the unit a transaction commits: all of its node commands,
// applied atomically with respect to readers.
type Batch struct {
	Commands []NodeCommand
}

func (b Batch) Empty() bool { return len(b.Commands) == 0 }

// Writer applies a committed batch. Apply returns the inverse batch,
// which the kernel replays if the index side of the commit fails so
// that storage and indexes succeed or fail together.
type Writer interface {
	AllocateNodeID() common.EntityID
	Apply(batch Batch) (inverse Batch, err error)
}

// Store is the full collaborator surface the kernel needs from the
// committed-state store.
type Store interface {
	Reader
	Writer
	Scanner
}
