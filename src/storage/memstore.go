package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
)

type nodeRecord struct {
	labels map[common.TokenID]struct{}
	props  map[common.TokenID]Value
}

func newNodeRecord() *nodeRecord {
	return &nodeRecord{
		labels: map[common.TokenID]struct{}{},
		props:  map[common.TokenID]Value{},
	}
}

// InMemoryStore is the default committed-state store. Batches apply
// atomically under the store lock, so a reader either sees all of a
// transaction's changes or none.
type InMemoryStore struct {
	mu     sync.RWMutex
	nodes  map[common.EntityID]*nodeRecord
	nextID common.EntityID
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nodes:  map[common.EntityID]*nodeRecord{},
		nextID: 1,
	}
}

func (s *InMemoryStore) AllocateNodeID() common.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	return id
}

func (s *InMemoryStore) NodeExists(id common.EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.nodes[id]
	return ok
}

func (s *InMemoryStore) HasLabel(id common.EntityID, label common.TokenID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	_, ok = n.labels[label]
	return ok
}

func (s *InMemoryStore) NodeProperty(
	id common.EntityID,
	key common.TokenID,
) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	v, ok := n.props[key]
	return v, ok
}

// Apply executes every command in the batch under one lock hold and
// returns the inverse batch for revert-on-index-failure.
func (s *InMemoryStore) Apply(batch Batch) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inverse := Batch{Commands: make([]NodeCommand, 0, len(batch.Commands))}
	for _, cmd := range batch.Commands {
		inv, err := s.applyLocked(cmd)
		if err != nil {
			// Re-apply the inverse of what already went through so a
			// half-applied batch never escapes.
			for i := len(inverse.Commands) - 1; i >= 0; i-- {
				if _, revErr := s.applyLocked(inverse.Commands[i]); revErr != nil {
					panic(fmt.Sprintf("revert of a partial batch failed: %v", revErr))
				}
			}
			return Batch{}, err
		}
		inverse.Commands = append([]NodeCommand{inv}, inverse.Commands...)
	}
	return inverse, nil
}

func (s *InMemoryStore) applyLocked(cmd NodeCommand) (NodeCommand, error) {
	inv := NodeCommand{ID: cmd.ID}

	if cmd.Create {
		if _, exists := s.nodes[cmd.ID]; exists {
			return NodeCommand{}, fmt.Errorf("node %d already exists", cmd.ID)
		}
		s.nodes[cmd.ID] = newNodeRecord()
		inv.Delete = true
	}

	n, ok := s.nodes[cmd.ID]
	if !ok {
		return NodeCommand{}, fmt.Errorf("node %d does not exist", cmd.ID)
	}

	if cmd.Delete {
		inv.Create = true
		for l := range n.labels {
			inv.AddedLabels = append(inv.AddedLabels, l)
		}
		inv.SetProps = map[common.TokenID]Value{}
		for k, v := range n.props {
			inv.SetProps[k] = v
		}
		delete(s.nodes, cmd.ID)
		return inv, nil
	}

	for _, l := range cmd.AddedLabels {
		if _, had := n.labels[l]; !had {
			inv.RemovedLabels = append(inv.RemovedLabels, l)
		}
		n.labels[l] = struct{}{}
	}
	for _, l := range cmd.RemovedLabels {
		if _, had := n.labels[l]; had {
			inv.AddedLabels = append(inv.AddedLabels, l)
		}
		delete(n.labels, l)
	}

	for k, v := range cmd.SetProps {
		if prev, had := n.props[k]; had {
			if inv.SetProps == nil {
				inv.SetProps = map[common.TokenID]Value{}
			}
			inv.SetProps[k] = prev
		} else {
			inv.RemovedProps = append(inv.RemovedProps, k)
		}
		n.props[k] = v
	}
	for _, k := range cmd.RemovedProps {
		if prev, had := n.props[k]; had {
			if inv.SetProps == nil {
				inv.SetProps = map[common.TokenID]Value{}
			}
			inv.SetProps[k] = prev
		}
		delete(n.props, k)
	}

	return inv, nil
}

// ScanNodes visits every committed node. Each node is copied under a
// short read-lock hold, so the scan never blocks committers for the
// whole pass and observes each node's state at visit time.
func (s *InMemoryStore) ScanNodes(ctx context.Context, consume ScanConsumer) error {
	ids := func() []common.EntityID {
		s.mu.RLock()
		defer s.mu.RUnlock()

		ids := make([]common.EntityID, 0, len(s.nodes))
		for id := range s.nodes {
			ids = append(ids, id)
		}
		return ids
	}()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		labels, props, ok := s.snapshotNode(id)
		if !ok {
			continue // deleted since the id snapshot
		}
		if err := consume(id, labels, props); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryStore) snapshotNode(
	id common.EntityID,
) (map[common.TokenID]struct{}, map[common.TokenID]Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, nil, false
	}

	labels := make(map[common.TokenID]struct{}, len(n.labels))
	for l := range n.labels {
		labels[l] = struct{}{}
	}
	props := make(map[common.TokenID]Value, len(n.props))
	for k, v := range n.props {
		props[k] = v
	}
	return labels, props, true
}
