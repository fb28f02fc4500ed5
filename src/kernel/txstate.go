package kernel

import (
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// entityDelta is one entity's net in-transaction change. Opposite
// operations cancel out (add then remove a label leaves no trace), so
// the batch a commit derives from carries net transitions only.
type entityDelta struct {
	created bool
	deleted bool

	addedLabels   map[common.TokenID]struct{}
	removedLabels map[common.TokenID]struct{}

	setProps     map[common.TokenID]storage.Value
	removedProps map[common.TokenID]struct{}
}

func newEntityDelta() *entityDelta {
	return &entityDelta{
		addedLabels:   map[common.TokenID]struct{}{},
		removedLabels: map[common.TokenID]struct{}{},
		setProps:      map[common.TokenID]storage.Value{},
		removedProps:  map[common.TokenID]struct{}{},
	}
}

// writeSet is the transaction-state layer: private to the owning
// transaction, invisible to others until commit, discarded wholesale
// on rollback.
type writeSet struct {
	entities map[common.EntityID]*entityDelta
	order    []common.EntityID
}

func newWriteSet() *writeSet {
	return &writeSet{entities: map[common.EntityID]*entityDelta{}}
}

func (w *writeSet) Empty() bool { return len(w.entities) == 0 }

func (w *writeSet) delta(id common.EntityID) *entityDelta {
	d, ok := w.entities[id]
	if !ok {
		d = newEntityDelta()
		w.entities[id] = d
		w.order = append(w.order, id)
	}
	return d
}

func (w *writeSet) createNode(id common.EntityID) {
	w.delta(id).created = true
}

func (w *writeSet) deleteNode(id common.EntityID) {
	d := w.delta(id)
	if d.created {
		// A node both created and deleted in this transaction never
		// existed as far as commit is concerned.
		delete(w.entities, id)
		for i, e := range w.order {
			if e == id {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
		return
	}
	d.deleted = true
}

func (w *writeSet) addLabel(id common.EntityID, label common.TokenID) {
	d := w.delta(id)
	if _, ok := d.removedLabels[label]; ok {
		delete(d.removedLabels, label)
		return
	}
	d.addedLabels[label] = struct{}{}
}

func (w *writeSet) removeLabel(id common.EntityID, label common.TokenID) {
	d := w.delta(id)
	if _, ok := d.addedLabels[label]; ok {
		delete(d.addedLabels, label)
		return
	}
	d.removedLabels[label] = struct{}{}
}

func (w *writeSet) setProperty(id common.EntityID, key common.TokenID, value storage.Value) {
	d := w.delta(id)
	delete(d.removedProps, key)
	d.setProps[key] = value
}

func (w *writeSet) removeProperty(id common.EntityID, key common.TokenID) {
	d := w.delta(id)
	delete(d.setProps, key)
	d.removedProps[key] = struct{}{}
}

// overlay views

func (w *writeSet) labelOverlay(
	id common.EntityID,
	label common.TokenID,
	committed bool,
) bool {
	d, ok := w.entities[id]
	if !ok {
		return committed
	}
	if d.deleted {
		return false
	}
	if _, added := d.addedLabels[label]; added {
		return true
	}
	if _, removed := d.removedLabels[label]; removed {
		return false
	}
	if d.created {
		return false
	}
	return committed
}

func (w *writeSet) propertyOverlay(
	id common.EntityID,
	key common.TokenID,
	committed storage.Value,
	committedOk bool,
) (storage.Value, bool) {
	d, ok := w.entities[id]
	if !ok {
		return committed, committedOk
	}
	if d.deleted {
		return nil, false
	}
	if v, set := d.setProps[key]; set {
		return v, true
	}
	if _, removed := d.removedProps[key]; removed {
		return nil, false
	}
	if d.created {
		return nil, false
	}
	return committed, committedOk
}

func (w *writeSet) existsOverlay(id common.EntityID, committed bool) bool {
	d, ok := w.entities[id]
	if !ok {
		return committed
	}
	if d.deleted {
		return false
	}
	if d.created {
		return true
	}
	return committed
}

// ToBatch materializes the layer as one storage command per entity,
// in first-touch order.
func (w *writeSet) ToBatch() storage.Batch {
	batch := storage.Batch{Commands: make([]storage.NodeCommand, 0, len(w.order))}

	for _, id := range w.order {
		d, ok := w.entities[id]
		if !ok {
			continue
		}

		cmd := storage.NodeCommand{
			ID:     id,
			Create: d.created,
			Delete: d.deleted,
		}
		for l := range d.addedLabels {
			cmd.AddedLabels = append(cmd.AddedLabels, l)
		}
		for l := range d.removedLabels {
			cmd.RemovedLabels = append(cmd.RemovedLabels, l)
		}
		if len(d.setProps) > 0 {
			cmd.SetProps = make(map[common.TokenID]storage.Value, len(d.setProps))
			for k, v := range d.setProps {
				cmd.SetProps[k] = v
			}
		}
		for k := range d.removedProps {
			cmd.RemovedProps = append(cmd.RemovedProps, k)
		}

		batch.Commands = append(batch.Commands, cmd)
	}
	return batch
}
