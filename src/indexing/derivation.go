package indexing

import (
	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// projectedState is one entity's schema-relevant state on one side of
// the commit diff: label membership plus the indexed property values.
type projectedState struct {
	member bool
	values []storage.Value
}

// projectBefore reads the entity's committed (pre-transaction) state
// for one schema. A node created inside the transaction has no before
// state.
func projectBefore(
	reader storage.Reader,
	cmd storage.NodeCommand,
	schema storage.SchemaDescriptor,
) projectedState {
	if cmd.Create || !reader.NodeExists(cmd.ID) {
		return projectedState{}
	}
	if !reader.HasLabel(cmd.ID, schema.Label()) {
		return projectedState{}
	}

	keys := schema.PropertyKeys()
	values := make([]storage.Value, 0, len(keys))
	for _, key := range keys {
		v, ok := reader.NodeProperty(cmd.ID, key)
		if !ok {
			return projectedState{}
		}
		values = append(values, v)
	}
	return projectedState{member: true, values: values}
}

// projectAfter overlays the command on the committed state.
func projectAfter(
	reader storage.Reader,
	cmd storage.NodeCommand,
	schema storage.SchemaDescriptor,
) projectedState {
	if cmd.Delete {
		return projectedState{}
	}

	if !labelAfter(reader, cmd, schema.Label()) {
		return projectedState{}
	}

	keys := schema.PropertyKeys()
	values := make([]storage.Value, 0, len(keys))
	for _, key := range keys {
		v, ok := propertyAfter(reader, cmd, key)
		if !ok {
			return projectedState{}
		}
		values = append(values, v)
	}
	return projectedState{member: true, values: values}
}

func labelAfter(reader storage.Reader, cmd storage.NodeCommand, label common.TokenID) bool {
	for _, l := range cmd.RemovedLabels {
		if l == label {
			return false
		}
	}
	for _, l := range cmd.AddedLabels {
		if l == label {
			return true
		}
	}
	if cmd.Create {
		return false
	}
	return reader.HasLabel(cmd.ID, label)
}

func propertyAfter(
	reader storage.Reader,
	cmd storage.NodeCommand,
	key common.TokenID,
) (storage.Value, bool) {
	for _, k := range cmd.RemovedProps {
		if k == key {
			return nil, false
		}
	}
	if v, ok := cmd.SetProps[key]; ok {
		return v, true
	}
	if cmd.Create {
		return nil, false
	}
	return reader.NodeProperty(cmd.ID, key)
}

// touchesSchema is a cheap relevance filter: a command that neither
// touches the schema's label nor any of its indexed properties cannot
// move the entity across the index's membership boundary.
func touchesSchema(cmd storage.NodeCommand, schema storage.SchemaDescriptor) bool {
	if cmd.Create || cmd.Delete {
		return true
	}

	label := schema.Label()
	for _, l := range cmd.AddedLabels {
		if l == label {
			return true
		}
	}
	for _, l := range cmd.RemovedLabels {
		if l == label {
			return true
		}
	}

	for _, key := range schema.PropertyKeys() {
		if _, ok := cmd.SetProps[key]; ok {
			return true
		}
		for _, k := range cmd.RemovedProps {
			if k == key {
				return true
			}
		}
	}
	return false
}

// DeriveUpdates computes the commit-time diff: for every index whose
// schema intersects the batch, the membership transition of each
// touched entity. The batch carries at most one command per entity,
// so each (entity, index) pair is diffed exactly once. A transaction
// that both adds the label and sets an indexed property still yields
// a single ADD.
func DeriveUpdates(
	reader storage.Reader,
	batch storage.Batch,
	descriptors []index.Descriptor,
) map[index.ID][]index.EntryUpdate {
	out := map[index.ID][]index.EntryUpdate{}

	for _, desc := range descriptors {
		for _, cmd := range batch.Commands {
			if !touchesSchema(cmd, desc.Schema) {
				continue
			}

			before := projectBefore(reader, cmd, desc.Schema)
			after := projectAfter(reader, cmd, desc.Schema)

			switch {
			case !before.member && after.member:
				out[desc.ID] = append(out[desc.ID],
					index.Add(cmd.ID, desc.Schema, after.values...))
			case before.member && !after.member:
				out[desc.ID] = append(out[desc.ID],
					index.Remove(cmd.ID, desc.Schema, before.values...))
			case before.member && after.member:
				if !storage.ValueSliceEqual(before.values, after.values) {
					out[desc.ID] = append(out[desc.ID],
						index.Change(cmd.ID, desc.Schema, before.values, after.values))
				}
			}
		}
	}
	return out
}
