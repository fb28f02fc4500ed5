package index

import (
	"fmt"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/assert"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// UpdateMode tags the membership transition an entry update carries.
type UpdateMode uint8

const (
	UpdateAdded UpdateMode = iota
	UpdateChanged
	UpdateRemoved
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateAdded:
		return "ADD"
	case UpdateChanged:
		return "CHANGE"
	case UpdateRemoved:
		return "REMOVE"
	}
	return fmt.Sprintf("UpdateMode(%d)", m)
}

// EntryUpdate is one entity's transition across an index's membership
// boundary. Immutable; created once per affecting event and consumed
// by exactly one updater apply call.
type EntryUpdate struct {
	entityID   common.EntityID
	descriptor storage.SchemaDescriptor
	mode       UpdateMode
	before     []storage.Value // present for CHANGE and REMOVE only
	values     []storage.Value
}

func Add(
	entityID common.EntityID,
	descriptor storage.SchemaDescriptor,
	values ...storage.Value,
) EntryUpdate {
	assert.Assert(len(values) > 0, "an ADD update needs values")
	return EntryUpdate{
		entityID:   entityID,
		descriptor: descriptor,
		mode:       UpdateAdded,
		values:     values,
	}
}

func Change(
	entityID common.EntityID,
	descriptor storage.SchemaDescriptor,
	before []storage.Value,
	after []storage.Value,
) EntryUpdate {
	assert.Assert(len(before) == len(after), "before/after arity mismatch")
	return EntryUpdate{
		entityID:   entityID,
		descriptor: descriptor,
		mode:       UpdateChanged,
		before:     before,
		values:     after,
	}
}

func Remove(
	entityID common.EntityID,
	descriptor storage.SchemaDescriptor,
	before ...storage.Value,
) EntryUpdate {
	assert.Assert(len(before) > 0, "a REMOVE update needs the prior values")
	return EntryUpdate{
		entityID:   entityID,
		descriptor: descriptor,
		mode:       UpdateRemoved,
		before:     before,
		values:     before,
	}
}

func (u EntryUpdate) EntityID() common.EntityID            { return u.entityID }
func (u EntryUpdate) Descriptor() storage.SchemaDescriptor { return u.descriptor }
func (u EntryUpdate) Mode() UpdateMode                     { return u.mode }

// Values are the after-values for ADD/CHANGE and the prior values for
// REMOVE.
func (u EntryUpdate) Values() []storage.Value { return u.values }

// Before returns the prior values; only CHANGE and REMOVE carry them.
func (u EntryUpdate) Before() []storage.Value { return u.before }

func (u EntryUpdate) Equal(other EntryUpdate) bool {
	return u.entityID == other.entityID &&
		u.mode == other.mode &&
		u.descriptor.Equal(other.descriptor) &&
		storage.ValueSliceEqual(u.values, other.values) &&
		storage.ValueSliceEqual(u.before, other.before)
}

func (u EntryUpdate) String() string {
	if u.mode == UpdateChanged {
		return fmt.Sprintf("%s[entity=%d, schema=%s, %v -> %v]",
			u.mode, u.entityID, u.descriptor, u.before, u.values)
	}
	return fmt.Sprintf("%s[entity=%d, schema=%s, %v]",
		u.mode, u.entityID, u.descriptor, u.values)
}
