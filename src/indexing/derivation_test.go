package indexing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

const (
	labelPerson = common.TokenID(1)
	propName    = common.TokenID(10)
	propAge     = common.TokenID(11)
)

func personNameIndex(id index.ID) index.Descriptor {
	return index.Descriptor{
		ID:     id,
		Schema: storage.ForLabel(labelPerson, propName),
	}
}

// seedNode commits one node with the given labels and properties.
func seedNode(
	t *testing.T,
	store *storage.InMemoryStore,
	labels []common.TokenID,
	props map[common.TokenID]storage.Value,
) common.EntityID {
	t.Helper()

	id := store.AllocateNodeID()
	_, err := store.Apply(storage.Batch{Commands: []storage.NodeCommand{{
		ID:          id,
		Create:      true,
		AddedLabels: labels,
		SetProps:    props,
	}}})
	require.NoError(t, err)
	return id
}

func TestDeriveSingleAddForCreateWithLabelAndProperty(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	// one transaction creates the node, adds the label and sets the
	// indexed property; the index must see exactly one ADD
	id := store.AllocateNodeID()
	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID:          id,
		Create:      true,
		AddedLabels: []common.TokenID{labelPerson},
		SetProps: map[common.TokenID]storage.Value{
			propName: storage.StringValue("neo"),
		},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Len(t, updates, 1)
	require.Len(t, updates[desc.ID], 1)

	u := updates[desc.ID][0]
	require.Equal(t, index.UpdateAdded, u.Mode())
	require.Equal(t, id, u.EntityID())
	require.True(t, storage.ValueSliceEqual(
		[]storage.Value{storage.StringValue("neo")}, u.Values()))
}

func TestDeriveAddOnLaterLabelAddition(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	// the property was committed long ago; only the label arrives now
	id := seedNode(t, store, nil, map[common.TokenID]storage.Value{
		propName: storage.StringValue("trinity"),
	})

	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID:          id,
		AddedLabels: []common.TokenID{labelPerson},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Len(t, updates[desc.ID], 1)

	u := updates[desc.ID][0]
	require.Equal(t, index.UpdateAdded, u.Mode())
	require.True(t, storage.ValueSliceEqual(
		[]storage.Value{storage.StringValue("trinity")}, u.Values()))
}

func TestDeriveSingleChangeOnPropertyRewrite(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	id := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("old")})

	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID: id,
		SetProps: map[common.TokenID]storage.Value{
			propName: storage.StringValue("new"),
		},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Len(t, updates[desc.ID], 1)

	u := updates[desc.ID][0]
	require.Equal(t, index.UpdateChanged, u.Mode())
	require.True(t, storage.ValueSliceEqual(
		[]storage.Value{storage.StringValue("old")}, u.Before()))
	require.True(t, storage.ValueSliceEqual(
		[]storage.Value{storage.StringValue("new")}, u.Values()))
}

func TestDeriveNoChangeWhenValueIsRewrittenInPlace(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	id := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("same")})

	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID: id,
		SetProps: map[common.TokenID]storage.Value{
			propName: storage.StringValue("same"),
		},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Empty(t, updates[desc.ID])
}

func TestDeriveRemoveOnLabelRemoval(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	id := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("gone")})

	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID:            id,
		RemovedLabels: []common.TokenID{labelPerson},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Len(t, updates[desc.ID], 1)

	u := updates[desc.ID][0]
	require.Equal(t, index.UpdateRemoved, u.Mode())
	require.True(t, storage.ValueSliceEqual(
		[]storage.Value{storage.StringValue("gone")}, u.Before()))
}

func TestDeriveRemoveOnNodeDeletion(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	id := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("x")})

	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID:     id,
		Delete: true,
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Len(t, updates[desc.ID], 1)
	require.Equal(t, index.UpdateRemoved, updates[desc.ID][0].Mode())
}

func TestDeriveIgnoresUnrelatedCommands(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := personNameIndex(1)

	id := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("keep")})

	// touches neither the label nor any indexed property
	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID: id,
		SetProps: map[common.TokenID]storage.Value{
			propAge: storage.IntValue(33),
		},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{desc})
	require.Empty(t, updates)
}

func TestDeriveCompositeNeedsEveryProperty(t *testing.T) {
	store := storage.NewInMemoryStore()
	desc := index.Descriptor{
		ID:     7,
		Schema: storage.ForLabel(labelPerson, propName, propAge),
	}

	id := store.AllocateNodeID()
	partial := storage.Batch{Commands: []storage.NodeCommand{{
		ID:          id,
		Create:      true,
		AddedLabels: []common.TokenID{labelPerson},
		SetProps: map[common.TokenID]storage.Value{
			propName: storage.StringValue("half"),
		},
	}}}

	updates := DeriveUpdates(store, partial, []index.Descriptor{desc})
	require.Empty(t, updates[desc.ID], "an entity missing an indexed property has no entry")

	full := storage.Batch{Commands: []storage.NodeCommand{{
		ID:          id,
		Create:      true,
		AddedLabels: []common.TokenID{labelPerson},
		SetProps: map[common.TokenID]storage.Value{
			propName: storage.StringValue("full"),
			propAge:  storage.IntValue(42),
		},
	}}}

	updates = DeriveUpdates(store, full, []index.Descriptor{desc})
	require.Len(t, updates[desc.ID], 1)

	u := updates[desc.ID][0]
	require.Equal(t, index.UpdateAdded, u.Mode())
	require.Len(t, u.Values(), 2)
}

func TestDeriveFansOutToEveryMatchingIndex(t *testing.T) {
	store := storage.NewInMemoryStore()
	nameIdx := personNameIndex(1)
	ageIdx := index.Descriptor{
		ID:     2,
		Schema: storage.ForLabel(labelPerson, propAge),
	}

	id := store.AllocateNodeID()
	batch := storage.Batch{Commands: []storage.NodeCommand{{
		ID:          id,
		Create:      true,
		AddedLabels: []common.TokenID{labelPerson},
		SetProps: map[common.TokenID]storage.Value{
			propName: storage.StringValue("both"),
			propAge:  storage.IntValue(7),
		},
	}}}

	updates := DeriveUpdates(store, batch, []index.Descriptor{nameIdx, ageIdx})
	require.Len(t, updates[nameIdx.ID], 1)
	require.Len(t, updates[ageIdx.ID], 1)
}
