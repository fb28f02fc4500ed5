package indexing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/GraphKernel/src"
	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/index/badgerindex"
	"github.com/Blackdeer1524/GraphKernel/src/index/memindex"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

func newTestService(t *testing.T, store *storage.InMemoryStore) *Service {
	t.Helper()

	svc, err := NewService(
		src.NoopLogger(),
		store,
		index.SamplingConfig{SampleLimit: 1 << 20},
		2,
		memindex.New(),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func awaitOnline(t *testing.T, svc *Service, id index.ID) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.AwaitPopulation(ctx, id))

	state, failure, err := svc.StateOf(id)
	require.NoError(t, err)
	require.Equal(t, StateOnline, state, "population failure: %s", failure)
}

func TestServicePopulationFromExistingStore(t *testing.T) {
	store := storage.NewInMemoryStore()
	for _, name := range []string{"a", "b", "b", "c"} {
		seedNode(t, store,
			[]common.TokenID{labelPerson},
			map[common.TokenID]storage.Value{propName: storage.StringValue(name)})
	}
	// a node without the label stays out of the index
	seedNode(t, store, nil,
		map[common.TokenID]storage.Value{propName: storage.StringValue("d")})

	svc := newTestService(t, store)

	desc, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "", false)
	require.NoError(t, err)
	awaitOnline(t, svc, desc.ID)

	reader, err := svc.Reader(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), reader.CountAll())
	require.Len(t, reader.EntityIDs([]storage.Value{storage.StringValue("b")}), 2)
	require.Empty(t, reader.EntityIDs([]storage.Value{storage.StringValue("d")}))

	sample, err := svc.Sample(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), sample.IndexSize)
	require.Equal(t, int64(3), sample.UniqueValues)
	require.Equal(t, int64(4), sample.SampleSize)
}

func TestServiceAppliesOnlineUpdates(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newTestService(t, store)

	desc, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "", false)
	require.NoError(t, err)
	awaitOnline(t, svc, desc.ID)

	schema := desc.Schema
	ctx := context.Background()

	err = svc.ApplyUpdates(ctx, map[index.ID][]index.EntryUpdate{
		desc.ID: {
			index.Add(1, schema, storage.StringValue("a")),
			index.Add(2, schema, storage.StringValue("b")),
		},
	})
	require.NoError(t, err)

	reader, err := svc.Reader(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), reader.CountAll())

	err = svc.ApplyUpdates(ctx, map[index.ID][]index.EntryUpdate{
		desc.ID: {
			index.Change(1, schema,
				[]storage.Value{storage.StringValue("a")},
				[]storage.Value{storage.StringValue("b")}),
			index.Remove(2, schema, storage.StringValue("b")),
		},
	})
	require.NoError(t, err)

	require.Equal(t, int64(1), reader.CountAll())
	require.Len(t, reader.EntityIDs([]storage.Value{storage.StringValue("b")}), 1)
	require.Empty(t, reader.EntityIDs([]storage.Value{storage.StringValue("a")}))
}

func TestServiceUniquePopulationFailure(t *testing.T) {
	store := storage.NewInMemoryStore()
	for range 2 {
		seedNode(t, store,
			[]common.TokenID{labelPerson},
			map[common.TokenID]storage.Value{propName: storage.StringValue("dup")})
	}

	svc := newTestService(t, store)

	desc, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "", true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.AwaitPopulation(ctx, desc.ID))

	state, failure, err := svc.StateOf(desc.ID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.NotEmpty(t, failure)

	// a failed index serves nothing and receives nothing
	_, err = svc.Reader(desc.ID)
	require.ErrorIs(t, err, ErrIndexFailed)

	err = svc.ApplyUpdates(ctx, map[index.ID][]index.EntryUpdate{
		desc.ID: {index.Add(9, desc.Schema, storage.StringValue("z"))},
	})
	require.ErrorIs(t, err, ErrIndexFailed)

	require.Empty(t, svc.Descriptors())

	_, err = svc.Sample(desc.ID)
	require.ErrorIs(t, err, ErrIndexFailed)
}

func TestServiceRejectsDuplicateSchema(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newTestService(t, store)

	schema := storage.ForLabel(labelPerson, propName)
	desc, err := svc.CreateIndex(schema, "", false)
	require.NoError(t, err)
	awaitOnline(t, svc, desc.ID)

	_, err = svc.CreateIndex(schema, "", false)
	require.Error(t, err)
}

func TestServiceDropIndex(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newTestService(t, store)

	desc, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "", false)
	require.NoError(t, err)
	awaitOnline(t, svc, desc.ID)

	require.NoError(t, svc.DropIndex(desc.ID))

	_, err = svc.Reader(desc.ID)
	require.ErrorIs(t, err, ErrIndexNotFound)
	require.Empty(t, svc.Descriptors())
}

func TestServiceTriggerSamplingReplacesSnapshot(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newTestService(t, store)

	desc, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "", false)
	require.NoError(t, err)
	awaitOnline(t, svc, desc.ID)

	schema := desc.Schema
	err = svc.ApplyUpdates(context.Background(), map[index.ID][]index.EntryUpdate{
		desc.ID: {
			index.Add(1, schema, storage.StringValue("a")),
			index.Add(2, schema, storage.StringValue("a")),
			index.Add(3, schema, storage.StringValue("b")),
		},
	})
	require.NoError(t, err)

	// the population-time snapshot predates the online updates
	stale, err := svc.Sample(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), stale.IndexSize)

	fresh, err := svc.TriggerSampling(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), fresh.IndexSize)
	require.Equal(t, int64(2), fresh.UniqueValues)

	// the snapshot was replaced, not merged
	current, err := svc.Sample(desc.ID)
	require.NoError(t, err)
	require.Equal(t, fresh, current)
}

func TestServiceUnknownProvider(t *testing.T) {
	store := storage.NewInMemoryStore()
	svc := newTestService(t, store)

	_, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "nope", false)
	require.Error(t, err)
}

// gatedScanStore pauses a population scan after the last node, while
// the scan's batches are still buffered, so a test can commit updates
// through the populating path at the worst possible moment.
type gatedScanStore struct {
	*storage.InMemoryStore
	scanned chan struct{}
	resume  chan struct{}
}

func newGatedScanStore(store *storage.InMemoryStore) *gatedScanStore {
	return &gatedScanStore{
		InMemoryStore: store,
		scanned:       make(chan struct{}),
		resume:        make(chan struct{}),
	}
}

func (g *gatedScanStore) ScanNodes(
	ctx context.Context,
	consume storage.ScanConsumer,
) error {
	if err := g.InMemoryStore.ScanNodes(ctx, consume); err != nil {
		return err
	}
	close(g.scanned)
	select {
	case <-g.resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestServiceCommitsDuringPopulationTakePrecedence(t *testing.T) {
	store := storage.NewInMemoryStore()
	schema := storage.ForLabel(labelPerson, propName)
	changed := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("old")})
	removed := seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("gone")})

	gated := newGatedScanStore(store)
	svc, err := NewService(
		src.NoopLogger(),
		gated,
		index.SamplingConfig{SampleLimit: 1 << 20},
		2,
		memindex.New(),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	desc, err := svc.CreateIndex(schema, "", false)
	require.NoError(t, err)

	<-gated.scanned
	added := store.AllocateNodeID()
	err = svc.ApplyUpdates(context.Background(), map[index.ID][]index.EntryUpdate{
		desc.ID: {
			index.Change(changed, schema,
				[]storage.Value{storage.StringValue("old")},
				[]storage.Value{storage.StringValue("new")}),
			index.Remove(removed, schema, storage.StringValue("gone")),
			index.Add(added, schema, storage.StringValue("fresh")),
		},
	})
	require.NoError(t, err)
	close(gated.resume)
	awaitOnline(t, svc, desc.ID)

	reader, err := svc.Reader(desc.ID)
	require.NoError(t, err)
	require.Empty(t,
		reader.EntityIDs([]storage.Value{storage.StringValue("old")}),
		"the scan's stale entry must not overwrite the committed change")
	require.Equal(t,
		[]common.EntityID{changed},
		reader.EntityIDs([]storage.Value{storage.StringValue("new")}))
	require.Empty(t,
		reader.EntityIDs([]storage.Value{storage.StringValue("gone")}),
		"the scan must not resurrect the committed remove")
	require.Equal(t,
		[]common.EntityID{added},
		reader.EntityIDs([]storage.Value{storage.StringValue("fresh")}))
	require.Equal(t, int64(2), reader.CountAll())

	sample, err := svc.Sample(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), sample.IndexSize)
	require.Equal(t, int64(2), sample.UniqueValues)
}

func TestServiceUniqueViolationDuringPopulationFailsIndex(t *testing.T) {
	store := storage.NewInMemoryStore()
	schema := storage.ForLabel(labelPerson, propName)
	seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("dup")})

	gated := newGatedScanStore(store)
	svc, err := NewService(
		src.NoopLogger(),
		gated,
		index.SamplingConfig{SampleLimit: 1 << 20},
		2,
		memindex.New(),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	desc, err := svc.CreateIndex(schema, "", true)
	require.NoError(t, err)

	// a transaction sneaks a duplicate in through the populating
	// updater; deferred verification must still catch it
	<-gated.scanned
	dup := store.AllocateNodeID()
	err = svc.ApplyUpdates(context.Background(), map[index.ID][]index.EntryUpdate{
		desc.ID: {index.Add(dup, schema, storage.StringValue("dup"))},
	})
	require.NoError(t, err)
	close(gated.resume)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.AwaitPopulation(ctx, desc.ID))

	state, failure, err := svc.StateOf(desc.ID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.NotEmpty(t, failure)
}

func TestServiceDropDuringPopulationIsNotAFailure(t *testing.T) {
	store := storage.NewInMemoryStore()
	seedNode(t, store,
		[]common.TokenID{labelPerson},
		map[common.TokenID]storage.Value{propName: storage.StringValue("a")})

	dir := t.TempDir()
	fs := afero.NewOsFs()
	provider, err := badgerindex.Open(dir, fs, src.NoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, provider.Close()) })

	gated := newGatedScanStore(store)
	svc, err := NewService(
		src.NoopLogger(),
		gated,
		index.SamplingConfig{SampleLimit: 1 << 20},
		2,
		provider,
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	desc, err := svc.CreateIndex(storage.ForLabel(labelPerson, propName), "", false)
	require.NoError(t, err)

	<-gated.scanned
	require.NoError(t, svc.DropIndex(desc.ID))

	_, _, err = svc.StateOf(desc.ID)
	require.ErrorIs(t, err, ErrIndexNotFound)

	// a routine drop must not leave a failure marker behind
	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.HasPrefix(entry.Name(), "failed-"),
			"drop of a populating index left marker %s", entry.Name())
	}
}
