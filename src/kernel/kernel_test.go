package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/indexing"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// buildOnlineIndex creates an index through a schema transaction and
// waits for its population to finish.
func buildOnlineIndex(
	t *testing.T,
	k *Kernel,
	schema storage.SchemaDescriptor,
	unique bool,
) index.Descriptor {
	t.Helper()
	ctx := context.Background()

	ddl := k.BeginTransaction(Explicit)
	defer func() { _ = ddl.Close() }()

	schemaWrite, err := ddl.SchemaWrite()
	require.NoError(t, err)

	var desc index.Descriptor
	if unique {
		desc, err = schemaWrite.CreateUniqueIndex(ctx, schema, "")
	} else {
		desc, err = schemaWrite.CreateIndex(ctx, schema, "")
	}
	require.NoError(t, err)
	require.NoError(t, ddl.Close())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, k.IndexingService().AwaitPopulation(waitCtx, desc.ID))

	state, failure, err := k.IndexingService().StateOf(desc.ID)
	require.NoError(t, err)
	require.Equal(t, indexing.StateOnline, state, "population failure: %s", failure)
	return desc
}

func commitPerson(
	t *testing.T,
	k *Kernel,
	label, nameKey common.TokenID,
	name string,
) common.EntityID {
	t.Helper()

	tx := k.BeginTransaction(Explicit)
	defer func() { _ = tx.Close() }()

	id := createPerson(t, tx, label, nameKey, name)
	commitID, err := tx.Commit()
	require.NoError(t, err)
	require.Positive(t, commitID)
	return id
}

func TestCommitFeedsOnlineIndex(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	seeded := commitPerson(t, k, label, nameKey, "a")
	desc := buildOnlineIndex(t, k, storage.ForLabel(label, nameKey), false)

	// population picked up the pre-existing node
	readTx := k.BeginTransaction(Explicit)
	defer func() { _ = readTx.Close() }()
	read, err := readTx.DataRead()
	require.NoError(t, err)

	ids, err := read.IndexSeek(ctx, desc.ID, storage.StringValue("a"))
	require.NoError(t, err)
	require.Equal(t, []common.EntityID{seeded}, ids)

	// a committed transaction lands in the index
	added := commitPerson(t, k, label, nameKey, "b")
	ids, err = read.IndexSeek(ctx, desc.ID, storage.StringValue("b"))
	require.NoError(t, err)
	require.Equal(t, []common.EntityID{added}, ids)
}

func TestCommitMovesChangedEntryExactlyOnce(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	id := commitPerson(t, k, label, nameKey, "old")
	desc := buildOnlineIndex(t, k, storage.ForLabel(label, nameKey), false)

	tx := k.BeginTransaction(Explicit)
	defer func() { _ = tx.Close() }()
	write, err := tx.DataWrite()
	require.NoError(t, err)
	require.NoError(t, write.SetProperty(ctx, id, nameKey, storage.StringValue("new")))
	_, err = tx.Commit()
	require.NoError(t, err)

	reader, err := k.IndexingService().Reader(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), reader.CountAll())
	require.Empty(t, reader.EntityIDs([]storage.Value{storage.StringValue("old")}))
	require.Len(t, reader.EntityIDs([]storage.Value{storage.StringValue("new")}), 1)
}

func TestCommitRemovesDeletedEntry(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	id := commitPerson(t, k, label, nameKey, "gone")
	desc := buildOnlineIndex(t, k, storage.ForLabel(label, nameKey), false)

	tx := k.BeginTransaction(Explicit)
	defer func() { _ = tx.Close() }()
	write, err := tx.DataWrite()
	require.NoError(t, err)
	require.NoError(t, write.DeleteNode(ctx, id))
	_, err = tx.Commit()
	require.NoError(t, err)

	reader, err := k.IndexingService().Reader(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), reader.CountAll())
}

func TestRolledBackTransactionLeavesIndexAlone(t *testing.T) {
	k, _ := newTestKernel(t)

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	desc := buildOnlineIndex(t, k, storage.ForLabel(label, nameKey), false)

	tx := k.BeginTransaction(Explicit)
	createPerson(t, tx, label, nameKey, "phantom")
	require.Equal(t, Rollback, tx.Rollback())

	reader, err := k.IndexingService().Reader(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), reader.CountAll())
}

func TestUniqueViolationFailsCommitAtomically(t *testing.T) {
	k, store := newTestKernel(t)

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	commitPerson(t, k, label, nameKey, "taken")
	desc := buildOnlineIndex(t, k, storage.ForLabel(label, nameKey), true)

	tx := k.BeginTransaction(Explicit)
	defer func() { _ = tx.Close() }()
	dup := createPerson(t, tx, label, nameKey, "taken")

	_, err := tx.Commit()
	require.ErrorIs(t, err, ErrTransactionFailure)
	require.False(t, tx.IsOpen())

	// the storage batch was reverted along with the index batch
	require.False(t, store.NodeExists(dup))

	reader, err := k.IndexingService().Reader(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), reader.CountAll())
}

func TestSchemaReadSeesIndexAndSample(t *testing.T) {
	k, _ := newTestKernel(t)

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	for _, name := range []string{"a", "a", "b"} {
		commitPerson(t, k, label, nameKey, name)
	}
	schema := storage.ForLabel(label, nameKey)
	desc := buildOnlineIndex(t, k, schema, false)

	tx := k.BeginTransaction(Explicit)
	defer func() { _ = tx.Close() }()

	schemaRead, err := tx.SchemaRead()
	require.NoError(t, err)

	got, ok := schemaRead.IndexForSchema(schema)
	require.True(t, ok)
	require.Equal(t, desc.ID, got.ID)

	state, _, err := schemaRead.IndexState(desc.ID)
	require.NoError(t, err)
	require.Equal(t, indexing.StateOnline, state)

	sample, err := schemaRead.IndexSample(desc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), sample.IndexSize)
	require.Equal(t, int64(2), sample.UniqueValues)
	require.Equal(t, int64(3), sample.SampleSize)

	require.Len(t, schemaRead.Indexes(), 1)
}

func TestDropIndexThroughSchemaWrite(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	const (
		label   = common.TokenID(1)
		nameKey = common.TokenID(10)
	)

	desc := buildOnlineIndex(t, k, storage.ForLabel(label, nameKey), false)

	tx := k.BeginTransaction(Explicit)
	defer func() { _ = tx.Close() }()

	schemaWrite, err := tx.SchemaWrite()
	require.NoError(t, err)
	require.NoError(t, schemaWrite.DropIndex(ctx, desc.ID))

	_, err = k.IndexingService().Reader(desc.ID)
	require.ErrorIs(t, err, indexing.ErrIndexNotFound)
}
