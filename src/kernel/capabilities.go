package kernel

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/indexing"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// Read sees committed data with the transaction's own uncommitted
// changes layered on top.
type Read interface {
	NodeExists(ctx context.Context, id common.EntityID) (bool, error)
	HasLabel(ctx context.Context, id common.EntityID, label common.TokenID) (bool, error)
	NodeProperty(
		ctx context.Context,
		id common.EntityID,
		key common.TokenID,
	) (storage.Value, bool, error)
	IndexSeek(
		ctx context.Context,
		indexID index.ID,
		values ...storage.Value,
	) ([]common.EntityID, error)
}

// Write records data changes in the transaction's private layer.
// Nothing leaves the layer before Commit.
type Write interface {
	CreateNode(ctx context.Context) (common.EntityID, error)
	DeleteNode(ctx context.Context, id common.EntityID) error
	AddLabel(ctx context.Context, id common.EntityID, label common.TokenID) error
	RemoveLabel(ctx context.Context, id common.EntityID, label common.TokenID) error
	SetProperty(
		ctx context.Context,
		id common.EntityID,
		key common.TokenID,
		value storage.Value,
	) error
	RemoveProperty(ctx context.Context, id common.EntityID, key common.TokenID) error
}

// TokenRead resolves label and property-key tokens to names and back.
type TokenRead interface {
	LabelID(name string) (common.TokenID, bool)
	PropertyKeyID(name string) (common.TokenID, bool)
	LabelName(id common.TokenID) (string, bool)
	PropertyKeyName(id common.TokenID) (string, bool)
}

// TokenWrite creates tokens on first use. Token creation is not
// transactional: a token survives the creating transaction's
// rollback.
type TokenWrite interface {
	LabelGetOrCreate(name string) (common.TokenID, error)
	PropertyKeyGetOrCreate(name string) (common.TokenID, error)
}

// SchemaRead inspects index definitions and their lifecycle state.
type SchemaRead interface {
	Indexes() []index.Descriptor
	IndexForSchema(schema storage.SchemaDescriptor) (index.Descriptor, bool)
	IndexState(id index.ID) (indexing.State, string, error)
	IndexSample(id index.ID) (index.Sample, error)
}

// SchemaWrite creates and drops indexes. Serialized against every
// writer through the exclusive schema lock.
type SchemaWrite interface {
	CreateIndex(
		ctx context.Context,
		schema storage.SchemaDescriptor,
		providerName string,
	) (index.Descriptor, error)
	CreateUniqueIndex(
		ctx context.Context,
		schema storage.SchemaDescriptor,
		providerName string,
	) (index.Descriptor, error)
	DropIndex(ctx context.Context, id index.ID) error
}

// Procedures invokes procedures registered with the kernel.
type Procedures interface {
	Call(name string, args ...any) (any, error)
}

// ExecutionStatistics exposes the write counters the transaction
// accumulated so far.
type ExecutionStatistics interface {
	NodesCreated() int64
	NodesDeleted() int64
	LabelsAdded() int64
	LabelsRemoved() int64
	PropertiesSet() int64
	PropertiesRemoved() int64
}

type executionStats struct {
	nodesCreated      int64
	nodesDeleted      int64
	labelsAdded       int64
	labelsRemoved     int64
	propertiesSet     int64
	propertiesRemoved int64
}

func (s *executionStats) NodesCreated() int64      { return s.nodesCreated }
func (s *executionStats) NodesDeleted() int64      { return s.nodesDeleted }
func (s *executionStats) LabelsAdded() int64       { return s.labelsAdded }
func (s *executionStats) LabelsRemoved() int64     { return s.labelsRemoved }
func (s *executionStats) PropertiesSet() int64     { return s.propertiesSet }
func (s *executionStats) PropertiesRemoved() int64 { return s.propertiesRemoved }

// operations backs every capability view of one transaction. The
// views are just this object behind different interfaces, so data
// written through Write is immediately visible through Read.
type operations struct {
	tx      *Transaction
	locks   LockClient
	cursors []*NodeCursor
}

// capability accessors

// DataRead returns the read view. Fails once terminated or closed.
func (tx *Transaction) DataRead() (Read, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

// DataWrite upgrades the transaction to a writer on first use. The
// upgrade is refused when an index was created or dropped after this
// transaction began.
func (tx *Transaction) DataWrite() (Write, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	if err := tx.upgradeToWriter(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

func (tx *Transaction) TokenRead() (TokenRead, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

func (tx *Transaction) TokenWrite() (TokenWrite, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

func (tx *Transaction) SchemaRead() (SchemaRead, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

func (tx *Transaction) SchemaWrite() (SchemaWrite, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

// Locks returns the freeze-gated lock client.
func (tx *Transaction) Locks() (*LockClient, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return &tx.ops.locks, nil
}

func (tx *Transaction) Procedures() (Procedures, error) {
	if err := tx.assertOpen(); err != nil {
		return nil, err
	}
	return tx.ops, nil
}

// ExecutionStatistics is readable even after the transaction closed;
// the counters are frozen at that point.
func (tx *Transaction) ExecutionStatistics() ExecutionStatistics {
	return &tx.stats
}

func (tx *Transaction) upgradeToWriter() error {
	if tx.upgraded {
		return nil
	}
	if tx.kernel.schemaEpoch.Load() != tx.beginEpoch {
		return errors.Wrap(ErrInvalidTransactionType,
			"schema changed since the transaction began")
	}

	// Writers hold the schema lock in shared mode until they finish,
	// keeping every index the commit pipeline will see stable.
	if err := tx.ops.locks.AcquireSchemaShared(context.Background()); err != nil {
		return err
	}
	tx.upgraded = true
	return nil
}

// Read

func (o *operations) NodeExists(
	ctx context.Context,
	id common.EntityID,
) (bool, error) {
	if err := o.tx.assertOpen(); err != nil {
		return false, err
	}
	if err := o.locks.AcquireSharedEntity(ctx, id); err != nil {
		return false, err
	}
	return o.tx.writes.existsOverlay(id, o.tx.kernel.store.NodeExists(id)), nil
}

func (o *operations) HasLabel(
	ctx context.Context,
	id common.EntityID,
	label common.TokenID,
) (bool, error) {
	if err := o.tx.assertOpen(); err != nil {
		return false, err
	}
	if err := o.locks.AcquireSharedEntity(ctx, id); err != nil {
		return false, err
	}
	return o.tx.writes.labelOverlay(id, label, o.tx.kernel.store.HasLabel(id, label)), nil
}

func (o *operations) NodeProperty(
	ctx context.Context,
	id common.EntityID,
	key common.TokenID,
) (storage.Value, bool, error) {
	if err := o.tx.assertOpen(); err != nil {
		return nil, false, err
	}
	if err := o.locks.AcquireSharedEntity(ctx, id); err != nil {
		return nil, false, err
	}
	committed, ok := o.tx.kernel.store.NodeProperty(id, key)
	v, ok := o.tx.writes.propertyOverlay(id, key, committed, ok)
	return v, ok, nil
}

// IndexSeek reads committed entries only; this transaction's own
// uncommitted changes are not reflected until Commit.
func (o *operations) IndexSeek(
	ctx context.Context,
	indexID index.ID,
	values ...storage.Value,
) ([]common.EntityID, error) {
	if err := o.tx.assertOpen(); err != nil {
		return nil, err
	}
	if err := o.tx.kernel.indexing.AwaitPopulation(ctx, indexID); err != nil {
		return nil, err
	}
	reader, err := o.tx.kernel.indexing.Reader(indexID)
	if err != nil {
		return nil, err
	}
	return reader.EntityIDs(values), nil
}

// Write

func (o *operations) CreateNode(ctx context.Context) (common.EntityID, error) {
	if err := o.tx.assertOpen(); err != nil {
		return 0, err
	}

	id := o.tx.kernel.store.AllocateNodeID()
	if err := o.locks.AcquireExclusiveEntity(ctx, id); err != nil {
		return 0, err
	}
	o.tx.writes.createNode(id)
	o.tx.stats.nodesCreated++
	return id, nil
}

func (o *operations) DeleteNode(ctx context.Context, id common.EntityID) error {
	if err := o.tx.assertOpen(); err != nil {
		return err
	}
	if err := o.locks.AcquireExclusiveEntity(ctx, id); err != nil {
		return err
	}
	if !o.tx.writes.existsOverlay(id, o.tx.kernel.store.NodeExists(id)) {
		return errors.Errorf("node %d does not exist", id)
	}
	o.tx.writes.deleteNode(id)
	o.tx.stats.nodesDeleted++
	return nil
}

func (o *operations) AddLabel(
	ctx context.Context,
	id common.EntityID,
	label common.TokenID,
) error {
	if err := o.tx.assertOpen(); err != nil {
		return err
	}
	if err := o.locks.AcquireExclusiveEntity(ctx, id); err != nil {
		return err
	}
	if o.tx.writes.labelOverlay(id, label, o.tx.kernel.store.HasLabel(id, label)) {
		return nil
	}
	o.tx.writes.addLabel(id, label)
	o.tx.stats.labelsAdded++
	return nil
}

func (o *operations) RemoveLabel(
	ctx context.Context,
	id common.EntityID,
	label common.TokenID,
) error {
	if err := o.tx.assertOpen(); err != nil {
		return err
	}
	if err := o.locks.AcquireExclusiveEntity(ctx, id); err != nil {
		return err
	}
	if !o.tx.writes.labelOverlay(id, label, o.tx.kernel.store.HasLabel(id, label)) {
		return nil
	}
	o.tx.writes.removeLabel(id, label)
	o.tx.stats.labelsRemoved++
	return nil
}

func (o *operations) SetProperty(
	ctx context.Context,
	id common.EntityID,
	key common.TokenID,
	value storage.Value,
) error {
	if err := o.tx.assertOpen(); err != nil {
		return err
	}
	if value == nil || value.Kind() == storage.KindNoValue {
		return o.RemoveProperty(ctx, id, key)
	}
	if err := o.locks.AcquireExclusiveEntity(ctx, id); err != nil {
		return err
	}
	o.tx.writes.setProperty(id, key, value)
	o.tx.stats.propertiesSet++
	return nil
}

func (o *operations) RemoveProperty(
	ctx context.Context,
	id common.EntityID,
	key common.TokenID,
) error {
	if err := o.tx.assertOpen(); err != nil {
		return err
	}
	if err := o.locks.AcquireExclusiveEntity(ctx, id); err != nil {
		return err
	}
	committed, ok := o.tx.kernel.store.NodeProperty(id, key)
	if _, present := o.tx.writes.propertyOverlay(id, key, committed, ok); !present {
		return nil
	}
	o.tx.writes.removeProperty(id, key)
	o.tx.stats.propertiesRemoved++
	return nil
}

// TokenRead

func (o *operations) LabelID(name string) (common.TokenID, bool) {
	return o.tx.kernel.tokens.LabelID(name)
}

func (o *operations) PropertyKeyID(name string) (common.TokenID, bool) {
	return o.tx.kernel.tokens.PropertyKeyID(name)
}

func (o *operations) LabelName(id common.TokenID) (string, bool) {
	return o.tx.kernel.tokens.LabelName(id)
}

func (o *operations) PropertyKeyName(id common.TokenID) (string, bool) {
	return o.tx.kernel.tokens.PropertyKeyName(id)
}

// TokenWrite

func (o *operations) LabelGetOrCreate(name string) (common.TokenID, error) {
	if err := o.tx.assertOpen(); err != nil {
		return common.NilTokenID, err
	}
	return o.tx.kernel.tokens.LabelGetOrCreate(name), nil
}

func (o *operations) PropertyKeyGetOrCreate(name string) (common.TokenID, error) {
	if err := o.tx.assertOpen(); err != nil {
		return common.NilTokenID, err
	}
	return o.tx.kernel.tokens.PropertyKeyGetOrCreate(name), nil
}

// SchemaRead

func (o *operations) Indexes() []index.Descriptor {
	return o.tx.kernel.indexing.Descriptors()
}

func (o *operations) IndexForSchema(
	schema storage.SchemaDescriptor,
) (index.Descriptor, bool) {
	desc, err := o.tx.kernel.indexing.DescriptorForSchema(schema)
	return desc, err == nil
}

func (o *operations) IndexState(id index.ID) (indexing.State, string, error) {
	return o.tx.kernel.indexing.StateOf(id)
}

func (o *operations) IndexSample(id index.ID) (index.Sample, error) {
	return o.tx.kernel.indexing.Sample(id)
}

// SchemaWrite

func (o *operations) createIndex(
	ctx context.Context,
	schema storage.SchemaDescriptor,
	providerName string,
	unique bool,
) (index.Descriptor, error) {
	if err := o.tx.assertOpen(); err != nil {
		return index.Descriptor{}, err
	}
	if err := o.locks.AcquireSchemaExclusive(ctx); err != nil {
		return index.Descriptor{}, err
	}

	descriptor, err := o.tx.kernel.indexing.CreateIndex(schema, providerName, unique)
	if err != nil {
		return index.Descriptor{}, err
	}
	o.tx.kernel.schemaEpoch.Add(1)
	return descriptor, nil
}

func (o *operations) CreateIndex(
	ctx context.Context,
	schema storage.SchemaDescriptor,
	providerName string,
) (index.Descriptor, error) {
	return o.createIndex(ctx, schema, providerName, false)
}

func (o *operations) CreateUniqueIndex(
	ctx context.Context,
	schema storage.SchemaDescriptor,
	providerName string,
) (index.Descriptor, error) {
	return o.createIndex(ctx, schema, providerName, true)
}

func (o *operations) DropIndex(ctx context.Context, id index.ID) error {
	if err := o.tx.assertOpen(); err != nil {
		return err
	}
	if err := o.locks.AcquireSchemaExclusive(ctx); err != nil {
		return err
	}
	if err := o.tx.kernel.indexing.DropIndex(id); err != nil {
		return err
	}
	o.tx.kernel.schemaEpoch.Add(1)
	return nil
}

// Procedures

func (o *operations) Call(name string, args ...any) (any, error) {
	if err := o.tx.assertOpen(); err != nil {
		return nil, err
	}
	fn, ok := o.tx.kernel.procedure(name)
	if !ok {
		return nil, errors.Errorf("no procedure registered under %q", name)
	}
	return fn(o.tx, args...)
}

var _ Read = (*operations)(nil)
var _ Write = (*operations)(nil)
var _ TokenRead = (*operations)(nil)
var _ TokenWrite = (*operations)(nil)
var _ SchemaRead = (*operations)(nil)
var _ SchemaWrite = (*operations)(nil)
var _ Procedures = (*operations)(nil)
