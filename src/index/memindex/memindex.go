// Package memindex is the default index provider: an in-memory
// hash-bucketed index keyed by the composite value key. It backs
// tests and single-process deployments.
package memindex

import (
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

type entry struct {
	key    string
	values []storage.Value
}

// store is one index's content. A batch applies under one lock hold,
// so readers never observe a partially applied batch.
type store struct {
	mu       sync.RWMutex
	byKey    map[string]map[common.EntityID]struct{}
	byEntity map[common.EntityID]entry

	failure string
}

func newStore() *store {
	return &store{
		byKey:    map[string]map[common.EntityID]struct{}{},
		byEntity: map[common.EntityID]entry{},
	}
}

type storeOp struct {
	remove   bool
	entityID common.EntityID
	values   []storage.Value
	before   []storage.Value // prior values of a CHANGE or REMOVE
}

func (s *store) applyBatch(ops []storeOp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		if op.remove {
			s.removeLocked(op.entityID)
			continue
		}
		s.upsertLocked(op.entityID, op.values)
	}
}

// upsertLocked is keyed by entity: re-adding an entity the index
// already holds moves it to the new value bucket instead of
// double-counting it.
func (s *store) upsertLocked(id common.EntityID, values []storage.Value) {
	s.removeLocked(id)

	key := storage.CompositeKey(values)
	bucket, ok := s.byKey[key]
	if !ok {
		bucket = map[common.EntityID]struct{}{}
		s.byKey[key] = bucket
	}
	bucket[id] = struct{}{}
	s.byEntity[id] = entry{key: key, values: values}
}

func (s *store) removeLocked(id common.EntityID) {
	prev, ok := s.byEntity[id]
	if !ok {
		return
	}
	delete(s.byEntity, id)

	bucket := s.byKey[prev.key]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(s.byKey, prev.key)
	}
}

// applyBatchUnique applies the batch only if no value ends up held by
// more than one entity. A violating batch leaves the index untouched.
func (s *store) applyBatchUnique(ops []storeOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	origKey, origEntity := s.byKey, s.byEntity

	byKey := make(map[string]map[common.EntityID]struct{}, len(origKey))
	for k, bucket := range origKey {
		c := make(map[common.EntityID]struct{}, len(bucket))
		for id := range bucket {
			c[id] = struct{}{}
		}
		byKey[k] = c
	}
	byEntity := make(map[common.EntityID]entry, len(origEntity))
	for id, e := range origEntity {
		byEntity[id] = e
	}

	s.byKey, s.byEntity = byKey, byEntity
	for _, op := range ops {
		if op.remove {
			s.removeLocked(op.entityID)
			continue
		}
		s.upsertLocked(op.entityID, op.values)
	}

	for key, bucket := range s.byKey {
		if len(bucket) > 1 {
			s.byKey, s.byEntity = origKey, origEntity
			return errors.Wrap(index.ErrUniquenessViolation,
				fmt.Sprintf("value %q is held by %d entities", key, len(bucket)))
		}
	}
	return nil
}

func (s *store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey = map[string]map[common.EntityID]struct{}{}
	s.byEntity = map[common.EntityID]entry{}
}

// Provider implements index.Provider over per-index in-memory stores.
type Provider struct {
	mu         sync.Mutex
	stores     map[index.ID]*store
	instanceID uuid.UUID
}

var _ index.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		stores:     map[index.ID]*store{},
		instanceID: uuid.New(),
	}
}

func (p *Provider) ProviderDescriptor() index.ProviderDescriptor {
	return index.ProviderDescriptor{Name: "in-memory", Version: "1.0"}
}

func (p *Provider) CompleteConfiguration(descriptor index.Descriptor) index.Descriptor {
	return descriptor.WithConfigDefault("memindex.instance", p.instanceID.String())
}

func (p *Provider) StoreMigrationParticipant() index.MigrationParticipant {
	return index.NotParticipating
}

func (p *Provider) storeFor(id index.ID) *store {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.stores[id]
	if !ok {
		s = newStore()
		p.stores[id] = s
	}
	return s
}

func (p *Provider) dropStore(id index.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stores, id)
}

func (p *Provider) GetPopulator(
	descriptor index.Descriptor,
	cfg index.SamplingConfig,
) (index.Populator, error) {
	return &populator{
		store:   p.storeFor(descriptor.ID),
		sampler: index.NewSampler(cfg),
		unique:  descriptor.Unique,
		touched: map[common.EntityID]struct{}{},
	}, nil
}

func (p *Provider) GetOnlineAccessor(
	descriptor index.Descriptor,
	cfg index.SamplingConfig,
) (index.Accessor, error) {
	s := p.storeFor(descriptor.ID)

	s.mu.RLock()
	failure := s.failure
	s.mu.RUnlock()
	if failure != "" {
		return nil, errors.Errorf("index %s is failed: %s", descriptor, failure)
	}

	return &accessor{
		provider: p,
		indexID:  descriptor.ID,
		store:    s,
		unique:   descriptor.Unique,
	}, nil
}

type populator struct {
	store   *store
	sampler *index.Sampler
	unique  bool

	// mu orders scan batches against populating-updater batches and
	// guards touched and the sampler. touched holds the entities
	// committed transactions wrote during population; the scan's view
	// of those entities is stale and must not win.
	mu      sync.Mutex
	touched map[common.EntityID]struct{}
}

var _ index.Populator = (*populator)(nil)

func (p *populator) Create() error {
	p.store.clear()
	return nil
}

func (p *populator) Add(updates []index.EntryUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ops := make([]storeOp, 0, len(updates))
	for _, u := range updates {
		if u.Mode() != index.UpdateAdded {
			return errors.Errorf("population scan produced a non-ADD update: %s", u)
		}
		if _, ok := p.touched[u.EntityID()]; ok {
			continue
		}
		ops = append(ops, storeOp{entityID: u.EntityID(), values: u.Values()})
	}
	p.store.applyBatch(ops)
	return nil
}

func (p *populator) NewPopulatingUpdater(reader storage.Reader) index.Updater {
	return &collectingUpdater{
		apply: func(ops []storeOp) error {
			p.mu.Lock()
			defer p.mu.Unlock()

			for _, op := range ops {
				p.touched[op.entityID] = struct{}{}
			}
			p.store.applyBatch(ops)

			for _, op := range ops {
				if len(op.before) > 0 {
					p.sampler.Exclude(op.entityID, op.before)
				}
				if op.remove {
					continue
				}
				p.sampler.Include(op.entityID, op.values)
			}
			return nil
		},
	}
}

func (p *populator) VerifyDeferredConstraints(reader storage.Reader) error {
	if !p.unique {
		return nil
	}

	p.store.mu.RLock()
	defer p.store.mu.RUnlock()

	for key, bucket := range p.store.byKey {
		if len(bucket) > 1 {
			return errors.Wrap(index.ErrUniquenessViolation,
				fmt.Sprintf("value %q is held by %d entities", key, len(bucket)))
		}
	}
	return nil
}

func (p *populator) IncludeSample(update index.EntryUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.touched[update.EntityID()]; ok {
		return
	}
	p.sampler.Include(update.EntityID(), update.Values())
}

func (p *populator) SampleResult() index.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampler.Result()
}

func (p *populator) Close(populationCompletedSuccessfully bool) error {
	if !populationCompletedSuccessfully {
		p.store.clear()
	}
	return nil
}

func (p *populator) MarkAsFailed(message string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.store.failure = message
	return nil
}

type accessor struct {
	provider *Provider
	indexID  index.ID
	store    *store
	unique   bool
}

var _ index.Accessor = (*accessor)(nil)

func (a *accessor) EntityIDs(values []storage.Value) []common.EntityID {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	bucket := a.store.byKey[storage.CompositeKey(values)]
	ids := make([]common.EntityID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

func (a *accessor) CountAll() int64 {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	return int64(len(a.store.byEntity))
}

func (a *accessor) NewUpdater(mode index.UpdaterMode) index.Updater {
	return &collectingUpdater{
		apply: func(ops []storeOp) error {
			if a.unique {
				return a.store.applyBatchUnique(ops)
			}
			a.store.applyBatch(ops)
			return nil
		},
	}
}

func (a *accessor) SampleIndex(cfg index.SamplingConfig) (index.Sample, error) {
	sampler := index.NewSampler(cfg)

	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	for id, e := range a.store.byEntity {
		sampler.Include(id, e.values)
	}
	return sampler.Result(), nil
}

func (a *accessor) Drop() error {
	a.store.clear()
	a.provider.dropStore(a.indexID)
	return nil
}

func (a *accessor) Close() error { return nil }

// collectingUpdater buffers one transaction's updates and hands the
// whole batch to the store on Close, so a concurrent reader sees the
// batch all-or-nothing.
type collectingUpdater struct {
	ops    []storeOp
	apply  func([]storeOp) error
	closed bool
}

var _ index.Updater = (*collectingUpdater)(nil)

func (u *collectingUpdater) Process(update index.EntryUpdate) error {
	if u.closed {
		return errors.New("updater is already closed")
	}

	switch update.Mode() {
	case index.UpdateAdded, index.UpdateChanged:
		u.ops = append(u.ops, storeOp{
			entityID: update.EntityID(),
			values:   update.Values(),
			before:   update.Before(),
		})
	case index.UpdateRemoved:
		u.ops = append(u.ops, storeOp{
			remove:   true,
			entityID: update.EntityID(),
			before:   update.Before(),
		})
	default:
		return errors.Errorf("unsupported update mode: %s", update.Mode())
	}
	return nil
}

func (u *collectingUpdater) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	return u.apply(u.ops)
}
