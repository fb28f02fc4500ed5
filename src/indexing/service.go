// Package indexing routes derived index updates to the right index
// and owns the index lifecycle: population, online serving, sampling
// and the permanently-failed state.
package indexing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/panjf2000/ants"

	"github.com/Blackdeer1524/GraphKernel/src"
	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

var (
	ErrIndexNotFound = errors.New("no such index")
	// ErrIndexFailed marks an index whose population failed; schema
	// reads surface it and queries must not silently use the index.
	ErrIndexFailed = errors.New("index is in a failed state")
	// ErrIndexNotOnline is returned by operations that need a
	// completed population, e.g. online sampling.
	ErrIndexNotOnline = errors.New("index population has not completed")
)

// State is an index's lifecycle state inside the service.
type State int

const (
	StatePopulating State = iota
	StateOnline
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePopulating:
		return "POPULATING"
	case StateOnline:
		return "ONLINE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", s)
}

// indexProxy is the live handle of one index. Its mutex serializes
// batch applies into the underlying populator/accessor: at most one
// transaction's batch is in flight per index, so applied updates are
// never interleaved mid-batch.
type indexProxy struct {
	descriptor index.Descriptor
	provider   index.Provider

	mu        sync.Mutex
	state     State
	populator index.Populator
	accessor  index.Accessor
	failure   string
	sample    index.Sample

	cancelPopulation context.CancelFunc
	populationDone   chan struct{}
}

// Service maintains the descriptor-to-index routing table and
// guarantees at most one active populator per index.
type Service struct {
	log   src.Logger
	store storage.Store
	cfg   index.SamplingConfig

	providers       map[string]index.Provider
	defaultProvider string

	mu          sync.RWMutex
	indexes     map[index.ID]*indexProxy
	bySchema    map[string]*indexProxy
	nextIndexID atomic.Uint64

	pool    *ants.Pool
	metrics *serviceMetrics
}

// NewService wires the service. Providers are registered under their
// descriptor name; the first one passed becomes the default.
func NewService(
	log src.Logger,
	store storage.Store,
	cfg index.SamplingConfig,
	populationWorkers int,
	providers ...index.Provider,
) (*Service, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one index provider is required")
	}

	pool, err := ants.NewPool(populationWorkers)
	if err != nil {
		return nil, errors.Wrap(err, "population worker pool")
	}

	s := &Service{
		log:       log,
		store:     store,
		cfg:       cfg,
		providers: map[string]index.Provider{},
		indexes:   map[index.ID]*indexProxy{},
		bySchema:  map[string]*indexProxy{},
		pool:      pool,
		metrics:   newServiceMetrics(),
	}
	for i, p := range providers {
		name := p.ProviderDescriptor().Name
		s.providers[name] = p
		if i == 0 {
			s.defaultProvider = name
		}
	}
	return s, nil
}

func (s *Service) Close() {
	s.pool.Release()
}

// CreateIndex registers a new index for the schema and starts its
// population in the background. providerName may be empty for the
// default provider.
func (s *Service) CreateIndex(
	schema storage.SchemaDescriptor,
	providerName string,
	unique bool,
) (index.Descriptor, error) {
	if providerName == "" {
		providerName = s.defaultProvider
	}
	provider, ok := s.providers[providerName]
	if !ok {
		return index.Descriptor{}, errors.Errorf("unknown index provider %q", providerName)
	}

	descriptor := provider.CompleteConfiguration(index.Descriptor{
		ID:       index.ID(s.nextIndexID.Add(1)),
		Schema:   schema,
		Provider: provider.ProviderDescriptor(),
		Unique:   unique,
	})

	populator, err := provider.GetPopulator(descriptor, s.cfg)
	if err != nil {
		return index.Descriptor{}, errors.Wrap(err, "get populator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	proxy := &indexProxy{
		descriptor:       descriptor,
		provider:         provider,
		state:            StatePopulating,
		populator:        populator,
		cancelPopulation: cancel,
		populationDone:   make(chan struct{}),
	}

	err = func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		canonical := schema.CanonicalID()
		if _, exists := s.bySchema[canonical]; exists {
			return errors.Errorf("an index on %s already exists", schema)
		}
		s.indexes[descriptor.ID] = proxy
		s.bySchema[canonical] = proxy
		return nil
	}()
	if err != nil {
		cancel()
		return index.Descriptor{}, err
	}

	if err := s.pool.Submit(func() {
		s.populate(ctx, proxy)
	}); err != nil {
		cancel()
		s.dropProxy(proxy)
		return index.Descriptor{}, errors.Wrap(err, "submit population job")
	}

	s.log.Infow("index population started",
		"index", descriptor.ID, "schema", schema.String(), "provider", providerName)
	return descriptor, nil
}

// DropIndex cancels a running population and removes the index.
func (s *Service) DropIndex(id index.ID) error {
	proxy, err := s.proxyFor(id)
	if err != nil {
		return err
	}

	proxy.cancelPopulation()
	<-proxy.populationDone

	proxy.mu.Lock()
	defer proxy.mu.Unlock()

	if proxy.accessor != nil {
		if err := proxy.accessor.Drop(); err != nil {
			return errors.Wrap(err, "drop accessor")
		}
	}
	s.dropProxy(proxy)
	return nil
}

func (s *Service) dropProxy(proxy *indexProxy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, proxy.descriptor.ID)
	delete(s.bySchema, proxy.descriptor.Schema.CanonicalID())
}

func (s *Service) proxyFor(id index.ID) (*indexProxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proxy, ok := s.indexes[id]
	if !ok {
		return nil, errors.Wrap(ErrIndexNotFound, fmt.Sprintf("index %d", id))
	}
	return proxy, nil
}

// Descriptors lists the indexes that must receive derived updates:
// populating and online ones. Failed indexes receive nothing.
func (s *Service) Descriptors() []index.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]index.Descriptor, 0, len(s.indexes))
	for _, proxy := range s.indexes {
		proxy.mu.Lock()
		state := proxy.state
		proxy.mu.Unlock()

		if state == StateFailed {
			continue
		}
		out = append(out, proxy.descriptor)
	}
	return out
}

// DescriptorForSchema resolves the index tracking the schema, like a
// schema read would.
func (s *Service) DescriptorForSchema(
	schema storage.SchemaDescriptor,
) (index.Descriptor, error) {
	s.mu.RLock()
	proxy, ok := s.bySchema[schema.CanonicalID()]
	s.mu.RUnlock()

	if !ok {
		return index.Descriptor{}, errors.Wrap(ErrIndexNotFound, schema.String())
	}

	proxy.mu.Lock()
	defer proxy.mu.Unlock()
	if proxy.state == StateFailed {
		return index.Descriptor{}, errors.Wrap(ErrIndexFailed, proxy.failure)
	}
	return proxy.descriptor, nil
}

// StateOf reports the index's lifecycle state and, for failed
// indexes, the failure message.
func (s *Service) StateOf(id index.ID) (State, string, error) {
	proxy, err := s.proxyFor(id)
	if err != nil {
		return 0, "", err
	}

	proxy.mu.Lock()
	defer proxy.mu.Unlock()
	return proxy.state, proxy.failure, nil
}

// ApplyUpdates hands each index its batch from one committed
// transaction. The batch for one index applies all-or-nothing
// relative to readers; an error from any index fails the whole apply
// and the caller rolls the transaction back.
func (s *Service) ApplyUpdates(
	ctx context.Context,
	updates map[index.ID][]index.EntryUpdate,
) error {
	for id, batch := range updates {
		if len(batch) == 0 {
			continue
		}

		proxy, err := s.proxyFor(id)
		if err != nil {
			return err
		}

		if err := s.applyBatch(proxy, batch); err != nil {
			return errors.Wrap(err, fmt.Sprintf("apply batch to index %d", id))
		}
		s.metrics.updatesApplied.Add(ctx, int64(len(batch)))
	}
	return nil
}

func (s *Service) applyBatch(proxy *indexProxy, batch []index.EntryUpdate) error {
	proxy.mu.Lock()
	defer proxy.mu.Unlock()

	var updater index.Updater
	switch proxy.state {
	case StateOnline:
		updater = proxy.accessor.NewUpdater(index.UpdaterOnline)
	case StatePopulating:
		updater = proxy.populator.NewPopulatingUpdater(s.store)
	case StateFailed:
		return errors.Wrap(ErrIndexFailed, proxy.failure)
	}

	for _, u := range batch {
		if err := updater.Process(u); err != nil {
			return err
		}
	}
	return updater.Close()
}

// Reader exposes an online index for lookups.
func (s *Service) Reader(id index.ID) (index.Reader, error) {
	proxy, err := s.proxyFor(id)
	if err != nil {
		return nil, err
	}

	proxy.mu.Lock()
	defer proxy.mu.Unlock()

	switch proxy.state {
	case StateOnline:
		return proxy.accessor, nil
	case StateFailed:
		return nil, errors.Wrap(ErrIndexFailed, proxy.failure)
	default:
		return nil, ErrIndexNotOnline
	}
}

// AwaitPopulation blocks until the index's population finished,
// successfully or not.
func (s *Service) AwaitPopulation(ctx context.Context, id index.ID) error {
	proxy, err := s.proxyFor(id)
	if err != nil {
		return err
	}

	select {
	case <-proxy.populationDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sample returns the index's current statistics snapshot.
func (s *Service) Sample(id index.ID) (index.Sample, error) {
	proxy, err := s.proxyFor(id)
	if err != nil {
		return index.Sample{}, err
	}

	proxy.mu.Lock()
	defer proxy.mu.Unlock()
	if proxy.state == StateFailed {
		return index.Sample{}, errors.Wrap(ErrIndexFailed, proxy.failure)
	}
	return proxy.sample, nil
}

// TriggerSampling recomputes the online statistics snapshot. The new
// snapshot replaces the previous one, it is never merged into it.
func (s *Service) TriggerSampling(id index.ID) (index.Sample, error) {
	proxy, err := s.proxyFor(id)
	if err != nil {
		return index.Sample{}, err
	}

	proxy.mu.Lock()
	defer proxy.mu.Unlock()

	if proxy.state != StateOnline {
		return index.Sample{}, ErrIndexNotOnline
	}

	sample, err := proxy.accessor.SampleIndex(s.cfg)
	if err != nil {
		return index.Sample{}, errors.Wrap(err, "recompute sample")
	}
	proxy.sample = sample
	return sample, nil
}
