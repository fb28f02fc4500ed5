package indexing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

const populationBatchSize = 128

// populate builds one index: full scan feeding the populator in
// batches, then deferred constraint verification, then the flip to
// ONLINE. Transactions that commit while this runs route their
// updates through the populating updater (see applyBatch); the
// populator remembers which entities those updates touched and the
// scan skips them, so a stale scan entry never overwrites a
// committed write.
func (s *Service) populate(ctx context.Context, proxy *indexProxy) {
	defer close(proxy.populationDone)
	started := time.Now()

	err := s.runPopulation(ctx, proxy)

	s.metrics.populationDuration.Record(ctx, time.Since(started).Seconds())
	if errors.Is(err, context.Canceled) {
		// A drop cancelled the population; the index is on its way
		// out and must not end up marked failed.
		s.abandonPopulation(proxy)
		return
	}
	if err != nil {
		s.failPopulation(proxy, err)
		return
	}

	// Deferred verification and the flip to ONLINE hold the proxy
	// lock together, so no populating-updater batch can land between
	// the constraint check and the index coming online unchecked.
	proxy.mu.Lock()
	err = proxy.populator.VerifyDeferredConstraints(s.store)
	if err == nil {
		err = proxy.populator.Close(true)
	}
	var accessor index.Accessor
	if err == nil {
		accessor, err = proxy.provider.GetOnlineAccessor(proxy.descriptor, s.cfg)
	}
	if err == nil {
		proxy.state = StateOnline
		proxy.accessor = accessor
		proxy.sample = proxy.populator.SampleResult()
	}
	proxy.mu.Unlock()

	if err != nil {
		s.failPopulation(proxy, err)
		return
	}

	s.metrics.populationsCompleted.Add(ctx, 1)
	s.log.Infow("index population completed",
		"index", proxy.descriptor.ID,
		"duration", time.Since(started),
		"indexSize", proxy.sample.IndexSize,
		"uniqueValues", proxy.sample.UniqueValues)
}

func (s *Service) runPopulation(ctx context.Context, proxy *indexProxy) error {
	populator := proxy.populator
	schema := proxy.descriptor.Schema

	if err := populator.Create(); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	batches := make(chan []index.EntryUpdate, 4)

	eg.Go(func() error {
		defer close(batches)

		batch := make([]index.EntryUpdate, 0, populationBatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case batches <- batch:
				batch = make([]index.EntryUpdate, 0, populationBatchSize)
				return nil
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}

		err := s.store.ScanNodes(egCtx, func(
			id common.EntityID,
			labels map[common.TokenID]struct{},
			props map[common.TokenID]storage.Value,
		) error {
			update, matches := scanEntry(id, labels, props, schema)
			if !matches {
				return nil
			}
			batch = append(batch, update)
			if len(batch) == populationBatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return flush()
	})

	eg.Go(func() error {
		for batch := range batches {
			if err := populator.Add(batch); err != nil {
				return err
			}
			for _, u := range batch {
				populator.IncludeSample(u)
			}
		}
		return nil
	})

	return eg.Wait()
}

// scanEntry projects one scanned node onto the schema; only nodes
// carrying the label and every indexed property become entries.
func scanEntry(
	id common.EntityID,
	labels map[common.TokenID]struct{},
	props map[common.TokenID]storage.Value,
	schema storage.SchemaDescriptor,
) (index.EntryUpdate, bool) {
	if _, ok := labels[schema.Label()]; !ok {
		return index.EntryUpdate{}, false
	}

	keys := schema.PropertyKeys()
	values := make([]storage.Value, 0, len(keys))
	for _, key := range keys {
		v, ok := props[key]
		if !ok {
			return index.EntryUpdate{}, false
		}
		values = append(values, v)
	}
	return index.Add(id, schema, values...), true
}

// abandonPopulation discards a cancelled population's partial state
// without marking the index failed.
func (s *Service) abandonPopulation(proxy *indexProxy) {
	proxy.mu.Lock()
	defer proxy.mu.Unlock()

	if err := proxy.populator.Close(false); err != nil {
		s.log.Errorw("discarding cancelled population",
			"index", proxy.descriptor.ID, "err", err)
	}
	s.log.Infow("index population abandoned", "index", proxy.descriptor.ID)
}

// failPopulation marks the index permanently failed. The failure is
// surfaced to schema reads; the index never serves lookups.
func (s *Service) failPopulation(proxy *indexProxy, cause error) {
	proxy.mu.Lock()
	defer proxy.mu.Unlock()

	if err := proxy.populator.MarkAsFailed(cause.Error()); err != nil {
		s.log.Errorw("marking index as failed", "index", proxy.descriptor.ID, "err", err)
	}
	if err := proxy.populator.Close(false); err != nil {
		s.log.Errorw("discarding failed population", "index", proxy.descriptor.ID, "err", err)
	}

	proxy.state = StateFailed
	proxy.failure = cause.Error()

	s.metrics.populationsFailed.Add(context.Background(), 1)
	s.log.Errorw("index population failed",
		"index", proxy.descriptor.ID, "err", cause)
}
