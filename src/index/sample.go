package index

import (
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// Sample is a point-in-time statistics snapshot of one index.
// Recomputation replaces a snapshot, it never merges into one.
type Sample struct {
	IndexSize    int64
	UniqueValues int64
	SampleSize   int64
}

// SamplingConfig bounds sampling work. A zero SampleLimit means the
// whole index is sampled.
type SamplingConfig struct {
	SampleLimit int64
}

// Sampler folds entry updates into per-distinct-value entity sets.
// It is incremental and monotonic during population; the online path
// builds a fresh Sampler per recomputation.
type Sampler struct {
	cfg     SamplingConfig
	buckets map[string]map[common.EntityID]struct{}
	folded  int64
}

func NewSampler(cfg SamplingConfig) *Sampler {
	return &Sampler{
		cfg:     cfg,
		buckets: map[string]map[common.EntityID]struct{}{},
	}
}

// Include folds one entry into the running sample.
func (s *Sampler) Include(entityID common.EntityID, values []storage.Value) {
	if s.cfg.SampleLimit > 0 && s.folded >= s.cfg.SampleLimit {
		return
	}
	s.folded++

	key := storage.CompositeKey(values)
	bucket, ok := s.buckets[key]
	if !ok {
		bucket = map[common.EntityID]struct{}{}
		s.buckets[key] = bucket
	}
	bucket[entityID] = struct{}{}
}

// Exclude drops one entry, keeping the sample consistent when a
// populating updater deletes an entity the scan already counted.
func (s *Sampler) Exclude(entityID common.EntityID, values []storage.Value) {
	key := storage.CompositeKey(values)
	bucket, ok := s.buckets[key]
	if !ok {
		return
	}
	delete(bucket, entityID)
	if len(bucket) == 0 {
		delete(s.buckets, key)
	}
}

// Result snapshots the current sample: IndexSize sums entity counts
// across distinct values, UniqueValues counts the distinct values,
// and SampleSize equals IndexSize for a full sample.
func (s *Sampler) Result() Sample {
	var indexSize int64
	for _, bucket := range s.buckets {
		indexSize += int64(len(bucket))
	}
	return Sample{
		IndexSize:    indexSize,
		UniqueValues: int64(len(s.buckets)),
		SampleSize:   indexSize,
	}
}
