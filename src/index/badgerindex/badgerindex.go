// Package badgerindex is a persistent index provider on badger.
// Entries are keyed by (index id, composite value key, entity id), so
// a value-bucket lookup is a prefix scan. A failed population leaves
// a marker file next to the database which later opens surface.
package badgerindex

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/GraphKernel/src"
	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/utils"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// Provider implements index.Provider on one badger instance shared by
// every index it serves.
type Provider struct {
	db  *badger.DB
	fs  afero.Fs
	dir string
	log src.Logger
}

var _ index.Provider = (*Provider)(nil)

func Open(dir string, fs afero.Fs, log src.Logger) (*Provider, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}

	return &Provider{db: db, fs: fs, dir: dir, log: log}, nil
}

func (p *Provider) Close() error {
	return p.db.Close()
}

func (p *Provider) ProviderDescriptor() index.ProviderDescriptor {
	return index.ProviderDescriptor{Name: "badger", Version: "4.0"}
}

func (p *Provider) CompleteConfiguration(descriptor index.Descriptor) index.Descriptor {
	return descriptor.WithConfigDefault("badgerindex.dir", p.dir)
}

func (p *Provider) StoreMigrationParticipant() index.MigrationParticipant {
	return index.NotParticipating
}

func (p *Provider) failureMarkerPath(id index.ID) string {
	return filepath.Join(p.dir, fmt.Sprintf("failed-%d", id))
}

func (p *Provider) readFailure(id index.ID) (string, bool) {
	data, err := afero.ReadFile(p.fs, p.failureMarkerPath(id))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func indexPrefix(id index.ID) []byte {
	return append([]byte("idx/"), utils.Uint64ToBytes(uint64(id))...)
}

// bucketKey orders entries of one value bucket contiguously. The
// value key is length-prefixed: value keys can hold any byte, so a
// terminator alone cannot keep one bucket's prefix from matching a
// bucket whose key extends it.
func bucketKey(id index.ID, valueKey string, entityID common.EntityID) []byte {
	return append(bucketPrefix(id, valueKey), utils.Uint64ToBytes(uint64(entityID))...)
}

func bucketPrefix(id index.ID, valueKey string) []byte {
	k := append(indexPrefix(id), byte('k'))
	k = binary.AppendUvarint(k, uint64(len(valueKey)))
	return append(k, []byte(valueKey)...)
}

// entityKey points at an entity's current bucket, making re-adds
// upserts instead of duplicates.
func entityKey(id index.ID, entityID common.EntityID) []byte {
	k := append(indexPrefix(id), byte('e'))
	return append(k, utils.Uint64ToBytes(uint64(entityID))...)
}

func entityPrefix(id index.ID) []byte {
	return append(indexPrefix(id), byte('e'))
}

func encodeEntityRecord(valueKey string, values []storage.Value) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("key", func(e *jx.Encoder) { e.Str(valueKey) })
		e.Field("repr", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, v := range values {
					e.Str(v.String())
				}
			})
		})
	})
	return e.Bytes()
}

func decodeEntityRecordKey(data []byte) (string, error) {
	d := jx.DecodeBytes(data)
	var valueKey string
	if err := d.Obj(func(d *jx.Decoder, field string) error {
		switch field {
		case "key":
			k, err := d.Str()
			if err != nil {
				return err
			}
			valueKey = k
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return "", errors.Wrap(err, "decode entity record")
	}
	return valueKey, nil
}

type txnOp struct {
	remove   bool
	entityID common.EntityID
	valueKey string
	values   []storage.Value
	before   []storage.Value // prior values of a CHANGE or REMOVE
}

// applyOps executes one batch inside a single badger transaction, so
// the batch is atomic with respect to readers.
func (p *Provider) applyOps(id index.ID, ops []txnOp) error {
	return p.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			if err := removeEntity(txn, id, op.entityID); err != nil {
				return err
			}
			if op.remove {
				continue
			}

			record := encodeEntityRecord(op.valueKey, op.values)
			if err := txn.Set(entityKey(id, op.entityID), record); err != nil {
				return errors.Wrap(err, "set entity record")
			}
			if err := txn.Set(bucketKey(id, op.valueKey, op.entityID), nil); err != nil {
				return errors.Wrap(err, "set bucket entry")
			}
		}
		return nil
	})
}

func removeEntity(txn *badger.Txn, id index.ID, entityID common.EntityID) error {
	item, err := txn.Get(entityKey(id, entityID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "get entity record")
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return errors.Wrap(err, "read entity record")
	}
	prevKey, err := decodeEntityRecordKey(data)
	if err != nil {
		return err
	}

	if err := txn.Delete(bucketKey(id, prevKey, entityID)); err != nil {
		return errors.Wrap(err, "delete bucket entry")
	}
	if err := txn.Delete(entityKey(id, entityID)); err != nil {
		return errors.Wrap(err, "delete entity record")
	}
	return nil
}

func (p *Provider) GetPopulator(
	descriptor index.Descriptor,
	cfg index.SamplingConfig,
) (index.Populator, error) {
	return &populator{
		provider:   p,
		descriptor: descriptor,
		sampler:    index.NewSampler(cfg),
		touched:    map[common.EntityID]struct{}{},
	}, nil
}

func (p *Provider) GetOnlineAccessor(
	descriptor index.Descriptor,
	cfg index.SamplingConfig,
) (index.Accessor, error) {
	if msg, failed := p.readFailure(descriptor.ID); failed {
		return nil, errors.Errorf("index %s is failed: %s", descriptor, msg)
	}
	return &accessor{provider: p, descriptor: descriptor}, nil
}

type populator struct {
	provider   *Provider
	descriptor index.Descriptor

	// mu orders scan batches against populating-updater batches and
	// guards touched and the sampler. touched holds the entities
	// committed transactions wrote during population; the scan's view
	// of those entities is stale and must not win.
	mu      sync.Mutex
	touched map[common.EntityID]struct{}
	sampler *index.Sampler
}

var _ index.Populator = (*populator)(nil)

func (p *populator) Create() error {
	if err := p.provider.db.DropPrefix(indexPrefix(p.descriptor.ID)); err != nil {
		return errors.Wrap(err, "drop index prefix")
	}
	if err := p.provider.fs.Remove(p.provider.failureMarkerPath(p.descriptor.ID)); err != nil {
		// A missing marker is the normal case.
		p.provider.log.Debugw("no failure marker to remove",
			"index", p.descriptor.ID, "err", err)
	}
	return nil
}

func (p *populator) Add(updates []index.EntryUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ops := make([]txnOp, 0, len(updates))
	for _, u := range updates {
		if u.Mode() != index.UpdateAdded {
			return errors.Errorf("population scan produced a non-ADD update: %s", u)
		}
		if _, ok := p.touched[u.EntityID()]; ok {
			continue
		}
		ops = append(ops, txnOp{
			entityID: u.EntityID(),
			valueKey: storage.CompositeKey(u.Values()),
			values:   u.Values(),
		})
	}
	return p.provider.applyOps(p.descriptor.ID, ops)
}

func (p *populator) NewPopulatingUpdater(reader storage.Reader) index.Updater {
	return newCollectingUpdater(func(ops []txnOp) error {
		p.mu.Lock()
		defer p.mu.Unlock()

		for _, op := range ops {
			p.touched[op.entityID] = struct{}{}
		}
		if err := p.provider.applyOps(p.descriptor.ID, ops); err != nil {
			return err
		}

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
	})
}

func (p *populator) VerifyDeferredConstraints(reader storage.Reader) error {
	if !p.descriptor.Unique {
		return nil
	}

	return p.provider.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := append(indexPrefix(p.descriptor.ID), byte('k'))
		prevBucket := ""
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			// strip the 8-byte entity id suffix to get the bucket
			bucket := string(key[:len(key)-8])
			if bucket == prevBucket {
				return errors.Wrap(index.ErrUniquenessViolation,
					fmt.Sprintf("index %d", p.descriptor.ID))
			}
			prevBucket = bucket
		}
		return nil
	})
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
		return p.provider.db.DropPrefix(indexPrefix(p.descriptor.ID))
	}
	return nil
}

func (p *populator) MarkAsFailed(message string) error {
	path := p.provider.failureMarkerPath(p.descriptor.ID)
	if err := afero.WriteFile(p.provider.fs, path, []byte(message), 0o644); err != nil {
		return errors.Wrap(err, "write failure marker")
	}
	p.provider.log.Errorw("index population failed",
		"index", p.descriptor.ID, "reason", message)
	return nil
}

type accessor struct {
	provider   *Provider
	descriptor index.Descriptor
}

var _ index.Accessor = (*accessor)(nil)

func (a *accessor) EntityIDs(values []storage.Value) []common.EntityID {
	var ids []common.EntityID
	prefix := bucketPrefix(a.descriptor.ID, storage.CompositeKey(values))

	err := a.provider.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id := utils.BytesToUint64(key[len(key)-8:])
			ids = append(ids, common.EntityID(id))
		}
		return nil
	})
	if err != nil {
		a.provider.log.Errorw("bucket scan failed",
			"index", a.descriptor.ID, "err", err)
		return nil
	}
	return ids
}

func (a *accessor) CountAll() int64 {
	var count int64
	_ = a.provider.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := entityPrefix(a.descriptor.ID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count
}

func (a *accessor) NewUpdater(mode index.UpdaterMode) index.Updater {
	return newCollectingUpdater(func(ops []txnOp) error {
		return a.provider.applyOps(a.descriptor.ID, ops)
	})
}

// SampleIndex recomputes statistics from the stored entity records.
// The bucket key of each record is enough: distinct buckets are the
// distinct values.
func (a *accessor) SampleIndex(cfg index.SamplingConfig) (index.Sample, error) {
	buckets := map[string]int64{}
	var total int64

	err := a.provider.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := entityPrefix(a.descriptor.ID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if cfg.SampleLimit > 0 && total >= cfg.SampleLimit {
				break
			}

			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return errors.Wrap(err, "read entity record")
			}
			valueKey, err := decodeEntityRecordKey(data)
			if err != nil {
				return err
			}
			buckets[valueKey]++
			total++
		}
		return nil
	})
	if err != nil {
		return index.Sample{}, err
	}

	return index.Sample{
		IndexSize:    total,
		UniqueValues: int64(len(buckets)),
		SampleSize:   total,
	}, nil
}

func (a *accessor) Drop() error {
	return a.provider.db.DropPrefix(indexPrefix(a.descriptor.ID))
}

func (a *accessor) Close() error { return nil }

// collectingUpdater buffers one transaction's updates and applies
// them as a single badger transaction on Close.
type collectingUpdater struct {
	ops    []txnOp
	apply  func([]txnOp) error
	closed bool
}

var _ index.Updater = (*collectingUpdater)(nil)

func newCollectingUpdater(apply func([]txnOp) error) *collectingUpdater {
	return &collectingUpdater{apply: apply}
}

func (u *collectingUpdater) Process(update index.EntryUpdate) error {
	if u.closed {
		return errors.New("updater is already closed")
	}

	switch update.Mode() {
	case index.UpdateAdded, index.UpdateChanged:
		u.ops = append(u.ops, txnOp{
			entityID: update.EntityID(),
			valueKey: storage.CompositeKey(update.Values()),
			values:   update.Values(),
			before:   update.Before(),
		})
	case index.UpdateRemoved:
		u.ops = append(u.ops, txnOp{
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
