// Package index defines the provider SPI the indexing service
// consumes: populators build indexes from a full scan merged with
// concurrently arriving online updates, accessors serve the built
// index afterwards, and updaters apply one transaction's batch.
package index

import (
	"errors"

	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// UpdaterMode distinguishes where an updater's writes come from.
type UpdaterMode uint8

const (
	// UpdaterOnline applies updates from committed transactions to a
	// fully populated index.
	UpdaterOnline UpdaterMode = iota
	// UpdaterPopulating applies updates from transactions that commit
	// while the index is still being built.
	UpdaterPopulating
)

// ErrUniquenessViolation is returned by deferred constraint
// verification on a unique index holding duplicate values.
var ErrUniquenessViolation = errors.New("uniqueness constraint violation")

// Updater applies a batch of entry updates to one index. Stateful and
// scoped to one apply cycle: Process every update of the batch, then
// Close exactly once. An updater must never be shared between apply
// cycles.
type Updater interface {
	Process(update EntryUpdate) error
	Close() error
}

// Populator builds an index from a full entity scan plus the online
// updates routed to it while the scan runs.
type Populator interface {
	// Create initializes empty index state, dropping leftovers of a
	// previous failed population.
	Create() error

	// Add ingests a batch of entries discovered by the scan.
	Add(updates []EntryUpdate) error

	// NewPopulatingUpdater returns an updater for updates derived
	// from transactions committing during population. Updates applied
	// through it take precedence over the scan: applying is
	// upsert/delete keyed by entity, so a scan revisit of the same
	// entity cannot double-count it.
	NewPopulatingUpdater(reader storage.Reader) Updater

	// VerifyDeferredConstraints checks global constraints, e.g.
	// uniqueness, once the scan has completed.
	VerifyDeferredConstraints(reader storage.Reader) error

	// IncludeSample folds one scanned entry into the running sample.
	IncludeSample(update EntryUpdate)

	// SampleResult snapshots the population-time sample.
	SampleResult() Sample

	// Close finalizes (success) or discards (failure) the built
	// state.
	Close(populationCompletedSuccessfully bool) error

	// MarkAsFailed transitions the index to a permanently failed
	// state surfaced to later schema reads.
	MarkAsFailed(message string) error
}

// Reader is the minimal read surface an accessor exposes; enough for
// constraint checks and for observing batch-apply atomicity.
type Reader interface {
	EntityIDs(values []storage.Value) []common.EntityID
	CountAll() int64
}

// Accessor is the online counterpart of a populator: it serves a
// fully populated index and supplies updaters for committed
// transactions.
type Accessor interface {
	Reader

	NewUpdater(mode UpdaterMode) Updater

	// SampleIndex recomputes the statistics snapshot from the current
	// index content. The result replaces any previous snapshot.
	SampleIndex(cfg SamplingConfig) (Sample, error)

	// Drop removes the index's state entirely.
	Drop() error

	Close() error
}

// MigrationParticipant is the store-migration hook of the SPI. The
// kernel does not migrate stores itself; providers that do not
// participate return NotParticipating.
type MigrationParticipant interface {
	Name() string
}

type notParticipating struct{}

func (notParticipating) Name() string { return "not-participating" }

var NotParticipating MigrationParticipant = notParticipating{}

// Provider is the externally supplied capability set the indexing
// service consumes. The on-disk format behind it is not this
// kernel's concern.
type Provider interface {
	ProviderDescriptor() ProviderDescriptor

	// CompleteConfiguration fills in provider-specific defaults the
	// caller left unset.
	CompleteConfiguration(descriptor Descriptor) Descriptor

	GetPopulator(descriptor Descriptor, cfg SamplingConfig) (Populator, error)
	GetOnlineAccessor(descriptor Descriptor, cfg SamplingConfig) (Accessor, error)

	StoreMigrationParticipant() MigrationParticipant
}
