// Package kernel implements the transactional core of the graph
// database: the transaction lifecycle contract and the commit-time
// pipeline that derives and applies secondary-index updates.
package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/GraphKernel/src"
	"github.com/Blackdeer1524/GraphKernel/src/indexing"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/common"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
	"github.com/Blackdeer1524/GraphKernel/src/txns"
)

// ProcedureFunc is a named procedure invocable inside a transaction.
type ProcedureFunc func(tx *Transaction, args ...any) (any, error)

// Kernel owns the collaborators every transaction needs: committed
// store, token registry, lock facade and the indexing service.
type Kernel struct {
	log      src.Logger
	store    storage.Store
	tokens   *storage.TokenRegistry
	locker   *txns.Locker
	indexing *indexing.Service
	tracer   trace.Tracer

	// nextTxnID orders transactions for the lock manager's wait-die
	// policy. The id a successful commit returns is allocated
	// separately, at commit time.
	nextTxnID    atomic.Uint64
	nextCommitID atomic.Int64

	// schemaEpoch bumps on every index create/drop; a transaction can
	// only upgrade itself to a writer while the epoch it began under
	// still holds.
	schemaEpoch atomic.Uint64

	proceduresMu sync.RWMutex
	procedures   map[string]ProcedureFunc
}

func New(
	log src.Logger,
	store storage.Store,
	tokens *storage.TokenRegistry,
	indexingService *indexing.Service,
) *Kernel {
	return &Kernel{
		log:        log,
		store:      store,
		tokens:     tokens,
		locker:     txns.NewLocker(),
		indexing:   indexingService,
		tracer:     otel.Tracer("graphkernel/kernel"),
		procedures: map[string]ProcedureFunc{},
	}
}

// RegisterProcedure makes a procedure available to every transaction.
func (k *Kernel) RegisterProcedure(name string, fn ProcedureFunc) error {
	k.proceduresMu.Lock()
	defer k.proceduresMu.Unlock()

	if _, exists := k.procedures[name]; exists {
		return errors.Errorf("procedure %q is already registered", name)
	}
	k.procedures[name] = fn
	return nil
}

func (k *Kernel) procedure(name string) (ProcedureFunc, bool) {
	k.proceduresMu.RLock()
	defer k.proceduresMu.RUnlock()

	fn, ok := k.procedures[name]
	return fn, ok
}

// BeginTransaction opens a transaction exclusively owned by the
// calling goroutine. Callers must Close it on every path; Close after
// an error is always safe.
func (k *Kernel) BeginTransaction(txType Type) *Transaction {
	tx := &Transaction{
		kernel:       k,
		txnID:        common.TxnID(k.nextTxnID.Add(1)),
		txType:       txType,
		writes:       newWriteSet(),
		beginEpoch:   k.schemaEpoch.Load(),
		terminatedCh: make(chan struct{}),
		metadata:     map[string]any{},
	}
	tx.state.Store(int32(stateOpen))
	tx.ops = &operations{tx: tx}
	tx.ops.locks = LockClient{tx: tx}
	return tx
}

// IndexingService exposes the routing service, mainly for schema
// reads done outside any transaction (e.g. operator tooling).
func (k *Kernel) IndexingService() *indexing.Service { return k.indexing }

// TokenRegistry exposes the token registry backing the token
// capabilities.
func (k *Kernel) TokenRegistry() *storage.TokenRegistry { return k.tokens }
