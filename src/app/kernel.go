package app

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/GraphKernel/src"
	"github.com/Blackdeer1524/GraphKernel/src/index"
	"github.com/Blackdeer1524/GraphKernel/src/index/badgerindex"
	"github.com/Blackdeer1524/GraphKernel/src/index/memindex"
	"github.com/Blackdeer1524/GraphKernel/src/indexing"
	"github.com/Blackdeer1524/GraphKernel/src/kernel"
	"github.com/Blackdeer1524/GraphKernel/src/pkg/utils"
	"github.com/Blackdeer1524/GraphKernel/src/storage"
)

// KernelEntrypoint wires the store, token registry and indexing
// service into a running kernel and keeps it alive until shutdown.
type KernelEntrypoint struct {
	ConfigPath string
	Env        envVars
	Log        src.Logger

	kernel   *kernel.Kernel
	indexing *indexing.Service
}

func (e *KernelEntrypoint) Init(_ context.Context) error {
	e.Env = mustLoadEnv(e.ConfigPath)

	var log src.Logger
	if e.Env.Environment == EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	e.Log = log

	providers := []index.Provider{memindex.New()}
	if e.Env.DataDir != "" {
		persistent, err := badgerindex.Open(e.Env.DataDir, afero.NewOsFs(), log)
		if err != nil {
			return fmt.Errorf("open persistent index provider: %w", err)
		}
		providers = append(providers, persistent)
	}

	store := storage.NewInMemoryStore()
	svc, err := indexing.NewService(
		log,
		store,
		index.SamplingConfig{SampleLimit: e.Env.SampleLimit},
		e.Env.PopulationWorkers,
		providers...,
	)
	if err != nil {
		return fmt.Errorf("start indexing service: %w", err)
	}

	e.indexing = svc
	e.kernel = kernel.New(log, store, storage.NewTokenRegistry(), svc)

	log.Infow("kernel initialized",
		"environment", e.Env.Environment,
		"providers", len(providers),
		"populationWorkers", e.Env.PopulationWorkers,
	)
	return nil
}

// Kernel exposes the running kernel to embedding code, nil before
// Init.
func (e *KernelEntrypoint) Kernel() *kernel.Kernel { return e.kernel }

func (e *KernelEntrypoint) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (e *KernelEntrypoint) Close() (err error) {
	if e.indexing != nil {
		e.indexing.Close()
	}

	if e.Log != nil {
		logErr := e.Log.Sync()
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
