package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type Entrypoint interface {
	io.Closer
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Run drives an entrypoint through init, run and graceful shutdown on
// SIGINT/SIGTERM.
func Run(ctx context.Context, e Entrypoint) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Init(ctx); err != nil {
		return fmt.Errorf("entrypoint init error: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return e.Run(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		return e.Close()
	})

	if err := eg.Wait(); err != nil && !errorIsShutdown(err) {
		_, _ = fmt.Fprintf(os.Stderr, "app was shut down, reason: %s\n", err.Error())
		return err
	}

	return nil
}

func errorIsShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
