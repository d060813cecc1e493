package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"approval-matrix-service/internal/repository"
)

// StorageOptions bounds every persistence call.
type StorageOptions struct {
	Timeout     time.Duration
	ReadRetries int
}

// DefaultStorageOptions is used when the caller leaves options zero.
var DefaultStorageOptions = StorageOptions{Timeout: 5 * time.Second, ReadRetries: 2}

type storageGuard struct {
	opts StorageOptions
}

func newStorageGuard(opts StorageOptions) storageGuard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStorageOptions.Timeout
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = 0
	}
	return storageGuard{opts: opts}
}

// write runs fn once under the storage timeout.
func (g storageGuard) write(ctx context.Context, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	return g.translate(ctx, opCtx, fn(opCtx))
}

// read retries fn on storage timeouts while the caller's context is still live.
func (g storageGuard) read(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= g.opts.ReadRetries; attempt++ {
		err = g.write(ctx, fn)
		if !errors.Is(err, ErrStorageTimeout) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (g storageGuard) translate(parent, opCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || (opCtx.Err() != nil && parent.Err() == nil) {
		return fmt.Errorf("%w after %s: %v", ErrStorageTimeout, g.opts.Timeout, err)
	}
	return err
}
