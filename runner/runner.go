// Package runner runs a fixed set of pipeline stages until all return or the
// first one fails.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type StageFunc func(context.Context) error

// Runner cancels every stage's context as soon as one stage fails. Stages
// must return when their context is cancelled.
type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error
	since time.Time
}

func New(ctx context.Context, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		since:  time.Now(),
	}
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// AddStage starts fn in its own goroutine.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Wait blocks until every stage returned and reports the first failure. A
// cancelled parent context is reported as such when no stage failed.
func (r *Runner) Wait() error {
	r.wg.Wait()

	parentErr := context.Cause(r.ctx)
	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	if err == nil && parentErr != nil {
		err = parentErr
	}

	duration := time.Since(r.since)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("pipeline failed", "duration", duration, "err", err)
		}
		return err
	}

	if r.logger != nil {
		r.logger.Debug("pipeline completed", "duration", duration)
	}
	return nil
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
