package tasks

import (
	"context"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/Logger"
)

// Runner supervises fire-and-forget background work. Connection read loops
// hand slow work (provider warm-up, status updates, captcha synthesis) to a
// Runner so they never block; failures are logged here and never propagate
// back into the caller.
type Runner struct {
	logger *Logger.Logger
	wg     sync.WaitGroup
}

func NewRunner(logger *Logger.Logger) *Runner {
	return &Runner{logger: logger}
}

// Go runs fn detached. A returned error is logged and swallowed; a panic is
// recovered and logged.
func (r *Runner) Go(name string, fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Errorf("background task %s panicked: %v", name, rec)
			}
		}()
		if err := fn(); err != nil {
			r.logger.Errorf("background task %s failed: %v", name, err)
		}
	}()
}

// GoFatal runs fn detached; on error or panic it additionally invokes onFatal
// exactly once per call. Callers pass a session close func here so that a
// failed bound-device initialization tears the session down without touching
// the read loop.
func (r *Runner) GoFatal(name string, fn func() error, onFatal func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var fatal bool
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Errorf("background task %s panicked: %v", name, rec)
				fatal = true
			}
			if fatal && onFatal != nil {
				onFatal()
			}
		}()
		if err := fn(); err != nil {
			r.logger.Errorf("background task %s failed: %v", name, err)
			fatal = true
		}
	}()
}

// Wait blocks until every task launched so far has finished or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
