package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// hookRunner invokes plugin hooks behind a recover boundary and hands every
// failure to the reporter.
type hookRunner struct {
	timeout  time.Duration
	reporter ErrorReporter
	stats    *Stats
}

// invoke runs fn and returns the resulting failure, if any. A zero timeout
// runs the hook inline. With a timeout the hook runs on its own goroutine;
// a hook that overruns is abandoned and reported as ErrHookTimeout.
func (h *hookRunner) invoke(ctx context.Context, plugin, hook string, msg *channels.Message, fn func(context.Context) error) *HookError {
	var err error
	if h.timeout > 0 {
		err = h.invokeWithTimeout(ctx, fn)
	} else {
		err = protect(ctx, fn)
	}
	if err == nil {
		return nil
	}

	herr := &HookError{Plugin: plugin, Hook: hook, Message: msg, Err: err}
	h.stats.HookErrors.Add(1)
	h.reporter.Report(ctx, herr)
	return herr
}

func (h *hookRunner) invokeWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- protect(ctx, fn) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrHookTimeout, h.timeout)
		}
		return ctx.Err()
	}
}

func protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
