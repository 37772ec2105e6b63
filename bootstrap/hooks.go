package bootstrap

import (
	"context"
	"errors"
	"fmt"
)

// Hook runs at a fixed point of the App lifecycle.
type Hook func(ctx context.Context) error

// OnStart hooks run once every component has started. The first failure
// aborts startup and stops the components again.
func (a *App[C]) OnStart(hooks ...Hook) { a.onStart = append(a.onStart, hooks...) }

// OnReady hooks run after the ready check, just before the App waits for
// a shutdown signal. A failure aborts startup.
func (a *App[C]) OnReady(hooks ...Hook) { a.onReady = append(a.onReady, hooks...) }

// OnStop hooks run at shutdown before components stop. All of them run
// even if some fail.
func (a *App[C]) OnStop(hooks ...Hook) { a.onStop = append(a.onStop, hooks...) }

// runUntilError stops at the first failing hook.
func runUntilError(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hook %d: %w", i, err)
		}
	}
	return nil
}

// runAll runs every hook and joins the failures.
func runAll(ctx context.Context, hooks []Hook) error {
	var errs []error
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hook %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
