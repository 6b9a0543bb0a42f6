package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout bounds the running time of c's stream to d.
//
// The engine itself never times out a step. Capabilities backed by slow or
// unreliable services should be wrapped so that a hung backend turns into a
// step failure instead of a stalled thread. When the deadline passes, the
// wrapped stream terminates with an *EngineError coded NODE_TIMEOUT. A
// cancelled parent context terminates the stream with the context's error.
//
// The inner stream runs on its own goroutine and receives the deadline through
// its context; an inner capability that ignores its context keeps running
// until it returns, but its later updates are discarded.
//
// A panic in the inner capability ends the wrapped stream with an error
// wrapping ErrCapabilityPanic. A non-positive d returns c unchanged.
func WithTimeout(c Capability, d time.Duration) Capability {
	if d <= 0 {
		return c
	}

	type item struct {
		update Update
		err    error
	}

	return CapabilityFunc(func(ctx context.Context, input map[string]any) Stream {
		return func(yield func(Update, error) bool) {
			timeoutCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			items := make(chan item)
			done := make(chan struct{})
			defer close(done)

			go func() {
				defer close(items)
				defer func() {
					if r := recover(); r != nil {
						select {
						case items <- item{err: fmt.Errorf("%w: %v", ErrCapabilityPanic, r)}:
						case <-done:
						}
					}
				}()
				for u, err := range c.Process(timeoutCtx, input) {
					select {
					case items <- item{update: u, err: err}:
					case <-done:
						return
					}
					if err != nil {
						return
					}
				}
			}()

			for {
				select {
				case it, ok := <-items:
					if !ok {
						return
					}
					if !yield(it.update, it.err) || it.err != nil {
						return
					}
				case <-timeoutCtx.Done():
					if err := ctx.Err(); err != nil {
						yield(Update{}, err)
						return
					}
					if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
						yield(Update{}, &EngineError{
							Message: fmt.Sprintf("capability exceeded timeout of %v", d),
							Code:    "NODE_TIMEOUT",
							Cause:   context.DeadlineExceeded,
						})
					}
					return
				}
			}
		}
	})
}
