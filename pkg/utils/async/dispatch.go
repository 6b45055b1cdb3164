package async

import (
	"context"
	"runtime/debug"

	"github.com/m-mizutani/ctxlog"
)

// Dispatch executes handler in a new goroutine and returns a channel that is closed
// when the handler has returned.
//
// The handler receives a context that keeps the values of ctx (the ctxlog logger)
// but not its cancellation, so a finished HTTP request does not stop a backup run.
// Callers that need to stop the handler pass their own cancellable context through
// the closure. Panics are recovered and logged with a stack trace; returned errors
// are logged.
func Dispatch(ctx context.Context, name string, handler func(ctx context.Context) error) <-chan struct{} {
	newCtx := newBackgroundContext(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				ctxlog.From(newCtx).Error("panic in async handler",
					"name", name,
					"recover", r,
					"stack", string(debug.Stack()))
			}
		}()

		if err := handler(newCtx); err != nil {
			ctxlog.From(newCtx).Error("error in async handler", "name", name, "error", err)
		}
	}()

	return done
}

// newBackgroundContext keeps the ctxlog logger of ctx and drops its deadline and cancellation
func newBackgroundContext(ctx context.Context) context.Context {
	newCtx := context.Background()
	newCtx = ctxlog.With(newCtx, ctxlog.From(ctx))
	return newCtx
}
