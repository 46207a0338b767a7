package protocol

import (
	"context"
	"time"
)

// CombineContext creates a context derived from ctx1 that is also canceled when ctx2
// is canceled. Values come from ctx1 only.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	stop := context.AfterFunc(ctx2, cancel)
	return combinedCtx, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext inherits values from its parent but ignores its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                    { return nil }
func (valueOnlyContext) Err() error                               { return nil }

// DetachContext returns a context that keeps the values of ctx but is not canceled with it.
func DetachContext(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

// CleanupContext returns a detached context bounded by timeout.
func CleanupContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(DetachContext(ctx), timeout)
}
