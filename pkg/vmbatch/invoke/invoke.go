// Package invoke is the boundary between batch operations and the endpoint
// that carries out changes: resolving user criteria into objects and
// invoking changes on them.
package invoke

import (
	"context"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// Change is an opaque request passed through to the endpoint.
type Change struct {
	Action string
	Params map[string]any
}

// Outcome is what an invocation returned: either an immediate value or a
// task that finishes the change asynchronously.
type Outcome struct {
	Value any
	Task  core.WatchableTask
}

// Invoker applies changes to objects of type T.
type Invoker[T any] interface {
	Invoke(ctx context.Context, operand T, change Change) (Outcome, error)
}

// InvokerFunc adapts a function to an Invoker.
type InvokerFunc[T any] func(ctx context.Context, operand T, change Change) (Outcome, error)

func (f InvokerFunc[T]) Invoke(ctx context.Context, operand T, change Change) (Outcome, error) {
	return f(ctx, operand, change)
}

// Middleware decorates an Invoker.
type Middleware[T any] func(Invoker[T]) Invoker[T]

// Chain wraps inv so that the first middleware is the outermost.
func Chain[T any](inv Invoker[T], mws ...Middleware[T]) Invoker[T] {
	for i := len(mws) - 1; i >= 0; i-- {
		inv = mws[i](inv)
	}
	return inv
}

// Perform invokes change on operand. A returned task is watched through w
// until it completes; an immediate value is written to w.
func Perform[T any](ctx context.Context, inv Invoker[T], w core.OperationWatcher, operand T, change Change) error {
	out, err := inv.Invoke(ctx, operand, change)
	if err != nil {
		return err
	}
	if out.Task != nil {
		return w.Watch(ctx, out.Task)
	}
	if out.Value != nil {
		w.WriteObject(out.Value)
	}
	return nil
}
