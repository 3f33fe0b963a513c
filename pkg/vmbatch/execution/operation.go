package execution

import (
	"context"
	"fmt"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// Batch is what the Executor drives: a named operation that can enumerate
// its operands and validate the set as a whole.
type Batch interface {
	Name() string
	Enumerate(ctx context.Context, w core.OperationWatcher) ([]Operand, error)
	Validate(ctx context.Context, operands []Operand, w core.OperationWatcher) error
}

// Operand is one resolved target bound to the operation that processes it.
type Operand interface {
	Describe() string
	Process(ctx context.Context, w core.OperationWatcher) error
}

// EnumerateFunc lists the operands of a batch. Returning none is not an error.
type EnumerateFunc[T any] func(ctx context.Context, w core.OperationWatcher) ([]T, error)

// ValidateFunc checks the enumerated set before any operand is processed.
type ValidateFunc[T any] func(ctx context.Context, operands []T, w core.OperationWatcher) error

// ProcessFunc performs the operation against one operand.
type ProcessFunc[T any] func(ctx context.Context, operand T, w core.OperationWatcher) error

// Operation is a Batch over operands of type T, built from three callbacks.
type Operation[T any] struct {
	name      string
	enumerate EnumerateFunc[T]
	validate  ValidateFunc[T]
	process   ProcessFunc[T]
	describe  func(T) string
}

// OperationOption configures an Operation.
type OperationOption[T any] func(*Operation[T])

// WithValidation sets the validation callback. Without it validation is a
// no-op.
func WithValidation[T any](fn ValidateFunc[T]) OperationOption[T] {
	return func(o *Operation[T]) { o.validate = fn }
}

// WithDescriber controls how operands are named in logs and results.
func WithDescriber[T any](fn func(T) string) OperationOption[T] {
	return func(o *Operation[T]) { o.describe = fn }
}

// NewOperation builds a Batch from its callbacks.
func NewOperation[T any](name string, enumerate EnumerateFunc[T], process ProcessFunc[T], opts ...OperationOption[T]) *Operation[T] {
	o := &Operation[T]{
		name:      name,
		enumerate: enumerate,
		process:   process,
		describe:  func(v T) string { return fmt.Sprint(v) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operation[T]) Name() string { return o.name }

func (o *Operation[T]) Enumerate(ctx context.Context, w core.OperationWatcher) ([]Operand, error) {
	values, err := o.enumerate(ctx, w)
	if err != nil {
		return nil, err
	}
	operands := make([]Operand, len(values))
	for i, v := range values {
		operands[i] = &boundOperand[T]{op: o, value: v}
	}
	return operands, nil
}

func (o *Operation[T]) Validate(ctx context.Context, operands []Operand, w core.OperationWatcher) error {
	if o.validate == nil {
		return nil
	}
	values := make([]T, 0, len(operands))
	for _, operand := range operands {
		b, ok := operand.(*boundOperand[T])
		if !ok {
			return fmt.Errorf("operand %s does not belong to %s", operand.Describe(), o.name)
		}
		values = append(values, b.value)
	}
	return o.validate(ctx, values, w)
}

type boundOperand[T any] struct {
	op    *Operation[T]
	value T
}

func (b *boundOperand[T]) Describe() string {
	return b.op.describe(b.value)
}

func (b *boundOperand[T]) rawValue() any { return b.value }

func (b *boundOperand[T]) Process(ctx context.Context, w core.OperationWatcher) error {
	return b.op.process(ctx, b.value, w)
}

// Value returns the typed operand behind an Operand produced by an Operation.
func Value[T any](operand Operand) (T, bool) {
	b, ok := operand.(*boundOperand[T])
	if !ok {
		var zero T
		return zero, false
	}
	return b.value, true
}

// ExactlyOne is a validation callback requiring a single operand.
func ExactlyOne[T any](_ context.Context, operands []T, _ core.OperationWatcher) error {
	if len(operands) != 1 {
		return core.Newf(core.CategoryInvalidArgument, "exactly one match expected, found %d", len(operands))
	}
	return nil
}
