package invoke

import (
	"context"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

var (
	// ErrNotFound is returned when criteria match no object.
	ErrNotFound = core.New(core.CategoryObjectNotFound, "no object matches the criteria")

	// ErrAmbiguous is returned when criteria that must name one object match
	// several.
	ErrAmbiguous = core.New(core.CategoryInvalidArgument, "criteria match more than one object")
)

// Resolver turns user criteria (a name, an ID or a pattern) into objects.
type Resolver[T any] interface {
	Resolve(ctx context.Context, criteria string) ([]T, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc[T any] func(ctx context.Context, criteria string) ([]T, error)

func (f ResolverFunc[T]) Resolve(ctx context.Context, criteria string) ([]T, error) {
	return f(ctx, criteria)
}

// ResolveEach resolves every input in order. An input that cannot be
// resolved is written to w and skipped; only a done context stops the loop.
func ResolveEach[T any](ctx context.Context, r Resolver[T], w core.OperationWatcher, inputs []string) ([]T, error) {
	var out []T
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		found, err := r.Resolve(ctx, input)
		if err != nil {
			w.WriteError(err)
			continue
		}
		if len(found) == 0 {
			w.WriteError(ErrNotFound.WithTarget(input))
			continue
		}
		out = append(out, found...)
	}
	return out, nil
}

// ResolveOne resolves input to exactly one object.
func ResolveOne[T any](ctx context.Context, r Resolver[T], input string) (T, error) {
	var zero T
	found, err := r.Resolve(ctx, input)
	if err != nil {
		return zero, err
	}
	switch len(found) {
	case 0:
		return zero, ErrNotFound.WithTarget(input)
	case 1:
		return found[0], nil
	}
	return zero, core.Wrapf(ErrAmbiguous, core.CategoryInvalidArgument, "%d objects match", len(found)).WithTarget(input)
}
