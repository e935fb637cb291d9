package lock

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Initializer runs the double-checked init pattern for a keyed resource:
// check once outside any lock, and if absent, coalesce every concurrent
// caller for the same key into a single initialization via singleflight so
// exactly one completes and no reader ever observes a partially built
// resource.
type Initializer[T any] struct {
	group singleflight.Group
}

// NewInitializer builds an Initializer for a resource type T.
func NewInitializer[T any]() *Initializer[T] {
	return &Initializer[T]{}
}

// GetOrInit returns the existing value from lookup if present; otherwise it
// calls create exactly once per key even under concurrent callers, and
// every caller observes the same fully-initialized result (or the same
// error).
func (i *Initializer[T]) GetOrInit(
	ctx context.Context,
	key string,
	lookup func() (T, bool),
	create func(context.Context) (T, error),
) (T, error) {
	if v, ok := lookup(); ok {
		return v, nil
	}

	result, err, _ := i.group.Do(key, func() (any, error) {
		if v, ok := lookup(); ok {
			return v, nil
		}
		return create(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
