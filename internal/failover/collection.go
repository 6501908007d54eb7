package failover

import (
	"context"
	"errors"

	"github.com/flexquest/flexquest/internal/store"
)

type collection[T store.Record] struct {
	c    *Coordinator
	kind store.Kind
	of   func(store.Backend) store.Collection[T]
}

// call runs fn against the primary backend and, in remote mode, runs it
// once more against the local backend when the remote error is of the
// unavailable class. Every other error is returned unchanged.
func call[T store.Record, R any](col *collection[T], op string, fn func(store.Collection[T]) (R, error)) (R, error) {
	c := col.c
	if c.mode == ModeLocal {
		return fn(col.of(c.local))
	}

	res, err := fn(col.of(c.remote))
	if err == nil || !errors.Is(err, store.ErrUnavailable) {
		return res, err
	}

	c.fallbacks.Add(1)
	c.logger.Warn("remote store unavailable, serving from local files",
		"op", op,
		"kind", col.kind,
		"class", store.Class(err),
		"error", err,
	)
	return fn(col.of(c.local))
}

func (col *collection[T]) Get(ctx context.Context, key string) (*T, error) {
	return call(col, "get", func(s store.Collection[T]) (*T, error) {
		return s.Get(ctx, key)
	})
}

func (col *collection[T]) List(ctx context.Context) ([]T, error) {
	return call(col, "list", func(s store.Collection[T]) ([]T, error) {
		return s.List(ctx)
	})
}

func (col *collection[T]) Put(ctx context.Context, rec T) error {
	_, err := call(col, "put", func(s store.Collection[T]) (struct{}, error) {
		return struct{}{}, s.Put(ctx, rec)
	})
	return err
}

func (col *collection[T]) DeleteByKey(ctx context.Context, key string) (int, error) {
	return call(col, "delete", func(s store.Collection[T]) (int, error) {
		return s.DeleteByKey(ctx, key)
	})
}

func (col *collection[T]) Count(ctx context.Context) (int, error) {
	return call(col, "count", func(s store.Collection[T]) (int, error) {
		return s.Count(ctx)
	})
}
