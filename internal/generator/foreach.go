package generator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/boardcache/internal/storage"
)

// ForEach calls fn for every item of cur with at most limit calls running at
// once. The cursor is only advanced once a worker slot is free, so with a
// limit of one each item is fully processed before the next is read. The
// first error stops iteration and is returned after running calls finish.
func ForEach[T any](ctx context.Context, cur storage.Cursor[T], limit int, fn func(context.Context, T) error) error {
	if limit < 1 {
		limit = 1
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	slots := make(chan struct{}, limit)

	for {
		slots <- struct{}{}
		if gctx.Err() != nil {
			break
		}

		item, ok, err := cur.Next(gctx)
		if err != nil {
			<-slots
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		if !ok {
			<-slots
			break
		}

		g.Go(func() error {
			defer func() { <-slots }()
			if err := fn(gctx, item); err != nil {
				// cancel before the slot frees so the loop can't read another item
				stop()
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
