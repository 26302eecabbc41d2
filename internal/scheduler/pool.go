package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const DefaultLimit = 16

// Pool is a batch-of-N-then-wait worker pool.
type Pool struct {
	Limit int
}

func New(limit int) Pool {
	return Pool{Limit: limit}
}

func (p Pool) limit() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	return p.Limit
}

// Run calls fn for every index in [0,n). Failures of one item never stop its
// siblings; fn reports outcomes through its own results. Run stops admitting
// new batches once ctx is done and returns ctx.Err() in that case, after the
// in-flight batch has been joined.
func (p Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	limit := p.limit()
	for start := 0; start < n; start += limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + limit
		if end > n {
			end = n
		}
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				fn(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}
	return ctx.Err()
}

// Batches reports how many barriers Run needs for n items.
func (p Pool) Batches(n int) int {
	limit := p.limit()
	return (n + limit - 1) / limit
}
