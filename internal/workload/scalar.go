package workload

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// scalarOps はキー i に値 i を書き、読み戻し、増減する
type scalarOps struct{}

func (scalarOps) write(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	return c.Set(ctx, e.keyFor(i), i, 0).Err()
}

// read は空の読み戻しを lost write として数える
func (scalarOps) read(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	err := c.Get(ctx, e.keyFor(i)).Err()
	if errors.Is(err, redis.Nil) {
		e.res.LostWrites++
		return nil
	}
	return err
}

func (scalarOps) update(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	delta := int64(i % 10)
	if i%2 == 0 {
		return c.IncrBy(ctx, e.keyFor(i), delta).Err()
	}
	return c.DecrBy(ctx, e.keyFor(i), delta).Err()
}
