package workload

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type listOps struct{}

// write は偶数で左、奇数で右に追加する
func (listOps) write(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key, val := e.keyFor(i), e.randValue()
	if i%2 == 0 {
		return c.LPush(ctx, key, val).Err()
	}
	return c.RPush(ctx, key, val).Err()
}

func (listOps) read(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.LLen(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	if i%2 == 0 {
		return c.LRange(ctx, key, 0, -1).Err()
	}
	return c.LIndex(ctx, key, e.rnd.Int63n(n)).Err()
}

// update は偶数で長さを floor(len*0.5) に切り詰め、奇数で中央要素を上書きする
func (listOps) update(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.LLen(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	half := n / 2
	if i%2 == 0 {
		if half == 0 {
			return nil
		}
		return c.LTrim(ctx, key, 0, half-1).Err()
	}
	return c.LSet(ctx, key, half, e.randValue()).Err()
}
