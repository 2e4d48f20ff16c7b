package workload

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// hashBatch は1回の write で設定するフィールド数
const hashBatch = 5

type hashOps struct{}

func (hashOps) write(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	values := make([]any, 0, hashBatch*2)
	for f := 0; f < hashBatch; f++ {
		values = append(values, "field:"+e.randValue(), e.randValue())
	}
	return c.HSet(ctx, e.keyFor(i), values...).Err()
}

func (hashOps) read(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.HLen(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	if i%2 == 0 {
		return c.HGetAll(ctx, key).Err()
	}
	field, err := randomField(ctx, e, c, key)
	if err != nil || field == "" {
		return err
	}
	return c.HGet(ctx, key, field).Err()
}

// update はフィールドが無ければ新しく2つ書き、偶数でランダムなフィールドを削除、奇数で上書きする
func (hashOps) update(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return c.HSet(ctx, key,
			"field:"+e.randValue(), e.randValue(),
			"field:"+e.randValue(), e.randValue(),
		).Err()
	}
	field, err := randomField(ctx, e, c, key)
	if err != nil || field == "" {
		return err
	}
	if i%2 == 0 {
		return c.HDel(ctx, key, field).Err()
	}
	return c.HSet(ctx, key, field, e.randValue()).Err()
}

func randomField(ctx context.Context, e *executor, c redis.UniversalClient, key string) (string, error) {
	fields, err := c.HKeys(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return "", err
	}
	return fields[e.rnd.Intn(len(fields))], nil
}
