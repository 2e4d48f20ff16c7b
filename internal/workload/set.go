package workload

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// unionWidth は空の集合を修復するときに合わせるキー数
const unionWidth = 3

type setOps struct{}

func (setOps) write(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	return c.SAdd(ctx, e.keyFor(i), e.randValue()).Err()
}

func (setOps) read(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.SCard(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	if i%2 == 0 {
		return c.SMembers(ctx, key).Err()
	}
	return c.SRandMember(ctx, key).Err()
}

// update は空なら隣接キーの和集合で埋め直し、偶数でランダムな要素を削除、奇数で1つ取り出す
func (setOps) update(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return c.SUnionStore(ctx, key, e.rotatedKeys(i, unionWidth)...).Err()
	}
	if i%2 == 0 {
		member, err := c.SRandMember(ctx, key).Result()
		if err != nil {
			return err
		}
		return c.SRem(ctx, key, member).Err()
	}
	return c.SPop(ctx, key).Err()
}

type zsetOps struct{}

func (zsetOps) write(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	return c.ZAdd(ctx, e.keyFor(i), redis.Z{
		Score:  e.rnd.Float64() * 1000,
		Member: e.randValue(),
	}).Err()
}

func (zsetOps) read(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.ZCard(ctx, key).Result()
	if err != nil || n == 0 {
		return err
	}
	if i%2 == 0 {
		return c.ZRange(ctx, key, 0, -1).Err()
	}
	idx := e.rnd.Int63n(n)
	return c.ZRange(ctx, key, idx, idx).Err()
}

// update は空なら隣接キーの和集合で埋め直し、偶数でランダムな要素を削除、奇数で最大スコアを取り出す
func (zsetOps) update(ctx context.Context, e *executor, c redis.UniversalClient, i int) error {
	key := e.keyFor(i)
	n, err := c.ZCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return c.ZUnionStore(ctx, key, &redis.ZStore{Keys: e.rotatedKeys(i, unionWidth)}).Err()
	}
	if i%2 == 0 {
		idx := e.rnd.Int63n(n)
		members, err := c.ZRange(ctx, key, idx, idx).Result()
		if err != nil || len(members) == 0 {
			return err
		}
		return c.ZRem(ctx, key, members[0]).Err()
	}
	return c.ZPopMax(ctx, key).Err()
}
