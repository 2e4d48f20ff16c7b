package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"redis-tester/internal/config"
)

// Dialer は記述子からクライアントハンドルを作る
// 返すハンドルは未接続でよい（疎通確認は Connection が行う）
type Dialer func(ctx context.Context, desc config.Descriptor) (redis.UniversalClient, error)

// DialRedis は構成種別に応じた go-redis クライアントを作成する
func DialRedis(_ context.Context, desc config.Descriptor) (redis.UniversalClient, error) {
	timeout := desc.ConnectTimeout()

	switch desc.Topology {
	case config.TopologyStandalone, "":
		return redis.NewClient(&redis.Options{
			Addr:        desc.Addresses[0].String(),
			Password:    desc.Password,
			DialTimeout: timeout,
		}), nil

	case config.TopologySentinel:
		opts := &redis.FailoverOptions{
			MasterName:       desc.MasterName,
			SentinelAddrs:    desc.SentinelAddressStrings(),
			SentinelPassword: desc.SentinelPassword,
			Password:         desc.Password,
			DialTimeout:      timeout,
		}
		if desc.ReadFromReplicas {
			opts.RouteRandomly = true
			return redis.NewFailoverClusterClient(opts), nil
		}
		return redis.NewFailoverClient(opts), nil

	case config.TopologyCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       desc.AddressStrings(),
			Password:    desc.Password,
			DialTimeout: timeout,
			ReadOnly:    desc.ReadFromReplicas,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported topology: %s", desc.Topology)
	}
}
