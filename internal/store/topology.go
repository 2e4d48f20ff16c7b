package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"

	"redis-tester/internal/config"
)

// Endpoint は停止・フラッシュ対象になる1ノード
type Endpoint interface {
	Addr() string
	Reachable(ctx context.Context) bool
	Primary(ctx context.Context) (bool, error)
	StepDown(ctx context.Context, mode config.OutageMode) error
	FlushAll(ctx context.Context) error
	Close() error
}

// Topology は記述子からノード一覧を解決する
type Topology interface {
	Endpoints(ctx context.Context, desc config.Descriptor) ([]Endpoint, error)
}

// RedisTopology は実際の Redis デプロイメントを対象にする
// アドレスごとに管理用クライアントを1つ作る
type RedisTopology struct{}

// Endpoints はデータプレーンのノードを返す
// センチネル構成ではセンチネルが報告するマスターを先頭に加える
func (RedisTopology) Endpoints(ctx context.Context, desc config.Descriptor) ([]Endpoint, error) {
	addrs := desc.AddressStrings()

	if desc.Topology == config.TopologySentinel {
		if master, err := sentinelMaster(ctx, desc); err == nil {
			addrs = append([]string{master}, addrs...)
		}
	}

	seen := make(map[string]struct{}, len(addrs))
	eps := make([]Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		eps = append(eps, newRedisEndpoint(addr, desc))
	}
	return eps, nil
}

func sentinelMaster(ctx context.Context, desc config.Descriptor) (string, error) {
	var errs []error
	for _, addr := range desc.SentinelAddressStrings() {
		sc := redis.NewSentinelClient(&redis.Options{
			Addr:        addr,
			Password:    desc.SentinelPassword,
			DialTimeout: desc.ConnectTimeout(),
		})
		hostPort, err := sc.GetMasterAddrByName(ctx, desc.MasterName).Result()
		_ = sc.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("sentinel %s: %w", addr, err))
			continue
		}
		if len(hostPort) == 2 {
			return net.JoinHostPort(hostPort[0], hostPort[1]), nil
		}
	}
	return "", errors.Join(errs...)
}

type redisEndpoint struct {
	addr   string
	desc   config.Descriptor
	client *redis.Client
}

func newRedisEndpoint(addr string, desc config.Descriptor) *redisEndpoint {
	return &redisEndpoint{
		addr: addr,
		desc: desc,
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    desc.Password,
			DialTimeout: desc.ConnectTimeout(),
			MaxRetries:  -1,
		}),
	}
}

func (e *redisEndpoint) Addr() string {
	return e.addr
}

func (e *redisEndpoint) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, e.desc.ConnectTimeout())
	defer cancel()
	return e.client.Ping(ctx).Err() == nil
}

// Primary は ROLE の先頭要素で判定する
// ROLE を持たないサーバーは単体構成とみなしてプライマリ扱いにする
func (e *redisEndpoint) Primary(ctx context.Context) (bool, error) {
	role, err := e.client.Do(ctx, "ROLE").Slice()
	if err != nil {
		if isUnknownCommand(err) {
			return true, nil
		}
		return false, fmt.Errorf("role %s: %w", e.addr, err)
	}
	if len(role) == 0 {
		return false, fmt.Errorf("role %s: empty reply", e.addr)
	}
	kind, _ := role[0].(string)
	return kind == "master", nil
}

func (e *redisEndpoint) StepDown(ctx context.Context, mode config.OutageMode) error {
	switch mode {
	case config.OutageKill, "":
		err := e.client.ShutdownNoSave(ctx).Err()
		// サーバーは応答せずに切断する
		if err != nil && !IsConnectionLost(err) {
			return fmt.Errorf("shutdown %s: %w", e.addr, err)
		}
		return nil

	case config.OutageSuspend:
		d := e.desc.SuspendDuration
		if d <= 0 {
			d = config.DefaultSuspendDuration
		}
		if err := e.client.ClientPause(ctx, d).Err(); err != nil {
			return fmt.Errorf("client pause %s: %w", e.addr, err)
		}
		return nil

	case config.OutageFailover:
		return e.sentinelFailover(ctx)

	default:
		return fmt.Errorf("unknown outage mode: %s", mode)
	}
}

func (e *redisEndpoint) sentinelFailover(ctx context.Context) error {
	addrs := e.desc.SentinelAddressStrings()
	if len(addrs) == 0 {
		return fmt.Errorf("failover %s: no sentinel addresses", e.addr)
	}

	var errs []error
	for _, addr := range addrs {
		sc := redis.NewSentinelClient(&redis.Options{
			Addr:        addr,
			Password:    e.desc.SentinelPassword,
			DialTimeout: e.desc.ConnectTimeout(),
		})
		err := sc.Failover(ctx, e.desc.MasterName).Err()
		_ = sc.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("sentinel %s: %w", addr, err))
	}
	return errors.Join(errs...)
}

func (e *redisEndpoint) FlushAll(ctx context.Context) error {
	if err := e.client.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("flushall %s: %w", e.addr, err)
	}
	return nil
}

func (e *redisEndpoint) Close() error {
	return e.client.Close()
}
