package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"redis-tester/internal/config"
	"redis-tester/internal/logger"
)

// Connection はストアへのハンドルと、それを作った記述子を保持する
// ハンドルの作成と差し替えは mu で直列化される
type Connection struct {
	mu       sync.Mutex
	desc     config.Descriptor
	client   redis.UniversalClient
	children []*Connection
	parent   *Connection
	closed   bool

	dialer   Dialer
	topology Topology
	hooks    []redis.Hook
	log      logger.Source

	reconnects atomic.Int64
}

// Option は Connection の設定を変更する
type Option func(*Connection)

// WithDialer はハンドルの作成方法を差し替える
func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithTopology は停止・フラッシュ対象の解決方法を差し替える
func WithTopology(t Topology) Option {
	return func(c *Connection) {
		if t != nil {
			c.topology = t
		}
	}
}

// WithHooks は作成する全ハンドルに go-redis のフックを追加する
func WithHooks(hooks ...redis.Hook) Option {
	return func(c *Connection) {
		c.hooks = append(c.hooks, hooks...)
	}
}

// WithLogger はログの発生元を設定する
func WithLogger(l logger.Source) Option {
	return func(c *Connection) {
		c.log = l
	}
}

// New は新しい接続を作成する（ハンドルは GetConnection で初めて作られる）
func New(desc config.Descriptor, opts ...Option) *Connection {
	c := &Connection{
		desc:     desc.Clone(),
		dialer:   DialRedis,
		topology: RedisTopology{},
		log:      logger.With("store"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Descriptor は現在の記述子のコピーを返す
func (c *Connection) Descriptor() config.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc.Clone()
}

// GetConnection は共有ハンドルを返す
// 未作成なら作成して PING で疎通を確認する（最初の呼び出し元が作る）
func (c *Connection) GetConnection(ctx context.Context) (redis.UniversalClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.client != nil {
		return c.client, nil
	}

	client, err := c.build(ctx, c.desc, true)
	if err != nil {
		return nil, err
	}
	c.client = client
	c.log.Debug("connected to %v (%s)", c.desc.AddressStrings(), c.desc.Topology)
	return client, nil
}

// GetConnectionForClient はワーカー専用の新しい接続を作成する
// desc が nil なら親の記述子を使う。作成した接続は親の Close で閉じられる
func (c *Connection) GetConnectionForClient(ctx context.Context, desc *config.Descriptor) (*Connection, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	d := c.desc
	if desc != nil {
		d = *desc
	}
	child := &Connection{
		desc:     d.Clone(),
		dialer:   c.dialer,
		topology: c.topology,
		hooks:    append([]redis.Hook(nil), c.hooks...),
		log:      c.log,
		parent:   c,
	}
	c.mu.Unlock()

	if _, err := child.GetConnection(ctx); err != nil {
		_ = child.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		// child.Close は親のロックを取り直すので先に手放す
		c.mu.Unlock()
		_ = child.Close()
		return nil, ErrClosed
	}
	c.children = append(c.children, child)
	c.mu.Unlock()
	return child, nil
}

// Reconnect はハンドルを作り直して差し替え、古いハンドルを閉じる
// desc が nil でなければ以後その記述子を使う
func (c *Connection) Reconnect(ctx context.Context, desc *config.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if desc != nil {
		c.desc = desc.Clone()
	}
	_, err := c.swap(ctx)
	return err
}

// Refresh は現在のハンドルが stale のときだけ作り直す
// 同じハンドルを共有するワーカーが同時に失敗しても再構築は1回で済む
func (c *Connection) Refresh(ctx context.Context, stale redis.UniversalClient) (redis.UniversalClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.client != nil && c.client != stale {
		return c.client, nil
	}
	return c.swap(ctx)
}

// swap は mu を保持した状態で呼ぶ
func (c *Connection) swap(ctx context.Context) (redis.UniversalClient, error) {
	client, err := c.build(ctx, c.desc, false)
	if err != nil {
		return nil, err
	}
	old := c.client
	c.client = client
	n := c.reconnects.Add(1)
	if old != nil {
		if err := old.Close(); err != nil {
			c.log.Debug("closing replaced handle: %v", err)
		}
	}
	c.log.Debug("handle rebuilt (reconnect #%d)", n)
	return client, nil
}

func (c *Connection) build(ctx context.Context, desc config.Descriptor, ping bool) (redis.UniversalClient, error) {
	client, err := c.dialer(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to dial store: %w", err)
	}
	for _, h := range c.hooks {
		client.AddHook(h)
	}
	if !ping {
		return client, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, desc.ConnectTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if IsConnectionLost(err) {
			return nil, fmt.Errorf("%w: ping: %w", ErrConnectionLost, err)
		}
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return client, nil
}

// Reconnects はこの接続でハンドルを作り直した回数を返す
func (c *Connection) Reconnects() int64 {
	return c.reconnects.Load()
}

// Connected はハンドルが作成済みかを返す
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// InjectPrimaryOutage は到達可能なプライマリを全て停止させる
// ハンドル未作成なら何もしない。停止させたノード数を返す
func (c *Connection) InjectPrimaryOutage(ctx context.Context, mode config.OutageMode) (int, error) {
	c.mu.Lock()
	connected := c.client != nil && !c.closed
	desc := c.desc.Clone()
	c.mu.Unlock()

	if !connected {
		c.log.Warn("outage requested before any handle exists, skipping")
		return 0, nil
	}
	if mode == "" {
		mode = desc.OutageMode
	}

	count := 0
	var errs []error
	err := c.eachPrimary(ctx, desc, func(ep Endpoint) error {
		if err := ep.StepDown(ctx, mode); err != nil {
			return err
		}
		count++
		c.log.Info("primary %s stepped down (%s)", ep.Addr(), mode)
		return nil
	}, &errs)
	if err != nil {
		return 0, err
	}

	if count == 0 {
		errs = append(errs, ErrNoPrimary)
	}
	return count, errors.Join(errs...)
}

// FlushAll は到達可能なプライマリを全てフラッシュする
// 1つでもフラッシュできれば true を返す
func (c *Connection) FlushAll(ctx context.Context) (bool, error) {
	desc := c.Descriptor()

	flushed := false
	var errs []error
	err := c.eachPrimary(ctx, desc, func(ep Endpoint) error {
		if err := ep.FlushAll(ctx); err != nil {
			return err
		}
		flushed = true
		return nil
	}, &errs)
	if err != nil {
		return false, err
	}
	return flushed, errors.Join(errs...)
}

func (c *Connection) eachPrimary(ctx context.Context, desc config.Descriptor, fn func(Endpoint) error, errs *[]error) error {
	eps, err := c.topology.Endpoints(ctx, desc)
	if err != nil {
		return fmt.Errorf("failed to resolve endpoints: %w", err)
	}
	defer func() {
		for _, ep := range eps {
			_ = ep.Close()
		}
	}()

	for _, ep := range eps {
		if !ep.Reachable(ctx) {
			continue
		}
		primary, err := ep.Primary(ctx)
		if err != nil {
			*errs = append(*errs, err)
			continue
		}
		if !primary {
			continue
		}
		if err := fn(ep); err != nil {
			*errs = append(*errs, err)
		}
	}
	return nil
}

// forget は閉じた子接続を管理対象から外す
func (c *Connection) forget(child *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ch := range c.children {
		if ch == child {
			c.children = append(c.children[:i], c.children[i+1:]...)
			return
		}
	}
}

// Children は管理中の子接続数を返す
func (c *Connection) Children() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}

// Close は共有ハンドルと全ての子接続を閉じる（二度目以降は何もしない）
// 子接続の場合は親の管理対象からも外れる
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.client = nil
	children := c.children
	c.children = nil
	parent := c.parent
	c.mu.Unlock()

	if parent != nil {
		parent.forget(c)
	}

	var errs []error
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, child := range children {
		if err := child.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
