package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"redis-tester/internal/config"
	"redis-tester/internal/events"
	"redis-tester/internal/logger"
	"redis-tester/internal/node"
	"redis-tester/internal/store"
)

// Manager はクラスタ管理の基本操作を定義するインターフェース
type Manager interface {
	AddNode(n *node.Node) error
	RemoveNode(nodeID string) error
	GetNode(nodeID string) (*node.Node, bool)
	Nodes() []*node.Node
	StartAll(ctx context.Context) error
	StopAll() error
	Size() int
	RunningCount() int
}

// Ensure Cluster implements Manager and store.Topology
var (
	_ Manager        = (*Cluster)(nil)
	_ store.Topology = (*Cluster)(nil)
)

// Cluster は1台のプライマリと複数のレプリカからなるサンドボックス
// store.Topology として停止対象を、Dial として現在のプライマリへの接続を提供する
type Cluster struct {
	mu       sync.RWMutex
	nodes    map[string]*node.Node
	eventBus *events.Bus
}

// New は新しいクラスタを作成する
func New() *Cluster {
	return &Cluster{
		nodes: make(map[string]*node.Node),
	}
}

// SetEventBus はイベントバスを設定する
func (c *Cluster) SetEventBus(bus *events.Bus) {
	c.eventBus = bus
}

// AddNode はクラスタにノードを追加する
func (c *Cluster) AddNode(n *node.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[n.ID()]; exists {
		return fmt.Errorf("node %s already exists in cluster", n.ID())
	}

	c.nodes[n.ID()] = n
	logger.Info("", "Node %s added to cluster", n.ID())
	return nil
}

// RemoveNode はクラスタからノードを削除する
func (c *Cluster) RemoveNode(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, exists := c.nodes[nodeID]
	if !exists {
		return fmt.Errorf("node %s not found in cluster", nodeID)
	}

	n.Close()
	delete(c.nodes, nodeID)
	logger.Info("", "Node %s removed from cluster", nodeID)
	return nil
}

// GetNode はノードIDでノードを取得する
func (c *Cluster) GetNode(nodeID string) (*node.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, exists := c.nodes[nodeID]
	return n, exists
}

// Nodes は全てのノードを ID 順で返す
func (c *Cluster) Nodes() []*node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked()
}

func (c *Cluster) sortedLocked() []*node.Node {
	nodes := make([]*node.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	return nodes
}

// StartAll は停止中のノードを全て起動する
func (c *Cluster) StartAll(ctx context.Context) error {
	nodes := c.Nodes()
	logger.Info("", "Starting all nodes in cluster (count: %d)", len(nodes))

	var wg sync.WaitGroup
	errCh := make(chan error, len(nodes))

	for _, n := range nodes {
		if n.Status() != node.StatusStopped {
			continue
		}
		wg.Add(1)
		go func(n *node.Node) {
			defer wg.Done()
			if err := n.Start(ctx); err != nil {
				errCh <- err
			}
		}(n)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		logger.Error("", "Failed to start %d nodes", len(errs))
		return fmt.Errorf("failed to start %d nodes: %w", len(errs), errs[0])
	}

	logger.Info("", "All nodes started successfully")
	return nil
}

// StopAll は全てのノードを停止して解放する
func (c *Cluster) StopAll() error {
	nodes := c.Nodes()
	logger.Info("", "Stopping all nodes in cluster (count: %d)", len(nodes))

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *node.Node) {
			defer wg.Done()
			n.Close()
		}(n)
	}
	wg.Wait()

	logger.Info("", "All nodes stopped")
	return nil
}

// Size はクラスタ内のノード数を返す
func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// RunningCount は実行中のノード数を返す
func (c *Cluster) RunningCount() int {
	return c.countStatus(node.StatusRunning)
}

// StoppedCount は停止中のノード数を返す
func (c *Cluster) StoppedCount() int {
	return c.countStatus(node.StatusStopped)
}

func (c *Cluster) countStatus(s node.Status) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, n := range c.nodes {
		if n.Status() == s {
			count++
		}
	}
	return count
}

// CreateNodes は指定された数のノードを作成してクラスタに追加する
// 最初のノードがプライマリになる
func (c *Cluster) CreateNodes(count int, prefix, password string) error {
	logger.Info("", "Creating %d nodes with prefix '%s'", count, prefix)

	for i := range count {
		nodeID := fmt.Sprintf("%s-%d", prefix, i+1)
		n := node.New(nodeID, password)
		if i == 0 {
			n.SetPrimary(true)
		}
		if err := c.AddNode(n); err != nil {
			return err
		}
	}

	logger.Info("", "Created %d nodes successfully", count)
	return nil
}

// Primary は現在のプライマリを返す（停止中でも返す）
func (c *Cluster) Primary() (*node.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, n := range c.sortedLocked() {
		if n.IsPrimary() {
			return n, true
		}
	}
	return nil, false
}

// Promote は exclude 以外の稼働中ノードのうち ID が最小のものをプライマリにする
// 候補がなければ何もせず false を返す
func (c *Cluster) Promote(exclude string) (*node.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := c.sortedLocked()
	var next *node.Node
	for _, n := range nodes {
		if n.ID() != exclude && n.Status() == node.StatusRunning {
			next = n
			break
		}
	}
	if next == nil {
		return nil, false
	}

	for _, n := range nodes {
		if n != next {
			n.SetPrimary(false)
		}
	}
	next.SetPrimary(true)
	logger.Warn("", "Node %s promoted to primary", next.ID())
	return next, true
}

// Descriptor はサンドボックスに接続する記述子を返す（プライマリのアドレスが先頭）
func (c *Cluster) Descriptor(password string) (config.Descriptor, error) {
	d := config.DefaultDescriptor()
	d.Topology = config.TopologyStandalone
	d.Password = password

	primary, ok := c.Primary()
	if !ok {
		return d, fmt.Errorf("sandbox has no primary")
	}
	addr, err := primary.Address()
	if err != nil {
		return d, err
	}
	d.Addresses = append(d.Addresses, addr)

	for _, n := range c.Nodes() {
		if n == primary {
			continue
		}
		if addr, err := n.Address(); err == nil {
			d.Addresses = append(d.Addresses, addr)
		}
	}
	return d, nil
}

// Dial は現在のプライマリに向けたハンドルを作る（store.Dialer）
// プライマリが切り替わった後の再接続は新しいプライマリに向かう
func (c *Cluster) Dial(ctx context.Context, desc config.Descriptor) (redis.UniversalClient, error) {
	primary, ok := c.Primary()
	if !ok {
		return nil, fmt.Errorf("%w: sandbox has no primary", store.ErrConnectionLost)
	}
	addr, err := primary.Address()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConnectionLost, err)
	}

	d := desc.Clone()
	d.Topology = config.TopologyStandalone
	d.Addresses = []config.NodeAddress{addr}
	return store.DialRedis(ctx, d)
}

// Endpoints は全ノードを停止対象として返す（store.Topology）
func (c *Cluster) Endpoints(context.Context, config.Descriptor) ([]store.Endpoint, error) {
	nodes := c.Nodes()
	eps := make([]store.Endpoint, len(nodes))
	for i, n := range nodes {
		eps[i] = &endpoint{cluster: c, node: n, primary: n.IsPrimary()}
	}
	return eps, nil
}

// StepDown はノードを指定の方法で停止させる
//
//	kill:     停止して別ノードを昇格
//	suspend:  一時停止（昇格なし）
//	failover: 停止せずに別ノードを昇格
func (c *Cluster) StepDown(n *node.Node, mode config.OutageMode) error {
	switch mode {
	case config.OutageKill:
		if err := n.Stop(); err != nil {
			return err
		}
		c.Promote(n.ID())
	case config.OutageSuspend:
		if err := n.Suspend(); err != nil {
			return err
		}
	case config.OutageFailover:
		if _, ok := c.Promote(n.ID()); !ok {
			return fmt.Errorf("no running replica to promote instead of %s", n.ID())
		}
	default:
		return fmt.Errorf("unknown outage mode: %s", mode)
	}

	c.eventBus.Publish(events.NewNodeStoppedEvent(n.ID(), string(mode)))
	return nil
}

// Close は全ノードを解放する
func (c *Cluster) Close() {
	_ = c.StopAll()
}

// endpoint はノードを store.Endpoint として扱う
// 役割は解決時点のものを使う（昇格直後のノードを続けて停止しないため）
type endpoint struct {
	cluster *Cluster
	node    *node.Node
	primary bool
}

func (e *endpoint) Addr() string {
	return e.node.Addr()
}

func (e *endpoint) Reachable(context.Context) bool {
	return e.node.Status() == node.StatusRunning
}

func (e *endpoint) Primary(context.Context) (bool, error) {
	return e.primary, nil
}

func (e *endpoint) StepDown(_ context.Context, mode config.OutageMode) error {
	return e.cluster.StepDown(e.node, mode)
}

func (e *endpoint) FlushAll(context.Context) error {
	return e.node.FlushAll()
}

func (e *endpoint) Close() error {
	return nil
}
