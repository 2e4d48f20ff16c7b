package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"redis-tester/internal/cluster"
	"redis-tester/internal/events"
	"redis-tester/internal/logger"
	"redis-tester/internal/node"
)

// Config は Manager の設定
type Config struct {
	HealthCheckInterval time.Duration // ヘルスチェック間隔
	RecoveryDelay       time.Duration // 障害検出から復旧までの待機時間
	MaxRetries          int           // 最大リトライ回数（0で無制限）
	AutoRestart         bool          // 停止ノードの自動再起動
	AutoResume          bool          // 一時停止ノードの自動再開
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 100 * time.Millisecond,
		RecoveryDelay:       1 * time.Second,
		MaxRetries:          3,
		AutoRestart:         true,
		AutoResume:          true,
	}
}

// nodeState はノードごとの障害追跡
type nodeState struct {
	failedAt   time.Time
	retryCount int
}

// Stats は復旧統計
type Stats struct {
	TotalRecoveries   uint64 `json:"total"`
	SuccessRecoveries uint64 `json:"success"`
	FailedRecoveries  uint64 `json:"failed"`
	CurrentlyFailed   int    `json:"currentlyFailed"`
}

// Manager はサンドボックスのノードを監視し、停止・一時停止から復旧させる
type Manager struct {
	config   Config
	cluster  *cluster.Cluster
	eventBus *events.Bus
	log      logger.Source

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.RWMutex
	nodeStates map[string]*nodeState
	stats      Stats
}

// New は新しい Manager を作成する
func New(c *cluster.Cluster, config Config) *Manager {
	return &Manager{
		config:     config,
		cluster:    c,
		log:        logger.With("recovery"),
		ctx:        context.Background(),
		nodeStates: make(map[string]*nodeState),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Manager) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// Start は監視を開始する
func (m *Manager) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.healthCheckLoop()

	m.log.Info("started (interval: %v, delay: %v)", m.config.HealthCheckInterval, m.config.RecoveryDelay)
}

// Stop は監視を停止する
func (m *Manager) Stop() {
	if !m.running.Swap(false) {
		return
	}

	m.cancel()
	m.wg.Wait()

	stats := m.Stats()
	m.log.Info("stopped (recoveries: %d success, %d failed)", stats.SuccessRecoveries, stats.FailedRecoveries)
}

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(time.Now())
		}
	}
}

// CheckNow は全ノードを1回チェックし、必要なら復旧する
func (m *Manager) CheckNow(now time.Time) {
	for _, n := range m.cluster.Nodes() {
		m.checkNode(n, now)
	}
}

func (m *Manager) checkNode(n *node.Node, now time.Time) {
	m.mu.Lock()
	state, exists := m.nodeStates[n.ID()]
	if !exists {
		state = &nodeState{}
		m.nodeStates[n.ID()] = state
	}
	m.mu.Unlock()

	switch n.Status() {
	case node.StatusRunning:
		m.mu.Lock()
		if !state.failedAt.IsZero() {
			// 外部から復旧した
			m.stats.CurrentlyFailed--
		}
		state.failedAt = time.Time{}
		state.retryCount = 0
		m.mu.Unlock()
	case node.StatusStopped:
		if m.config.AutoRestart {
			m.tryRecover(n, state, now, "restart", func() error { return n.Start(m.ctx) })
		}
	case node.StatusSuspended:
		if m.config.AutoResume {
			m.tryRecover(n, state, now, "resume", n.Resume)
		}
	}
}

// tryRecover は待機時間とリトライ上限を確認してから action を実行する
func (m *Manager) tryRecover(n *node.Node, state *nodeState, now time.Time, verb string, action func() error) {
	m.mu.Lock()

	// 初回検出
	if state.failedAt.IsZero() {
		state.failedAt = now
		m.stats.CurrentlyFailed++
		m.mu.Unlock()
		m.log.Warn("detected %s node %s", n.Status(), n.ID())
		return
	}

	if now.Sub(state.failedAt) < m.config.RecoveryDelay {
		m.mu.Unlock()
		return
	}
	if m.config.MaxRetries > 0 && state.retryCount >= m.config.MaxRetries {
		m.mu.Unlock()
		return
	}

	state.retryCount++
	attempt := state.retryCount
	m.stats.TotalRecoveries++
	m.mu.Unlock()

	if err := action(); err != nil {
		m.mu.Lock()
		m.stats.FailedRecoveries++
		state.failedAt = now
		m.mu.Unlock()
		m.log.Error("failed to %s node %s (attempt %d): %v", verb, n.ID(), attempt, err)
		m.eventBus.Publish(events.NewNodeRecoveredEvent(n.ID(), attempt, err))
		return
	}

	m.mu.Lock()
	m.stats.SuccessRecoveries++
	m.stats.CurrentlyFailed--
	state.failedAt = time.Time{}
	state.retryCount = 0
	m.mu.Unlock()

	m.log.Info("%s of node %s succeeded (attempt %d)", verb, n.ID(), attempt)
	m.eventBus.Publish(events.NewNodeRecoveredEvent(n.ID(), attempt, nil))
}

// IsRunning は実行中かどうかを返す
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Stats は復旧統計を返す
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// SetConfig は設定を更新する（Start 前に呼ぶ）
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// ResetStats は統計をリセットする
func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = Stats{}
}
