package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/alicebob/miniredis/v2"

	"redis-tester/internal/config"
	"redis-tester/internal/logger"
)

// 停止・降格中のノードが全コマンドに返すエラー
// どちらも store.IsConnectionLost で一時的な障害として扱われる
const (
	SuspendedReply = "LOADING sandbox node is suspended"
	ReplicaReply   = "READONLY sandbox node is a replica"
)

// Status はノードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Node はプロセス内の miniredis サーバー1台を表す
// 停止しても同じアドレスで再起動でき、データは保持される
type Node struct {
	id       string
	password string

	mu      sync.RWMutex
	status  Status
	primary bool
	srv     *miniredis.Miniredis
}

// New は新しいノードを作成する（起動は Start で行う）
func New(id, password string) *Node {
	return &Node{
		id:       id,
		password: password,
		status:   StatusStopped,
	}
}

// ID はノードIDを返す
func (n *Node) ID() string {
	return n.id
}

// Addr は待ち受けアドレスを返す（一度も起動していなければ空）
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.srv == nil {
		return ""
	}
	return n.srv.Addr()
}

// Address は待ち受けアドレスを NodeAddress で返す
func (n *Node) Address() (config.NodeAddress, error) {
	addr := n.Addr()
	if addr == "" {
		return config.NodeAddress{}, fmt.Errorf("node %s has never been started", n.id)
	}
	return config.ParseAddress(addr)
}

// Start はノードを起動する
// 停止済みのノードは同じアドレスで再起動する
func (n *Node) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.status {
	case StatusRunning:
		return fmt.Errorf("node %s is already running", n.id)
	case StatusSuspended:
		return fmt.Errorf("node %s is suspended", n.id)
	}

	if n.srv == nil {
		srv := miniredis.NewMiniRedis()
		if n.password != "" {
			srv.RequireAuth(n.password)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start node %s: %w", n.id, err)
		}
		n.srv = srv
	} else if err := n.srv.Restart(); err != nil {
		return fmt.Errorf("failed to restart node %s: %w", n.id, err)
	}

	n.status = StatusRunning
	n.applyRoleLocked()

	logger.Info(n.id, "Node started on %s (%s)", n.srv.Addr(), n.roleLocked())
	return nil
}

// Stop はノードを停止する（接続中のクライアントは切断される）
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status == StatusStopped {
		return fmt.Errorf("node %s is already stopped", n.id)
	}

	n.srv.Close()
	n.status = StatusStopped

	logger.Info(n.id, "Node stopped")
	return nil
}

// Suspend はノードを一時停止する
// 接続は維持されるが、全コマンドが LOADING エラーになる
func (n *Node) Suspend() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusRunning {
		return fmt.Errorf("node %s is not running", n.id)
	}

	n.status = StatusSuspended
	n.srv.SetError(SuspendedReply)
	logger.Info(n.id, "Node suspended")
	return nil
}

// Resume は一時停止中のノードを再開する
func (n *Node) Resume() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusSuspended {
		return fmt.Errorf("node %s is not suspended", n.id)
	}

	n.status = StatusRunning
	n.applyRoleLocked()
	logger.Info(n.id, "Node resumed")
	return nil
}

// Status はノードの現在のステータスを返す
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// SetPrimary はノードの役割を変更する
// レプリカは READONLY エラーを返す
func (n *Node) SetPrimary(primary bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.primary == primary {
		return
	}
	n.primary = primary
	if n.status == StatusRunning {
		n.applyRoleLocked()
	}
	logger.Info(n.id, "Role changed to %s", n.roleLocked())
}

// IsPrimary はプライマリかどうかを返す
func (n *Node) IsPrimary() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.primary
}

func (n *Node) applyRoleLocked() {
	if n.primary {
		n.srv.SetError("")
		return
	}
	n.srv.SetError(ReplicaReply)
}

func (n *Node) roleLocked() string {
	if n.primary {
		return "primary"
	}
	return "replica"
}

// FlushAll は全データを削除する
func (n *Node) FlushAll() error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.status != StatusRunning {
		return fmt.Errorf("node %s is not running", n.id)
	}
	n.srv.FlushAll()
	return nil
}

// Size はキー数を返す
func (n *Node) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.srv == nil {
		return 0
	}
	return len(n.srv.Keys())
}

// Close はサーバーを解放する（状態に関わらず何度呼んでもよい）
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.srv != nil && n.status != StatusStopped {
		n.srv.Close()
	}
	n.status = StatusStopped
}
