package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"redis-tester/internal/cluster"
	"redis-tester/internal/events"
	"redis-tester/internal/node"
)

func startCluster(t *testing.T, count int) *cluster.Cluster {
	t.Helper()
	c := cluster.New()
	if err := c.CreateNodes(count, "node", "secret"); err != nil {
		t.Fatalf("failed to create nodes: %v", err)
	}
	if err := c.StartAll(context.Background()); err != nil {
		t.Fatalf("failed to start nodes: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.RecoveryDelay != 1*time.Second {
		t.Errorf("expected recovery delay 1s, got %v", config.RecoveryDelay)
	}
	if config.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", config.MaxRetries)
	}
	if !config.AutoRestart {
		t.Error("expected auto restart to be true")
	}
	if !config.AutoResume {
		t.Error("expected auto resume to be true")
	}
}

func TestNewManager(t *testing.T) {
	manager := New(cluster.New(), DefaultConfig())

	if manager == nil {
		t.Fatal("expected non-nil manager")
	}
	if manager.IsRunning() {
		t.Error("expected manager to not be running initially")
	}
}

func TestManagerStartStop(t *testing.T) {
	c := startCluster(t, 2)

	config := DefaultConfig()
	config.HealthCheckInterval = 20 * time.Millisecond
	manager := New(c, config)

	manager.Start(context.Background())
	if !manager.IsRunning() {
		t.Error("expected manager to be running after Start")
	}

	time.Sleep(50 * time.Millisecond)
	manager.Stop()

	if manager.IsRunning() {
		t.Error("expected manager to not be running after Stop")
	}
	// 二度目の Stop は何もしない
	manager.Stop()
}

func TestCheckNowRestartsAfterDelay(t *testing.T) {
	c := startCluster(t, 1)
	bus := events.NewBus()
	sub := bus.Subscribe()

	config := DefaultConfig()
	config.RecoveryDelay = time.Second
	manager := New(c, config)
	manager.SetEventBus(bus)

	n, _ := c.GetNode("node-1")
	_ = n.Stop()

	t0 := time.Now()
	manager.CheckNow(t0)
	if manager.Stats().CurrentlyFailed != 1 {
		t.Errorf("expected 1 failed node, got %d", manager.Stats().CurrentlyFailed)
	}

	// 待機時間内は復旧しない
	manager.CheckNow(t0.Add(500 * time.Millisecond))
	if n.Status() != node.StatusStopped {
		t.Errorf("expected node to stay stopped during delay, got %s", n.Status())
	}

	manager.CheckNow(t0.Add(2 * time.Second))
	if n.Status() != node.StatusRunning {
		t.Errorf("expected node to be restarted, got %s", n.Status())
	}

	stats := manager.Stats()
	if stats.TotalRecoveries != 1 || stats.SuccessRecoveries != 1 || stats.CurrentlyFailed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	select {
	case ev := <-sub:
		if ev.Type != events.EventNodeRecovered || ev.Source != "node-1" || ev.Data.Error != "" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for node_recovered event")
	}
}

func TestCheckNowResumesSuspended(t *testing.T) {
	c := startCluster(t, 1)
	manager := New(c, Config{RecoveryDelay: 10 * time.Millisecond, AutoResume: true})

	n, _ := c.GetNode("node-1")
	_ = n.Suspend()

	t0 := time.Now()
	manager.CheckNow(t0)
	manager.CheckNow(t0.Add(20 * time.Millisecond))

	if n.Status() != node.StatusRunning {
		t.Errorf("expected node to be resumed, got %s", n.Status())
	}
}

func TestManagerAutoRestart(t *testing.T) {
	c := startCluster(t, 1)

	config := DefaultConfig()
	config.HealthCheckInterval = 20 * time.Millisecond
	config.RecoveryDelay = 50 * time.Millisecond
	manager := New(c, config)
	manager.Start(context.Background())
	defer manager.Stop()

	n, _ := c.GetNode("node-1")
	_ = n.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for n.Status() != node.StatusRunning && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n.Status() != node.StatusRunning {
		t.Errorf("expected node to be running after recovery, got %v", n.Status())
	}
}

func TestTryRecoverMaxRetries(t *testing.T) {
	c := startCluster(t, 1)
	manager := New(c, Config{RecoveryDelay: time.Millisecond, MaxRetries: 2, AutoRestart: true})

	n, _ := c.GetNode("node-1")
	state := &nodeState{}
	calls := 0
	fail := func() error {
		calls++
		return errors.New("address already in use")
	}

	t0 := time.Now()
	for i := 0; i < 6; i++ {
		manager.tryRecover(n, state, t0.Add(time.Duration(i)*time.Second), "restart", fail)
	}

	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	stats := manager.Stats()
	if stats.TotalRecoveries != 2 || stats.FailedRecoveries != 2 || stats.CurrentlyFailed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestManagerDisabledAutoRestart(t *testing.T) {
	c := startCluster(t, 1)
	manager := New(c, Config{RecoveryDelay: time.Millisecond, AutoResume: true})

	n, _ := c.GetNode("node-1")
	_ = n.Stop()

	t0 := time.Now()
	manager.CheckNow(t0)
	manager.CheckNow(t0.Add(time.Second))

	if n.Status() != node.StatusStopped {
		t.Error("expected node to remain stopped when AutoRestart is disabled")
	}
}

func TestManagerDisabledAutoResume(t *testing.T) {
	c := startCluster(t, 1)
	manager := New(c, Config{RecoveryDelay: time.Millisecond, AutoRestart: true})

	n, _ := c.GetNode("node-1")
	_ = n.Suspend()

	t0 := time.Now()
	manager.CheckNow(t0)
	manager.CheckNow(t0.Add(time.Second))

	if n.Status() != node.StatusSuspended {
		t.Error("expected node to remain suspended when AutoResume is disabled")
	}
}

func TestManagerResetStats(t *testing.T) {
	manager := New(cluster.New(), DefaultConfig())

	manager.mu.Lock()
	manager.stats.TotalRecoveries = 10
	manager.stats.SuccessRecoveries = 8
	manager.mu.Unlock()

	manager.ResetStats()

	if manager.Stats().TotalRecoveries != 0 {
		t.Error("expected stats to be reset")
	}
}
