package node

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

const testPassword = "secret"

func newClient(t *testing.T, n *Node) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:       n.Addr(),
		Password:   testPassword,
		MaxRetries: -1,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func startPrimary(t *testing.T, id string) *Node {
	t.Helper()
	n := New(id, testPassword)
	n.SetPrimary(true)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("failed to start node: %v", err)
	}
	t.Cleanup(n.Close)
	return n
}

func TestNewNode(t *testing.T) {
	n := New("test-node-1", testPassword)

	if n.ID() != "test-node-1" {
		t.Errorf("expected ID 'test-node-1', got '%s'", n.ID())
	}
	if n.Status() != StatusStopped {
		t.Errorf("expected status Stopped, got %v", n.Status())
	}
	if n.Addr() != "" {
		t.Errorf("expected empty address before start, got %s", n.Addr())
	}
	if _, err := n.Address(); err == nil {
		t.Error("expected error for address of a node never started")
	}
}

func TestNodeStartStop(t *testing.T) {
	n := startPrimary(t, "test-node-1")
	ctx := context.Background()

	if n.Status() != StatusRunning {
		t.Errorf("expected status Running, got %v", n.Status())
	}

	// Double start should fail
	if err := n.Start(ctx); err == nil {
		t.Error("expected error when starting already running node")
	}

	if err := n.Stop(); err != nil {
		t.Errorf("failed to stop node: %v", err)
	}
	if n.Status() != StatusStopped {
		t.Errorf("expected status Stopped, got %v", n.Status())
	}

	// Double stop should fail
	if err := n.Stop(); err == nil {
		t.Error("expected error when stopping already stopped node")
	}
}

func TestNodeRestartKeepsAddressAndData(t *testing.T) {
	n := startPrimary(t, "test-node-1")
	ctx := context.Background()
	addr := n.Addr()

	if err := newClient(t, n).Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("SET failed: %v", err)
	}

	_ = n.Stop()
	if err := newClient(t, n).Ping(ctx).Err(); err == nil {
		t.Error("expected stopped node to refuse connections")
	}

	if err := n.Start(ctx); err != nil {
		t.Fatalf("failed to restart node: %v", err)
	}
	if n.Addr() != addr {
		t.Errorf("expected restart on %s, got %s", addr, n.Addr())
	}

	got, err := newClient(t, n).Get(ctx, "k").Result()
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if got != "v" {
		t.Errorf("expected 'v', got '%s'", got)
	}
	if n.Size() != 1 {
		t.Errorf("expected size 1, got %d", n.Size())
	}
}

func TestNodeSuspendResume(t *testing.T) {
	n := New("test-node-1", testPassword)
	n.SetPrimary(true)
	ctx := context.Background()

	// Suspend before start should fail
	if err := n.Suspend(); err == nil {
		t.Error("expected error when suspending stopped node")
	}

	_ = n.Start(ctx)
	defer n.Close()
	client := newClient(t, n)

	if err := n.Suspend(); err != nil {
		t.Errorf("failed to suspend node: %v", err)
	}
	if n.Status() != StatusSuspended {
		t.Errorf("expected status Suspended, got %v", n.Status())
	}
	if err := n.Suspend(); err == nil {
		t.Error("expected error when suspending already suspended node")
	}
	if err := n.Start(ctx); err == nil {
		t.Error("expected error when starting a suspended node")
	}

	err := client.Set(ctx, "k", "v", 0).Err()
	if err == nil || !strings.HasPrefix(err.Error(), "LOADING") {
		t.Errorf("expected LOADING reply from suspended node, got %v", err)
	}

	if err := n.Resume(); err != nil {
		t.Errorf("failed to resume node: %v", err)
	}
	if n.Status() != StatusRunning {
		t.Errorf("expected status Running after resume, got %v", n.Status())
	}
	if err := n.Resume(); err == nil {
		t.Error("expected error when resuming non-suspended node")
	}

	if err := newClient(t, n).Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Errorf("expected SET to succeed after resume: %v", err)
	}
}

func TestNodeReplicaIsReadOnly(t *testing.T) {
	n := New("test-node-2", testPassword)
	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("failed to start node: %v", err)
	}
	defer n.Close()

	err := newClient(t, n).Set(ctx, "k", "v", 0).Err()
	if err == nil || !strings.HasPrefix(err.Error(), "READONLY") {
		t.Errorf("expected READONLY reply from replica, got %v", err)
	}

	n.SetPrimary(true)
	if !n.IsPrimary() {
		t.Error("expected node to be primary")
	}
	if err := newClient(t, n).Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Errorf("expected SET to succeed after promotion: %v", err)
	}
}

func TestNodeFlushAll(t *testing.T) {
	n := startPrimary(t, "test-node-1")
	ctx := context.Background()
	client := newClient(t, n)

	for _, k := range []string{"a", "b", "c"} {
		_ = client.Set(ctx, k, "1", 0).Err()
	}
	if n.Size() != 3 {
		t.Errorf("expected size 3, got %d", n.Size())
	}

	if err := n.FlushAll(); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}
	if n.Size() != 0 {
		t.Errorf("expected size 0, got %d", n.Size())
	}

	_ = n.Stop()
	if err := n.FlushAll(); err == nil {
		t.Error("expected error when flushing stopped node")
	}
}

func TestNodeConcurrentAccess(t *testing.T) {
	n := startPrimary(t, "test-node-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = n.Status()
			_ = n.Addr()
		}()
		go func(i int) {
			defer wg.Done()
			n.SetPrimary(i%2 == 0)
		}(i)
	}
	wg.Wait()
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusStopped, "stopped"},
		{StatusRunning, "running"},
		{StatusSuspended, "suspended"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}
