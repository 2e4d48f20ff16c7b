package scenario

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"redis-tester/internal/chaos"
	"redis-tester/internal/config"
	"redis-tester/internal/events"
	"redis-tester/internal/metrics"
	"redis-tester/internal/result"
	"redis-tester/internal/store"
	"redis-tester/internal/workload"
)

const testPassword = "secret"

type stubExecutor struct {
	id      string
	dt      workload.DataType
	timings [4]time.Duration
	block   chan struct{}
	err     error
	panics  bool
}

func (s *stubExecutor) RunTest(ctx context.Context, load int) (*result.RunResult, error) {
	if s.panics {
		panic("index out of range")
	}
	if s.block != nil {
		close(s.block)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	res := result.New(load)
	res.DataType = s.dt.String()
	for i, p := range result.Phases {
		res.Timings.Record(p, s.timings[i])
		res.PhaseDetail(s.id, p, "stub:1", "stub:"+strconv.Itoa(load), s.timings[i])
	}
	return res, nil
}

func (s *stubExecutor) RemoveAll(context.Context) error { return nil }
func (s *stubExecutor) ClientID() string { return s.id }
func (s *stubExecutor) DataType() workload.DataType { return s.dt }
func (s *stubExecutor) KeyPrefix() string { return "stub:" }

func testDescriptor(t *testing.T, s *miniredis.Miniredis, clients int) config.Descriptor {
	t.Helper()
	port, err := strconv.Atoi(s.Port())
	if err != nil {
		t.Fatalf("invalid port: %v", err)
	}
	d := config.DefaultDescriptor()
	d.Addresses = []config.NodeAddress{{Host: s.Host(), Port: port}}
	d.Password = testPassword
	d.ParallelClientCount = clients
	d.ConnectTimeoutMs = 1000
	return d
}

func newTestEngine(t *testing.T, clients int, cfg Config, opts ...store.Option) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	s.RequireAuth(testPassword)

	desc := testDescriptor(t, s, clients)
	engine := New(cfg, store.New(desc, opts...))
	t.Cleanup(func() { _ = engine.Close() })
	return engine, s
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	expected := []string{"parallel", "parallel-failover", "single", "single-failover"}
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Errorf("expected presets %v, got %v", expected, names)
	}

	p, ok := GetPreset("parallel-failover")
	if !ok {
		t.Fatal("expected parallel-failover preset")
	}
	if !p.Parallel || !p.InjectFailure {
		t.Errorf("unexpected preset: %+v", p)
	}
	if _, ok := GetPreset("soak"); ok {
		t.Error("expected unknown preset to be missing")
	}
	if len(Presets()) != 4 {
		t.Errorf("expected 4 presets, got %d", len(Presets()))
	}
}

func TestNewEngine(t *testing.T) {
	engine := New(DefaultConfig(), nil)
	defer func() { _ = engine.Close() }()

	if engine.IsRunning() {
		t.Error("expected engine to not be running initially")
	}
	if engine.LastResult() != nil {
		t.Error("expected no result before the first run")
	}
}

func TestInvalidDescriptorShortCircuits(t *testing.T) {
	var dials, built atomic.Int32
	dialer := func(ctx context.Context, d config.Descriptor) (redis.UniversalClient, error) {
		dials.Add(1)
		return store.DialRedis(ctx, d)
	}

	desc := config.DefaultDescriptor()
	desc.Addresses = []config.NodeAddress{{Host: "127.0.0.1", Port: 6379}}

	engine := New(DefaultConfig(), store.New(desc, store.WithDialer(dialer)))
	defer func() { _ = engine.Close() }()
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		built.Add(1)
		return &stubExecutor{dt: dt}, nil
	})

	ctx := context.Background()
	for _, kind := range ListPresets() {
		res, err := engine.Run(ctx, kind, "string", 10)
		if !errors.Is(err, config.ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", kind, err)
		}
		expected := result.StatusNotConfigured + " password is empty"
		if res.Status != expected {
			t.Errorf("%s: expected status %q, got %q", kind, expected, res.Status)
		}
	}

	if dials.Load() != 0 {
		t.Errorf("expected no dials, got %d", dials.Load())
	}
	if built.Load() != 0 {
		t.Errorf("expected no executors, got %d", built.Load())
	}
	if engine.Flush(ctx) != result.StatusFlushFailed {
		t.Error("expected flush to fail for an invalid descriptor")
	}
}

func TestUnknownDataType(t *testing.T) {
	var built atomic.Int32
	engine, _ := newTestEngine(t, 3, DefaultConfig())
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		built.Add(1)
		return &stubExecutor{dt: dt}, nil
	})

	res, err := engine.RunParallel(context.Background(), "geo", 10)
	if !errors.Is(err, workload.ErrUnknownDataType) {
		t.Errorf("expected ErrUnknownDataType, got %v", err)
	}
	if res.Status != result.StatusUnknownDataType {
		t.Errorf("expected status %q, got %q", result.StatusUnknownDataType, res.Status)
	}
	if built.Load() != 0 {
		t.Errorf("expected no executors, got %d", built.Load())
	}
	if engine.Connection().Children() != 0 {
		t.Error("expected no client connections")
	}
}

func TestInvalidLoad(t *testing.T) {
	engine, _ := newTestEngine(t, 1, DefaultConfig())

	res, err := engine.RunSingle(context.Background(), "list", 0)
	if !errors.Is(err, workload.ErrInvalidLoad) {
		t.Errorf("expected ErrInvalidLoad, got %v", err)
	}
	if !strings.HasPrefix(res.Status, result.StatusFailed) {
		t.Errorf("unexpected status: %s", res.Status)
	}
}

func TestRunUnknownScenario(t *testing.T) {
	engine, _ := newTestEngine(t, 1, DefaultConfig())

	if _, err := engine.Run(context.Background(), "soak", "string", 10); !errors.Is(err, ErrUnknownScenario) {
		t.Errorf("expected ErrUnknownScenario, got %v", err)
	}
}

func TestRunSingleScalar(t *testing.T) {
	engine, s := newTestEngine(t, 1, DefaultConfig())
	m := metrics.New()
	engine.SetMetrics(m)

	res, err := engine.RunSingle(context.Background(), "string", 100)
	if err != nil {
		t.Fatalf("RunSingle failed: %v", err)
	}

	if res.Status != result.StatusSingleSuccess {
		t.Errorf("expected status %q, got %q", result.StatusSingleSuccess, res.Status)
	}
	if res.DataType != "string" {
		t.Errorf("expected data type 'string', got '%s'", res.DataType)
	}
	if res.Clients != 1 || res.LoadPerClient != 100 {
		t.Errorf("unexpected clients/load: %d/%d", res.Clients, res.LoadPerClient)
	}
	if len(res.Details) != 4 {
		t.Errorf("expected 4 detail lines, got %d: %v", len(res.Details), res.Details)
	}
	if keys := s.Keys(); len(keys) != 0 {
		t.Errorf("expected keyspace to be empty after remove, got %d keys", len(keys))
	}
	if engine.LastResult() != res {
		t.Error("expected LastResult to return the run result")
	}
	if m.TotalOps() == 0 {
		t.Error("expected operations to be recorded")
	}
}

func TestRunParallelAveragesTimings(t *testing.T) {
	var calls atomic.Int32
	engine, _ := newTestEngine(t, 4, DefaultConfig())
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		k := time.Duration(calls.Add(1))
		return &stubExecutor{
			id:      opts.ClientID,
			dt:      dt,
			timings: [4]time.Duration{k * 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond},
		}, nil
	})

	bus := events.NewBus()
	sub := bus.Subscribe()
	engine.SetEventBus(bus)

	res, err := engine.RunParallel(context.Background(), "hash", 100)
	if err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}

	if calls.Load() != 4 {
		t.Errorf("expected 4 executors, got %d", calls.Load())
	}
	if res.Clients != 4 {
		t.Errorf("expected 4 merged clients, got %d", res.Clients)
	}
	// (10+20+30+40)/4
	if got := res.Timings.Get(result.PhaseWrite); got != 25 {
		t.Errorf("expected average write time 25, got %d", got)
	}
	if got := res.Timings.Get(result.PhaseRemove); got != 40 {
		t.Errorf("expected average remove time 40, got %d", got)
	}
	if len(res.Details) != 16 {
		t.Errorf("expected 16 detail lines, got %d", len(res.Details))
	}
	if res.Status != result.ParallelStatus(4, 400) {
		t.Errorf("unexpected status: %s", res.Status)
	}
	if engine.Connection().Children() != 0 {
		t.Errorf("expected client connections to be released, got %d", engine.Connection().Children())
	}

	var types []events.EventType
	timeout := time.After(time.Second)
	for len(types) == 0 || types[len(types)-1] != events.EventRunCompleted {
		select {
		case ev := <-sub:
			if ev.RunID != res.ID {
				t.Errorf("expected run ID %s, got %s", res.ID, ev.RunID)
			}
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("timeout waiting for run events, got %v", types)
		}
	}
	if types[0] != events.EventRunStarted {
		t.Errorf("expected first event %s, got %s", events.EventRunStarted, types[0])
	}
}

func TestRunParallelHungWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTimeout = 100 * time.Millisecond
	cfg.StopGrace = 100 * time.Millisecond

	var calls atomic.Int32
	started := make(chan struct{})
	engine, _ := newTestEngine(t, 3, cfg)
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		if calls.Add(1) == 1 {
			return &stubExecutor{id: opts.ClientID, dt: dt, block: started}, nil
		}
		return &stubExecutor{id: opts.ClientID, dt: dt, timings: [4]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}}, nil
	})

	start := time.Now()
	res, err := engine.RunParallel(context.Background(), "set", 10)
	if err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("expected hung worker to be abandoned")
	}

	if res.Clients != 2 {
		t.Errorf("expected 2 merged clients, got %d", res.Clients)
	}
	if len(res.FailedClients) != 1 || !strings.Contains(res.FailedClients[0], "timed out") {
		t.Errorf("expected one timed out client, got %v", res.FailedClients)
	}
	if !strings.Contains(res.Status, "1 failed client(s)") {
		t.Errorf("unexpected status: %s", res.Status)
	}
}

func TestRunParallelFailedWorker(t *testing.T) {
	var calls atomic.Int32
	engine, _ := newTestEngine(t, 2, DefaultConfig())
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		if calls.Add(1) == 1 {
			return &stubExecutor{id: opts.ClientID, dt: dt, err: errors.New("ERR boom")}, nil
		}
		return &stubExecutor{id: opts.ClientID, dt: dt}, nil
	})

	bus := events.NewBus()
	sub := bus.Subscribe()
	engine.SetEventBus(bus)

	res, err := engine.RunParallel(context.Background(), "list", 5)
	if err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}
	if len(res.FailedClients) != 1 || !strings.Contains(res.FailedClients[0], "ERR boom") {
		t.Errorf("expected failed client with reason, got %v", res.FailedClients)
	}
	if res.Clients != 1 {
		t.Errorf("expected 1 merged client, got %d", res.Clients)
	}

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.EventWorkerFailed {
				if !strings.Contains(ev.Data.Error, "ERR boom") {
					t.Errorf("unexpected worker failure: %+v", ev.Data)
				}
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for worker_failed event")
		}
	}
}

func TestRunParallelPanickingWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTimeout = 5 * time.Second
	var calls atomic.Int32
	engine, _ := newTestEngine(t, 3, cfg)
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		return &stubExecutor{id: opts.ClientID, dt: dt, panics: calls.Add(1) == 2}, nil
	})

	start := time.Now()
	res, err := engine.RunParallel(context.Background(), "set", 5)
	if err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected the panic to be reported without waiting for the deadline, took %v", elapsed)
	}
	if len(res.FailedClients) != 1 || !strings.Contains(res.FailedClients[0], "panicked") {
		t.Errorf("expected one panicked client, got %v", res.FailedClients)
	}
	if res.Clients != 2 {
		t.Errorf("expected 2 merged clients, got %d", res.Clients)
	}
	if !strings.Contains(res.Status, "1 failed client(s)") {
		t.Errorf("expected partial status, got %q", res.Status)
	}
}

func TestRunSingleFatalError(t *testing.T) {
	engine, _ := newTestEngine(t, 1, DefaultConfig())
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		return &stubExecutor{dt: dt, err: errors.New("ERR boom")}, nil
	})

	res, err := engine.RunSingle(context.Background(), "sortedset", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(res.Status, result.StatusFailed) || !strings.Contains(res.Status, "ERR boom") {
		t.Errorf("unexpected status: %s", res.Status)
	}
}

type stepEndpoint struct {
	addr  string
	mu    sync.Mutex
	modes []config.OutageMode
}

func (e *stepEndpoint) Addr() string { return e.addr }
func (e *stepEndpoint) Reachable(context.Context) bool { return true }
func (e *stepEndpoint) Primary(context.Context) (bool, error) { return true, nil }
func (e *stepEndpoint) FlushAll(context.Context) error { return nil }
func (e *stepEndpoint) Close() error { return nil }

func (e *stepEndpoint) StepDown(_ context.Context, mode config.OutageMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modes = append(e.modes, mode)
	return nil
}

type stepTopology struct {
	ep *stepEndpoint
}

func (s stepTopology) Endpoints(context.Context, config.Descriptor) ([]store.Endpoint, error) {
	return []store.Endpoint{s.ep}, nil
}

func TestRunSingleWithInjectedFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chaos = chaos.Config{Mode: config.OutageSuspend, Delay: chaos.FixedDelay(0)}

	ep := &stepEndpoint{addr: "primary"}
	engine, _ := newTestEngine(t, 1, cfg, store.WithTopology(stepTopology{ep: ep}))

	res, err := engine.RunSingleWithInjectedFailure(context.Background(), "string", 50)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	ep.mu.Lock()
	modes := append([]config.OutageMode(nil), ep.modes...)
	ep.mu.Unlock()
	if len(modes) != 1 || modes[0] != config.OutageSuspend {
		t.Errorf("expected one suspend step-down, got %v", modes)
	}
	if len(res.Details) != 5 {
		t.Fatalf("expected 4 phase lines and an outage line, got %v", res.Details)
	}
	if res.Details[4] != "Outage: 1 primary node(s) stepped down." {
		t.Errorf("unexpected outage detail: %s", res.Details[4])
	}
	if res.Status != result.StatusSingleSuccess {
		t.Errorf("unexpected status: %s", res.Status)
	}
}

func TestEngineAlreadyRunning(t *testing.T) {
	started := make(chan struct{})
	engine, _ := newTestEngine(t, 1, DefaultConfig())
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		return &stubExecutor{dt: dt, block: started}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.RunSingle(ctx, "string", 10)
		done <- err
	}()

	<-started
	if !engine.IsRunning() {
		t.Error("expected engine to be running")
	}
	if _, err := engine.RunSingle(context.Background(), "string", 10); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if engine.IsRunning() {
		t.Error("expected engine to stop running")
	}
}

func TestRejectedRunKeepsLastResult(t *testing.T) {
	started := make(chan struct{})
	var blocking atomic.Bool
	engine, _ := newTestEngine(t, 1, DefaultConfig())
	engine.SetExecutorFactory(func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error) {
		if blocking.Load() {
			return &stubExecutor{dt: dt, block: started}, nil
		}
		return &stubExecutor{id: "c1", dt: dt}, nil
	})

	first, err := engine.RunSingle(context.Background(), "string", 10)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	blocking.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.RunSingle(ctx, "string", 10)
	}()
	<-started

	res, err := engine.RunSingle(context.Background(), "stream", 10)
	if !errors.Is(err, workload.ErrUnknownDataType) {
		t.Errorf("expected ErrUnknownDataType, got %v", err)
	}
	if res == nil || res.Status != result.StatusUnknownDataType {
		t.Errorf("expected unknown data type result, got %+v", res)
	}
	if _, err := engine.RunSingle(context.Background(), "string", 0); !errors.Is(err, workload.ErrInvalidLoad) {
		t.Errorf("expected ErrInvalidLoad, got %v", err)
	}
	if engine.LastResult() != first {
		t.Errorf("expected rejected requests to keep the previous result, got %+v", engine.LastResult())
	}

	cancel()
	<-done
}

func TestFlush(t *testing.T) {
	engine, s := newTestEngine(t, 1, DefaultConfig())
	if err := s.Set("leftover", "1"); err != nil {
		t.Fatalf("failed to seed key: %v", err)
	}

	if got := engine.Flush(context.Background()); got != result.StatusFlushed {
		t.Errorf("expected %q, got %q", result.StatusFlushed, got)
	}
	if s.Exists("leftover") {
		t.Error("expected key to be flushed")
	}
}
