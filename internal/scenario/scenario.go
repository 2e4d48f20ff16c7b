package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"redis-tester/internal/chaos"
	"redis-tester/internal/config"
	"redis-tester/internal/events"
	"redis-tester/internal/logger"
	"redis-tester/internal/metrics"
	"redis-tester/internal/result"
	"redis-tester/internal/store"
	"redis-tester/internal/worker"
	"redis-tester/internal/workload"
)

var (
	// ErrAlreadyRunning は別の試験が実行中であることを示す
	ErrAlreadyRunning = errors.New("scenario is already running")
	// ErrUnknownScenario は未知のシナリオ名を示す
	ErrUnknownScenario = errors.New("unknown scenario")
)

// DefaultStopGrace はタイムアウト後にワーカーの終了を待つ時間
const DefaultStopGrace = 2 * time.Second

// run_completed の集計ラベル
const (
	runOK      = "ok"
	runFailed  = "failed"
	runInvalid = "invalid"
)

// ExecutorFactory は executor の作成方法（テストで差し替える）
type ExecutorFactory func(dt workload.DataType, conn workload.Conn, opts workload.Options) (workload.Executor, error)

// Config はエンジンの設定
type Config struct {
	Descriptor    config.Descriptor // conn を渡さない場合に使う記述子
	MaxKeys       int               // 0 なら workload.DefaultMaxKeys
	WorkerTimeout time.Duration     // 0 なら Descriptor.WorkerTimeout
	StopGrace     time.Duration     // タイムアウト後の停止待ち
	Chaos         chaos.Config      // Mode が空なら Descriptor.OutageMode
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Descriptor: config.DefaultDescriptor(),
		MaxKeys:    workload.DefaultMaxKeys,
		StopGrace:  DefaultStopGrace,
		Chaos:      chaos.Config{Delay: chaos.RandomDelay},
	}
}

// Engine は単一・並列の試験を実行する
// 同時に実行できる試験は1つだけ
type Engine struct {
	config      Config
	conn        *store.Connection
	eventBus    *events.Bus
	metrics     *metrics.Metrics
	newExecutor ExecutorFactory
	log         logger.Source

	mu      sync.RWMutex
	running bool
	last    *result.RunResult
}

// New は新しい Engine を作成する
// conn が nil なら config.Descriptor から作る。conn の所有権は Engine に移る
func New(config Config, conn *store.Connection) *Engine {
	if conn == nil {
		conn = store.New(config.Descriptor)
	}
	if config.StopGrace <= 0 {
		config.StopGrace = DefaultStopGrace
	}
	if config.Chaos.Delay == nil {
		config.Chaos.Delay = chaos.RandomDelay
	}
	return &Engine{
		config:      config,
		conn:        conn,
		newExecutor: workload.New,
		log:         logger.With("scenario"),
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetMetrics はメトリクスを設定する
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetExecutorFactory は executor の作成方法を差し替える
func (e *Engine) SetExecutorFactory(f ExecutorFactory) {
	if f != nil {
		e.newExecutor = f
	}
}

// Connection は共有接続を返す
func (e *Engine) Connection() *store.Connection {
	return e.conn
}

// Run はシナリオ名で試験を実行する
func (e *Engine) Run(ctx context.Context, kind, dataType string, load int) (*result.RunResult, error) {
	p, ok := GetPreset(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, kind)
	}
	return e.run(ctx, p, dataType, load)
}

// RunSingle は1クライアントで試験する
func (e *Engine) RunSingle(ctx context.Context, dataType string, load int) (*result.RunResult, error) {
	return e.run(ctx, presets[KindSingle], dataType, load)
}

// RunSingleWithInjectedFailure は1クライアントの試験中にプライマリを停止させる
// 4つの段階行の後に "Outage: ..." の行が1つ続くので Details は5行になる
func (e *Engine) RunSingleWithInjectedFailure(ctx context.Context, dataType string, load int) (*result.RunResult, error) {
	return e.run(ctx, presets[KindSingleFailover], dataType, load)
}

// RunParallel は ParallelClientCount 個のクライアントで試験する
func (e *Engine) RunParallel(ctx context.Context, dataType string, loadPerClient int) (*result.RunResult, error) {
	return e.run(ctx, presets[KindParallel], dataType, loadPerClient)
}

// RunParallelWithInjectedFailure は並列試験中にプライマリを停止させる
func (e *Engine) RunParallelWithInjectedFailure(ctx context.Context, dataType string, loadPerClient int) (*result.RunResult, error) {
	return e.run(ctx, presets[KindParallelFailover], dataType, loadPerClient)
}

func (e *Engine) run(ctx context.Context, p Preset, tag string, load int) (*result.RunResult, error) {
	desc := e.conn.Descriptor()

	// 記述子、データ型、負荷の順に検証する。いずれもストアには触れない
	if err := desc.Validate(); err != nil {
		e.log.Warn("%s rejected: %v", p.Kind, err)
		res := result.Terminal(result.StatusNotConfigured + " " + invalidReason(err))
		e.reject(p)
		return res, err
	}
	dt, err := workload.ParseDataType(tag)
	if err != nil {
		e.log.Warn("%s rejected: %v", p.Kind, err)
		res := result.Terminal(result.StatusUnknownDataType)
		e.reject(p)
		return res, err
	}
	if load < 1 {
		res := result.Terminal(fmt.Sprintf("%s %v", result.StatusFailed, workload.ErrInvalidLoad))
		e.reject(p)
		return res, workload.ErrInvalidLoad
	}

	if !e.begin() {
		return nil, ErrAlreadyRunning
	}
	defer e.end()

	runID := uuid.NewString()
	e.log.Info("=== Scenario '%s' started (%s, load %d) ===", p.Kind, dt, load)
	e.eventBus.Publish(events.NewRunStartedEvent(runID, string(p.Kind), dt.String(), load))

	var res *result.RunResult
	if p.Parallel {
		res, err = e.runParallel(ctx, runID, p, dt, load, desc)
	} else {
		res, err = e.runSingle(ctx, runID, p, dt, load)
	}
	res.ID = runID

	outcome := runOK
	if err != nil || res.Failed() {
		outcome = runFailed
	}
	e.finish(p, res, outcome)
	e.eventBus.Publish(events.NewRunCompletedEvent(runID, string(p.Kind), res.Status))
	e.log.Info("=== Scenario '%s' completed: %s ===", p.Kind, res.Status)
	return res, err
}

func (e *Engine) runSingle(ctx context.Context, runID string, p Preset, dt workload.DataType, load int) (*result.RunResult, error) {
	exec, err := e.newExecutor(dt, e.conn, e.executorOptions(runID, ""))
	if err != nil {
		return failedResult(dt, load, err), err
	}

	var inj *chaos.Injector
	if p.InjectFailure {
		// 注入はハンドルがないと何もしないので先に接続しておく
		if _, err := e.conn.GetConnection(ctx); err != nil {
			return failedResult(dt, load, err), err
		}
		inj = e.startInjector(ctx, runID, load)
	}

	res, err := exec.RunTest(ctx, load)
	if err != nil {
		e.stopInjector(inj, true, res)
		e.cleanup(ctx, exec)
		if res == nil {
			res = failedResult(dt, load, err)
		} else {
			res.Status = fmt.Sprintf("%s %v", result.StatusFailed, err)
		}
		return res, err
	}
	e.stopInjector(inj, false, res)

	res.Status = result.StatusSingleSuccess
	return res, nil
}

func (e *Engine) runParallel(ctx context.Context, runID string, p Preset, dt workload.DataType, load int, desc config.Descriptor) (*result.RunResult, error) {
	n := desc.ParallelClientCount
	ids := make([]string, n)
	for i := range ids {
		ids[i] = xid.New().String()
	}

	var inj *chaos.Injector
	if p.InjectFailure {
		if _, err := e.conn.GetConnection(ctx); err != nil {
			return failedResult(dt, load, err), err
		}
		inj = e.startInjector(ctx, runID, load)
	}

	pool := worker.NewPool(n)
	pool.Start(ctx)

	// バッファを n にしておけば、期限後に終わったワーカーも送信で詰まらない
	outcomes := make(chan result.Outcome, n)
	for _, id := range ids {
		pool.SubmitWait(func(jctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					outcomes <- e.clientFailed(runID, id, fmt.Errorf("client panicked: %v", r))
				}
			}()
			outcomes <- e.runClient(jctx, runID, id, dt, load)
		})
	}

	collectCtx, cancel := context.WithTimeout(ctx, e.workerTimeout(desc))
	defer cancel()

	agg := result.NewAggregator(load, ids)
	for _, id := range agg.Collect(collectCtx, outcomes) {
		e.log.Warn("client %s did not finish in time", id)
		e.eventBus.Publish(events.NewWorkerFailedEvent(runID, id, collectCtx.Err()))
	}
	if !pool.StopWithin(e.config.StopGrace) {
		e.log.Warn("%d client(s) still running after stop", pool.Active())
	}

	merged := agg.Merged()
	merged.DataType = dt.String()
	e.stopInjector(inj, ctx.Err() != nil, merged)

	if failed := len(merged.FailedClients); failed > 0 {
		merged.Status = result.ParallelPartialStatus(n, failed, load*n)
	} else {
		merged.Status = result.ParallelStatus(n, load*n)
	}
	return merged, ctx.Err()
}

// runClient は1ワーカー分の試験を専用の接続で実行する
func (e *Engine) runClient(ctx context.Context, runID, id string, dt workload.DataType, load int) result.Outcome {
	child, err := e.conn.GetConnectionForClient(ctx, nil)
	if err != nil {
		return e.clientFailed(runID, id, err)
	}
	defer func() { _ = child.Close() }()

	exec, err := e.newExecutor(dt, child, e.executorOptions(runID, id))
	if err != nil {
		return e.clientFailed(runID, id, err)
	}
	res, err := exec.RunTest(ctx, load)
	if err != nil {
		e.cleanup(ctx, exec)
		return e.clientFailed(runID, id, err)
	}
	return result.Outcome{ClientID: id, Result: res}
}

func (e *Engine) clientFailed(runID, id string, err error) result.Outcome {
	e.log.Warn("client %s failed: %v", id, err)
	e.eventBus.Publish(events.NewWorkerFailedEvent(runID, id, err))
	return result.Outcome{ClientID: id, Err: err}
}

// cleanup は失敗した executor のキーを可能な範囲で削除する
func (e *Engine) cleanup(ctx context.Context, exec workload.Executor) {
	if ctx.Err() != nil {
		return
	}
	if err := exec.RemoveAll(ctx); err != nil {
		e.log.Debug("cleanup of %s failed: %v", exec.KeyPrefix(), err)
	}
}

func (e *Engine) executorOptions(runID, clientID string) workload.Options {
	opts := workload.Options{
		ClientID: clientID,
		MaxKeys:  e.config.MaxKeys,
		RunID:    runID,
		Bus:      e.eventBus,
	}
	if e.metrics != nil {
		opts.Recorder = e.metrics
	}
	return opts
}

func (e *Engine) startInjector(ctx context.Context, runID string, load int) *chaos.Injector {
	cfg := e.config.Chaos
	if cfg.Mode == "" {
		cfg.Mode = e.conn.Descriptor().OutageMode
	}
	inj := chaos.New(e.conn, cfg)
	inj.SetEventBus(e.eventBus)
	inj.SetRunID(runID)
	if e.metrics != nil {
		inj.SetRecorder(e.metrics)
	}
	inj.Start(ctx, load)
	return inj
}

// stopInjector は注入の終了を待ち、結果を詳細行に残す
// abort なら待機中の注入を取り消す
func (e *Engine) stopInjector(inj *chaos.Injector, abort bool, res *result.RunResult) {
	if inj == nil {
		return
	}
	if abort {
		inj.Stop()
	} else {
		inj.Wait()
	}

	stats := inj.Stats()
	if res == nil || stats.Attempts == 0 {
		return
	}
	if stats.LastError != "" {
		res.AddDetail("Outage: %d primary node(s) stepped down. Error: %s", stats.SteppedDown, stats.LastError)
		return
	}
	res.AddDetail("Outage: %d primary node(s) stepped down.", stats.SteppedDown)
}

func (e *Engine) workerTimeout(desc config.Descriptor) time.Duration {
	if e.config.WorkerTimeout > 0 {
		return e.config.WorkerTimeout
	}
	if desc.WorkerTimeout > 0 {
		return desc.WorkerTimeout
	}
	return config.DefaultWorkerTimeout
}

// Flush は全プライマリのデータを削除する
func (e *Engine) Flush(ctx context.Context) string {
	if err := e.conn.Descriptor().Validate(); err != nil {
		e.log.Warn("flush rejected: %v", err)
		return result.StatusFlushFailed
	}
	flushed, err := e.conn.FlushAll(ctx)
	if err != nil {
		e.log.Error("flush failed: %v", err)
	}
	if !flushed {
		return result.StatusFlushFailed
	}
	return result.StatusFlushed
}

// Close は共有接続と子接続を閉じる
func (e *Engine) Close() error {
	return e.conn.Close()
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// reject は検証で弾いた要求を数える。LastResult は実際に走った試験だけを保持する
func (e *Engine) reject(p Preset) {
	if e.metrics != nil {
		e.metrics.RecordRun(string(p.Kind), runInvalid)
	}
}

func (e *Engine) finish(p Preset, res *result.RunResult, outcome string) {
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordRun(string(p.Kind), outcome)
	}
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastResult は直前の試験結果を返す（未実行なら nil）
func (e *Engine) LastResult() *result.RunResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func failedResult(dt workload.DataType, load int, err error) *result.RunResult {
	res := result.New(load)
	res.DataType = dt.String()
	res.Status = fmt.Sprintf("%s %v", result.StatusFailed, err)
	return res
}

func invalidReason(err error) string {
	return strings.TrimPrefix(err.Error(), config.ErrInvalid.Error()+": ")
}
