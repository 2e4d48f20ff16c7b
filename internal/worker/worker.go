package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"redis-tester/internal/logger"
)

// Job はワーカーが実行するジョブを表す
// ctx はプールの停止時にキャンセルされる
type Job func(ctx context.Context)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // ワーカー数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0, // CPU数
		QueueFactor: 1,
	}
}

// Pool はゴルーチンのプールを管理する
// jobs チャネルは閉じない（停止はコンテキストで伝える）
type Pool struct {
	numWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopping   atomic.Bool
	active     atomic.Int32
	completed  atomic.Uint64
	panics     atomic.Uint64
	mu         sync.Mutex
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*queueFactor),
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for i := range p.numWorkers {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Debug("", "WorkerPool started with %d workers", p.numWorkers)
}

// worker は個々のワーカーゴルーチン
func (p *Pool) worker(_ int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

// run はジョブを1つ実行する。ジョブの panic はワーカーを止めない
func (p *Pool) run(job Job) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			logger.Error("", "WorkerPool: job panicked: %v", r)
		}
	}()
	job(p.ctx)
}

// context は開始済みならプールのコンテキストを返す
func (p *Pool) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	return p.ctx
}

// Submit はジョブをプールに送信する
// キューが一杯なら送信せずに false を返す
func (p *Pool) Submit(job Job) bool {
	if p.stopping.Load() {
		return false
	}
	ctx := p.context()
	if ctx == nil || ctx.Err() != nil {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// SubmitWait はジョブを送信し、キューに空きがなければブロックする
func (p *Pool) SubmitWait(job Job) bool {
	if p.stopping.Load() {
		return false
	}
	ctx := p.context()
	if ctx == nil {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// Stop はワーカープールを停止し、実行中のジョブの終了を待つ
func (p *Pool) Stop() {
	p.StopWithin(0)
}

// StopWithin はワーカープールを停止し、最大 timeout だけ終了を待つ
// timeout が 0 以下なら無期限に待つ。期限内に全ワーカーが終了したら true を返す
func (p *Pool) StopWithin(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	p.stopping.Store(true)
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	finished := true
	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			finished = false
			logger.Warn("", "WorkerPool: %d job(s) still running after %v", p.active.Load(), timeout)
		}
	} else {
		<-done
	}

	// キューに残ったジョブは破棄する
	for len(p.jobs) > 0 {
		<-p.jobs
	}

	p.mu.Lock()
	p.started = false
	p.stopping.Store(false)
	p.mu.Unlock()

	logger.Debug("", "WorkerPool stopped")
	return finished
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Active は実行中のジョブ数を返す
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Completed は完了したジョブ数を返す（panic したジョブを含む）
func (p *Pool) Completed() uint64 {
	return p.completed.Load()
}

// Panics は panic したジョブ数を返す
func (p *Pool) Panics() uint64 {
	return p.panics.Load()
}
