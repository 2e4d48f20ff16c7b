package chaos

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"redis-tester/internal/config"
	"redis-tester/internal/events"
	"redis-tester/internal/logger"
)

// Outage はプライマリを停止させる対象（store.Connection が満たす）
type Outage interface {
	InjectPrimaryOutage(ctx context.Context, mode config.OutageMode) (int, error)
}

// Recorder は注入結果を受け取る（metrics.Metrics が満たす）
type Recorder interface {
	RecordOutage(mode string, err error)
}

// DelayFunc は負荷サイズから注入までの待ち時間を決める
type DelayFunc func(load int) time.Duration

// RandomDelay は [1, 2*load] ミリ秒から一様に選ぶ
func RandomDelay(load int) time.Duration {
	if load < 1 {
		load = 1
	}
	return time.Duration(rand.Intn(2*load)+1) * time.Millisecond
}

// FixedDelay は常に d を返す DelayFunc を作る
func FixedDelay(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// Config は Injector の設定
type Config struct {
	Mode  config.OutageMode // 停止方法
	Delay DelayFunc         // 注入までの待ち時間（nil なら RandomDelay）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Mode:  config.OutageKill,
		Delay: RandomDelay,
	}
}

// Stats は注入の統計情報
type Stats struct {
	Attempts    uint64 `json:"attempts"`
	SteppedDown uint64 `json:"stepped_down"`
	Failures    uint64 `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
}

// Injector は待ち時間のあとにプライマリを1回停止させる
// 実行中のワーカーとは同期しない
type Injector struct {
	config   Config
	target   Outage
	eventBus *events.Bus
	recorder Recorder
	runID    string
	log      logger.Source

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New は新しい Injector を作成する
func New(target Outage, config Config) *Injector {
	if config.Delay == nil {
		config.Delay = RandomDelay
	}
	return &Injector{
		config: config,
		target: target,
		log:    logger.With("injector"),
	}
}

// SetEventBus はイベントバスを設定する
func (i *Injector) SetEventBus(bus *events.Bus) {
	i.eventBus = bus
}

// SetRecorder はメトリクスの記録先を設定する
func (i *Injector) SetRecorder(r Recorder) {
	i.recorder = r
}

// SetRunID はイベントに付ける実行IDを設定する
func (i *Injector) SetRunID(id string) {
	i.runID = id
}

// InjectAfterDelay は Delay(load) だけ待ってから停止を1回注入する
// 待機中にコンテキストが終わった場合は注入しない
func (i *Injector) InjectAfterDelay(ctx context.Context, load int) (int, error) {
	d := i.config.Delay(load)
	i.log.Debug("outage scheduled in %v (mode: %s)", d, i.config.Mode)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}

	n, err := i.target.InjectPrimaryOutage(ctx, i.config.Mode)

	i.mu.Lock()
	i.stats.Attempts++
	i.stats.SteppedDown += uint64(n)
	if err != nil {
		i.stats.Failures++
		i.stats.LastError = err.Error()
	}
	i.mu.Unlock()

	mode := string(i.config.Mode)
	if i.recorder != nil {
		i.recorder.RecordOutage(mode, err)
	}
	if n > 0 {
		i.log.Warn("stepped down %d primary node(s) after %v", n, d)
		i.eventBus.Publish(events.NewOutageInjectedEvent(i.runID, mode, n))
	}
	if err != nil {
		i.log.Warn("outage injection incomplete: %v", err)
		if n == 0 {
			i.eventBus.Publish(events.NewOutageFailedEvent(i.runID, mode, err))
		}
	}
	return n, err
}

// Start は InjectAfterDelay をバックグラウンドで実行する
// 実行中に呼ばれた場合は何もしない
func (i *Injector) Start(ctx context.Context, load int) {
	if i.running.Swap(true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.running.Store(false)
		defer cancel()
		_, _ = i.InjectAfterDelay(ctx, load)
	}()
}

// Wait はバックグラウンドの注入が終わるまで待つ
func (i *Injector) Wait() {
	i.wg.Wait()
}

// Stop は待機中の注入を取り消して終了を待つ
func (i *Injector) Stop() {
	i.mu.RLock()
	cancel := i.cancel
	i.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	i.wg.Wait()
}

// IsRunning は注入待ちかどうかを返す
func (i *Injector) IsRunning() bool {
	return i.running.Load()
}

// Stats は注入統計を返す
func (i *Injector) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.stats
}
