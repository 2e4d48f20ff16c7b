package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"redis-tester/internal/events"
	"redis-tester/internal/logger"
	"redis-tester/internal/metrics"
	"redis-tester/internal/result"
	"redis-tester/internal/store"
)

// typeOps はデータ型ごとの操作（1インデックス分）
// remove は全型共通で DEL
type typeOps interface {
	write(ctx context.Context, e *executor, c redis.UniversalClient, i int) error
	read(ctx context.Context, e *executor, c redis.UniversalClient, i int) error
	update(ctx context.Context, e *executor, c redis.UniversalClient, i int) error
}

type executor struct {
	conn     Conn
	dataType DataType
	id       string
	prefix   string
	maxKeys  int
	runID    string
	bus      *events.Bus
	rec      Recorder
	rnd      *rand.Rand
	log      logger.Source
	impl     typeOps

	// 実行中の状態
	res      *result.RunResult
	keyCount int
}

func newExecutor(dt DataType, conn Conn, opts Options, impl typeOps) *executor {
	// ハッシュタグでクライアントのキーを同じスロットに置く（クラスタでの複数キー操作用）
	prefix := fmt.Sprintf("{client:%s}:%s:key:", opts.ClientID, dt)

	return &executor{
		conn:     conn,
		dataType: dt,
		id:       opts.ClientID,
		prefix:   prefix,
		maxKeys:  opts.MaxKeys,
		runID:    opts.RunID,
		bus:      opts.Bus,
		rec:      opts.Recorder,
		rnd:      rand.New(rand.NewSource(opts.Seed)),
		log:      logger.With("client-" + opts.ClientID),
		impl:     impl,
	}
}

func (e *executor) ClientID() string {
	return e.id
}

func (e *executor) DataType() DataType {
	return e.dataType
}

func (e *executor) KeyPrefix() string {
	return e.prefix
}

// keyCountFor は負荷サイズに対するキー数
// Scalar は負荷1単位につき1キー、それ以外は maxKeys が上限
func (e *executor) keyCountFor(load int) int {
	if e.dataType == Scalar || load < e.maxKeys {
		return load
	}
	return e.maxKeys
}

func (e *executor) key(n int) string {
	return e.prefix + strconv.Itoa(n)
}

// keyFor はインデックス i (1始まり) が対象にするキー
func (e *executor) keyFor(i int) string {
	if e.dataType == Scalar {
		return e.key(i)
	}
	return e.key(i % e.keyCount)
}

// keyRange はキー空間の最初と最後のキー
// Scalar は 1..keyCount、それ以外は i mod keyCount なので 0..keyCount-1
func (e *executor) keyRange() (string, string) {
	if e.dataType == Scalar {
		return e.key(1), e.key(e.keyCount)
	}
	return e.key(0), e.key(e.keyCount - 1)
}

// rotatedKeys は i の次の n 個のキー（自己修復の和集合用）
func (e *executor) rotatedKeys(i, n int) []string {
	keys := make([]string, n)
	for k := 0; k < n; k++ {
		keys[k] = e.key((i + k + 1) % e.keyCount)
	}
	return keys
}

func (e *executor) randValue() string {
	return strconv.FormatInt(e.rnd.Int63(), 36)
}

func (e *executor) RunTest(ctx context.Context, load int) (*result.RunResult, error) {
	if load < 1 {
		return nil, ErrInvalidLoad
	}

	res := result.New(load)
	res.DataType = e.dataType.String()
	e.res = res
	e.keyCount = e.keyCountFor(load)

	steps := []struct {
		phase result.Phase
		count int
		op    func(context.Context, redis.UniversalClient, int) error
	}{
		{result.PhaseWrite, load, e.writeOp},
		{result.PhaseRead, load, e.readOp},
		{result.PhaseUpdate, load, e.updateOp},
		{result.PhaseRemove, e.keyCount, e.removeOp},
	}

	for _, s := range steps {
		if err := e.runPhase(ctx, res, s.phase, s.count, s.op); err != nil {
			return res, err
		}
	}

	e.log.Debug("%s run finished: %d reconnects, total %dms", e.dataType, res.Reconnects, res.Timings.Total())
	return res, nil
}

func (e *executor) RemoveAll(ctx context.Context) error {
	if e.keyCount == 0 {
		return nil
	}
	scratch := result.New(e.keyCount)
	e.res = scratch
	return e.runPhase(ctx, scratch, result.PhaseRemove, e.keyCount, e.removeOp)
}

func (e *executor) writeOp(ctx context.Context, c redis.UniversalClient, i int) error {
	return e.impl.write(ctx, e, c, i)
}

func (e *executor) readOp(ctx context.Context, c redis.UniversalClient, i int) error {
	return e.impl.read(ctx, e, c, i)
}

func (e *executor) updateOp(ctx context.Context, c redis.UniversalClient, i int) error {
	return e.impl.update(ctx, e, c, i)
}

func (e *executor) removeOp(ctx context.Context, c redis.UniversalClient, i int) error {
	return c.Del(ctx, e.keyFor(i)).Err()
}

// runPhase は i = 1..n で op を実行し、経過時間と詳細行を記録する
func (e *executor) runPhase(ctx context.Context, res *result.RunResult, phase result.Phase, n int, op func(context.Context, redis.UniversalClient, int) error) error {
	start := time.Now()
	for i := 1; i <= n; i++ {
		if err := e.do(ctx, phase, i, op); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	res.Timings.Record(phase, elapsed)
	first, last := e.keyRange()
	res.PhaseDetail(e.id, phase, first, last, elapsed)
	e.rec.ObservePhase(e.dataType.String(), phase.String(), elapsed)
	e.bus.Publish(events.NewPhaseCompletedEvent(e.runID, e.id, e.dataType.String(), phase.String(), elapsed))
	return nil
}

// do は1操作を実行する
// 接続断はハンドルを作り直して成功扱いにし、次のインデックスへ進む（その場での再試行はしない）
// それ以外のエラーは実行を中断する
func (e *executor) do(ctx context.Context, phase result.Phase, i int, op func(context.Context, redis.UniversalClient, int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := e.conn.GetConnection(ctx)
	if err == nil {
		err = op(ctx, client, i)
	}
	if err == nil || errors.Is(err, redis.Nil) {
		e.rec.RecordOp(e.dataType.String(), phase.String(), metrics.OutcomeOK)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if store.IsConnectionLost(err) {
		e.reconnect(ctx, phase, client, err)
		return nil
	}

	e.rec.RecordOp(e.dataType.String(), phase.String(), metrics.OutcomeError)
	return fmt.Errorf("%s %s #%d: %w", e.dataType, phase, i, err)
}

func (e *executor) reconnect(ctx context.Context, phase result.Phase, stale redis.UniversalClient, cause error) {
	e.res.Reconnects++
	attempt := e.res.Reconnects
	dt := e.dataType.String()

	e.rec.RecordOp(dt, phase.String(), metrics.OutcomeConnectionLost)
	e.bus.Publish(events.NewConnectionLostEvent(e.runID, e.id, phase.String(), attempt, cause))
	e.log.Warn("connection lost during %s: %v", phase, cause)

	if _, err := e.conn.Refresh(ctx, stale); err != nil {
		e.log.Error("reconnect failed: %v", err)
		return
	}
	e.rec.RecordReconnect(dt)
	e.bus.Publish(events.NewReconnectedEvent(e.runID, e.id, attempt))
}
