package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redis_tester"

// 操作結果のラベル値
const (
	OutcomeOK             = "ok"
	OutcomeConnectionLost = "connection_lost"
	OutcomeError          = "error"
)

// Metrics は負荷試験のメトリクスを収集する
// プロセス内の集計は atomic カウンタ、外部公開は Prometheus レジストリで行う
type Metrics struct {
	totalOps   atomic.Uint64
	failedOps  atomic.Uint64
	lostOps    atomic.Uint64
	reconnects atomic.Uint64
	outages    atomic.Uint64
	runs       atomic.Uint64

	startTime time.Time

	registry      *prometheus.Registry
	opsTotal      *prometheus.CounterVec
	reconnectsVec *prometheus.CounterVec
	phaseSeconds  *prometheus.HistogramVec
	outagesTotal  *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
}

// New は新しいメトリクスを作成する
// 各インスタンスは独自のレジストリを持つ
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Store operations issued by workload executors.",
		}, []string{"data_type", "phase", "outcome"}),
		reconnectsVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Handle rebuilds after a connection-lost error.",
		}, []string{"data_type"}),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of one executor phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"data_type", "phase"}),
		outagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outages_total",
			Help:      "Primary outage injections.",
		}, []string{"mode", "outcome"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed scenario runs.",
		}, []string{"scenario", "status"}),
	}

	m.registry.MustRegister(m.opsTotal, m.reconnectsVec, m.phaseSeconds, m.outagesTotal, m.runsTotal)
	return m
}

// RecordOp は1操作の結果を記録する
func (m *Metrics) RecordOp(dataType, phase, outcome string) {
	m.totalOps.Add(1)
	switch outcome {
	case OutcomeConnectionLost:
		m.lostOps.Add(1)
	case OutcomeError:
		m.failedOps.Add(1)
	}
	m.opsTotal.WithLabelValues(dataType, phase, outcome).Inc()
}

// RecordReconnect はハンドル再構築を記録する
func (m *Metrics) RecordReconnect(dataType string) {
	m.reconnects.Add(1)
	m.reconnectsVec.WithLabelValues(dataType).Inc()
}

// ObservePhase は段階の経過時間を記録する
func (m *Metrics) ObservePhase(dataType, phase string, d time.Duration) {
	m.phaseSeconds.WithLabelValues(dataType, phase).Observe(d.Seconds())
}

// RecordOutage は障害注入を記録する
func (m *Metrics) RecordOutage(mode string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	} else {
		m.outages.Add(1)
	}
	m.outagesTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordRun はシナリオ完了を記録する
func (m *Metrics) RecordRun(scenario, status string) {
	m.runs.Add(1)
	m.runsTotal.WithLabelValues(scenario, status).Inc()
}

// Registry は Prometheus レジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のハンドラを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TotalOps は総操作数を返す
func (m *Metrics) TotalOps() uint64 {
	return m.totalOps.Load()
}

// Reconnects は再接続回数を返す
func (m *Metrics) Reconnects() uint64 {
	return m.reconnects.Load()
}

// OverallOPS は開始からの平均操作数/秒を返す
func (m *Metrics) OverallOPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalOps.Load()) / elapsed
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalOps          uint64        `json:"total_ops"`
	FailedOps         uint64        `json:"failed_ops"`
	ConnectionLostOps uint64        `json:"connection_lost_ops"`
	Reconnects        uint64        `json:"reconnects"`
	Outages           uint64        `json:"outages"`
	Runs              uint64        `json:"runs"`
	OverallOPS        float64       `json:"overall_ops"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalOps:          m.totalOps.Load(),
		FailedOps:         m.failedOps.Load(),
		ConnectionLostOps: m.lostOps.Load(),
		Reconnects:        m.reconnects.Load(),
		Outages:           m.outages.Load(),
		Runs:              m.runs.Load(),
		OverallOPS:        m.OverallOPS(),
		Elapsed:           time.Since(m.startTime),
	}
}
