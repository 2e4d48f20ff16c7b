// Package metrics provides operation, reconnect and phase metrics for load runs.
//
// Metrics keeps in-process totals in atomic counters and mirrors every
// observation into a private Prometheus registry, which the HTTP surface
// exposes on /metrics.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	m.RecordOp("list", "write", metrics.OutcomeOK)
//	m.RecordReconnect("list")
//	m.ObservePhase("list", "write", elapsed)
//
//	snap := m.Snapshot()
//	fmt.Printf("ops: %d, reconnects: %d\n", snap.TotalOps, snap.Reconnects)
//
//	mux.Handle("GET /metrics", m.Handler())
//
// # Thread Safety
//
// All operations use atomic counters or Prometheus collectors and are safe
// for concurrent access.
package metrics
