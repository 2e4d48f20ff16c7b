// Package scenario は単一・並列の試験実行機能を提供する。
//
// Engine は store.Connection、workload の executor、chaos.Injector、
// worker.Pool を組み合わせて1回の試験を実行し、result.RunResult を返す。
//
// # 実行順序
//
// 記述子の検証、データ型の解決、負荷の検証を先に行い、いずれかが
// 失敗した場合はストアに触れずに終端結果を返す。その後、必要なら
// 障害注入を開始して試験を実行する。
//
// 並列試験では各クライアントが専用の接続を持ち、結果はチャネル経由で
// 1つの集計ループにまとめられる。WorkerTimeout 内に終わらなかった
// クライアントは FailedClients に記録される。
//
// # プリセット
//
// - single: 1クライアント
// - single-failover: 1クライアント + プライマリ停止
// - parallel: ParallelClientCount クライアント
// - parallel-failover: 並列 + プライマリ停止
//
// # 使用例
//
//	engine := scenario.New(scenario.DefaultConfig(), conn)
//	defer engine.Close()
//	res, err := engine.Run(ctx, "parallel-failover", "hash", 1000)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Report())
package scenario
