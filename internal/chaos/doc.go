// Package chaos はフェイルオーバーを誘発する障害注入を提供する。
//
// Injector は負荷サイズに比例したランダムな待ち時間のあとに、
// 現在のプライマリを1回だけ停止させる。実行中のワーカーとは
// 同期しないため、ワーカー側の再接続処理がそのまま試される。
//
// # 停止方法
//
// - kill: SHUTDOWN NOSAVE（サンドボックスではノード停止）
// - suspend: CLIENT PAUSE（サンドボックスではノード一時停止）
// - failover: SENTINEL FAILOVER
//
// # 使用例
//
//	inj := chaos.New(conn, chaos.DefaultConfig())
//	inj.Start(ctx, load)
//	res, err := exec.RunTest(ctx, load)
//	inj.Wait()
//
// テストでは FixedDelay で待ち時間を固定できる。
package chaos
