// Package recovery はサンドボックスのノード障害からの自動復旧機能を提供する。
//
// Manager はクラスタ内のノードを定期的に確認し、停止したノードを
// 同じアドレスで再起動し、一時停止中のノードを再開する。
// 障害を検出してから RecoveryDelay が経過するまでは何もしないため、
// その間に実行中の試験は障害を観測できる。
//
// # 使用例
//
//	config := recovery.DefaultConfig()
//	config.RecoveryDelay = 500 * time.Millisecond
//
//	manager := recovery.New(cluster, config)
//	manager.Start(ctx)
//	defer manager.Stop()
package recovery
