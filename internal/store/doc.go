// Package store はストアへの接続ハンドルの所有と再構築を提供する
//
// Connection は go-redis のハンドルを遅延作成し、接続断のあとは
// Reconnect または Refresh で作り直す。グローバル状態は持たず、
// 呼び出し側が作成して Close する。
//
//	conn := store.New(desc)
//	defer conn.Close()
//
//	client, err := conn.GetConnection(ctx)
//	if err := client.Set(ctx, "k", 1, 0).Err(); store.IsConnectionLost(err) {
//		client, err = conn.Refresh(ctx, client)
//	}
//
// InjectPrimaryOutage と FlushAll は Topology が返す Endpoint を走査し、
// 到達可能なプライマリだけを対象にする。
package store
