package result

import (
	"context"
	"fmt"
	"sort"
)

// Outcome はワーカー1つ分の完了通知
type Outcome struct {
	ClientID string
	Result   *RunResult
	Err      error
}

// Aggregator はワーカーの結果を1つの結果に集約する
// 単一のゴルーチンから使う（ロック不要）
type Aggregator struct {
	merged  *RunResult
	pending map[string]struct{}
	count   int
	done    bool
}

// NewAggregator は期待するクライアントIDで集約器を作成する
func NewAggregator(load int, clientIDs []string) *Aggregator {
	pending := make(map[string]struct{}, len(clientIDs))
	for _, id := range clientIDs {
		pending[id] = struct{}{}
	}
	merged := New(load)
	merged.Clients = 0
	return &Aggregator{merged: merged, pending: pending}
}

// Add は1つの完了通知を取り込む
func (a *Aggregator) Add(o Outcome) {
	delete(a.pending, o.ClientID)

	if o.Err != nil || o.Result == nil {
		reason := "no result"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		a.merged.FailedClients = append(a.merged.FailedClients, fmt.Sprintf("%s (%s)", o.ClientID, reason))
		if o.Result != nil {
			a.merged.Reconnects += o.Result.Reconnects
			a.merged.Details = append(a.merged.Details, o.Result.Details...)
		}
		return
	}

	a.merged.Merge(o.Result)
	a.count++
}

// Pending はまだ結果を返していないクライアント数
func (a *Aggregator) Pending() int {
	return len(a.pending)
}

// Collect は全クライアントが揃うかコンテキストが終わるまで受信する
// 期限切れで残ったクライアントは FailedClients に記録され、その ID を返す
func (a *Aggregator) Collect(ctx context.Context, ch <-chan Outcome) []string {
	for a.Pending() > 0 {
		select {
		case o := <-ch:
			a.Add(o)
		case <-ctx.Done():
			ids := make([]string, 0, len(a.pending))
			for id := range a.pending {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				a.merged.FailedClients = append(a.merged.FailedClients, fmt.Sprintf("%s (timed out)", id))
				delete(a.pending, id)
			}
			return ids
		}
	}
	return nil
}

// Merged は集約結果を返す
// タイミングは成功したクライアント数で平均化される
func (a *Aggregator) Merged() *RunResult {
	if !a.done {
		a.merged.Clients = a.count
		a.merged.Average(a.count)
		a.done = true
	}
	return a.merged
}
