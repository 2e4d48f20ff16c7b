// Package result は試験結果の型と集約を提供する
//
// RunResult は段階ごとの経過ミリ秒（PhaseTimings）と、クライアントごとの
// 詳細行を持つ。並列試験では Aggregator が各ワーカーの Outcome を
// チャネルから受け取り、成功したワーカー数で平均化する。
package result
