package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Phase はベンチマークの段階
type Phase int

const (
	PhaseWrite Phase = iota
	PhaseRead
	PhaseUpdate
	PhaseRemove
)

// Phases は実行順の全段階
var Phases = []Phase{PhaseWrite, PhaseRead, PhaseUpdate, PhaseRemove}

func (p Phase) String() string {
	switch p {
	case PhaseWrite:
		return "write"
	case PhaseRead:
		return "read"
	case PhaseUpdate:
		return "update"
	case PhaseRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Verb は詳細行で使う動詞を返す
func (p Phase) Verb() string {
	switch p {
	case PhaseWrite:
		return "Added"
	case PhaseRead:
		return "Read"
	case PhaseUpdate:
		return "Updated"
	case PhaseRemove:
		return "Removed"
	default:
		return "Touched"
	}
}

// 結果ステータス
const (
	StatusSingleSuccess   = "Successfull test. Test performed by one client."
	StatusUnknownDataType = "Unknown redis data type."
	StatusNotConfigured   = "Store is not configured OK. Test failed."
	StatusFailed          = "Test failed."

	StatusFlushed     = "DB flushed."
	StatusFlushFailed = "Ups"
)

// ParallelStatus は並列試験の成功ステータスを返す
func ParallelStatus(clients, totalLoad int) string {
	return fmt.Sprintf("Parallel test successfull. Parallel client count: %d. Total test load: %d. Results are avraged out per client.", clients, totalLoad)
}

// ParallelPartialStatus は一部のクライアントが失敗した並列試験のステータスを返す
func ParallelPartialStatus(clients, failed, totalLoad int) string {
	return fmt.Sprintf("Parallel test finished with %d failed client(s). Parallel client count: %d. Total test load: %d. Results are avraged out per successful client.", failed, clients, totalLoad)
}

// PhaseTimings は各段階の経過ミリ秒（負にならない）
type PhaseTimings struct {
	WriteMs  int64 `json:"writeTime"`
	ReadMs   int64 `json:"readTime"`
	UpdateMs int64 `json:"updateTime"`
	RemoveMs int64 `json:"cleanUpTime"`
}

// Record は段階の経過時間を記録する
func (t *PhaseTimings) Record(p Phase, d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	switch p {
	case PhaseWrite:
		t.WriteMs = ms
	case PhaseRead:
		t.ReadMs = ms
	case PhaseUpdate:
		t.UpdateMs = ms
	case PhaseRemove:
		t.RemoveMs = ms
	}
}

// Get は段階の経過ミリ秒を返す
func (t PhaseTimings) Get(p Phase) int64 {
	switch p {
	case PhaseWrite:
		return t.WriteMs
	case PhaseRead:
		return t.ReadMs
	case PhaseUpdate:
		return t.UpdateMs
	case PhaseRemove:
		return t.RemoveMs
	default:
		return 0
	}
}

// Add は各段階を加算する
func (t *PhaseTimings) Add(o PhaseTimings) {
	t.WriteMs += o.WriteMs
	t.ReadMs += o.ReadMs
	t.UpdateMs += o.UpdateMs
	t.RemoveMs += o.RemoveMs
}

// Divide は各段階を整数除算する（n <= 0 なら何もしない）
func (t *PhaseTimings) Divide(n int) {
	if n <= 0 {
		return
	}
	d := int64(n)
	t.WriteMs /= d
	t.ReadMs /= d
	t.UpdateMs /= d
	t.RemoveMs /= d
}

// Total は全段階の合計
func (t PhaseTimings) Total() int64 {
	return t.WriteMs + t.ReadMs + t.UpdateMs + t.RemoveMs
}

// RunResult は一回の試験結果
type RunResult struct {
	ID            string       `json:"id"`
	Status        string       `json:"testStatus"`
	DataType      string       `json:"dataType,omitempty"`
	LoadPerClient int          `json:"testLoad"`
	Clients       int          `json:"clients"`
	Timings       PhaseTimings `json:"testParams"`
	Details       []string     `json:"details,omitempty"`
	// LostWrites は読み戻しで空だったキー数（Scalar のみ計測）
	LostWrites    int      `json:"lostWriteCount"`
	Reconnects    int      `json:"reconnects"`
	FailedClients []string `json:"failedClients,omitempty"`
}

// New は新しい結果を作成する
func New(load int) *RunResult {
	return &RunResult{
		ID:            uuid.NewString(),
		LoadPerClient: load,
		Clients:       1,
	}
}

// Terminal は作業前に確定した結果（未設定・未知の型など）を作成する
func Terminal(status string) *RunResult {
	return &RunResult{
		ID:     uuid.NewString(),
		Status: status,
	}
}

// AddDetail は詳細行を追加する
func (r *RunResult) AddDetail(format string, args ...any) {
	r.Details = append(r.Details, fmt.Sprintf(format, args...))
}

// PhaseDetail は段階完了の詳細行を追加する
// first と last は段階で実際に触れた最初と最後のキー名
func (r *RunResult) PhaseDetail(clientID string, p Phase, first, last string, elapsed time.Duration) {
	r.AddDetail("Client %s : %s keys %s - %s. Time: %dms.",
		clientID, p.Verb(), first, last, elapsed.Milliseconds())
}

// Merge は他の結果のタイミングと詳細を取り込む
func (r *RunResult) Merge(o *RunResult) {
	if o == nil {
		return
	}
	r.Timings.Add(o.Timings)
	r.Details = append(r.Details, o.Details...)
	r.LostWrites += o.LostWrites
	r.Reconnects += o.Reconnects
	r.FailedClients = append(r.FailedClients, o.FailedClients...)
	if r.DataType == "" {
		r.DataType = o.DataType
	}
}

// Average はタイミングをクライアント数で平均化する
func (r *RunResult) Average(n int) {
	r.Timings.Divide(n)
}

// Failed はいずれかのクライアントが失敗したかを返す
func (r *RunResult) Failed() bool {
	return len(r.FailedClients) > 0
}

// Report は人間向けのレポートを返す
func (r *RunResult) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status:      %s\n", r.Status)
	if r.DataType != "" {
		fmt.Fprintf(&b, "Data type:   %s\n", r.DataType)
	}
	if r.LoadPerClient > 0 {
		fmt.Fprintf(&b, "Load:        %s per client x %d client(s) = %s ops\n",
			humanize.Comma(int64(r.LoadPerClient)), r.Clients,
			humanize.Comma(int64(r.LoadPerClient)*int64(r.Clients)))
	}
	for _, p := range Phases {
		fmt.Fprintf(&b, "  %-7s %8sms\n", p.String()+":", humanize.Comma(r.Timings.Get(p)))
	}
	if r.Reconnects > 0 {
		fmt.Fprintf(&b, "Reconnects:  %d\n", r.Reconnects)
	}
	if r.LostWrites > 0 {
		fmt.Fprintf(&b, "Lost writes: %d\n", r.LostWrites)
	}
	if len(r.FailedClients) > 0 {
		fmt.Fprintf(&b, "Failed:      %s\n", strings.Join(r.FailedClients, ", "))
	}
	for _, d := range r.Details {
		b.WriteString("  ")
		b.WriteString(d)
		b.WriteByte('\n')
	}
	return b.String()
}
