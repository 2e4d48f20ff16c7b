package workload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"redis-tester/internal/events"
	"redis-tester/internal/result"
)

// ErrUnknownDataType は未知のデータ型タグを示す
var ErrUnknownDataType = errors.New("unknown redis data type")

// ErrInvalidLoad は負荷サイズが1未満であることを示す
var ErrInvalidLoad = errors.New("load size must be at least 1")

// DataType はベンチマーク対象のデータ型
type DataType int

const (
	Scalar DataType = iota
	List
	Set
	OrderedSet
	HashMap
)

// DataTypes は全データ型
var DataTypes = []DataType{Scalar, List, Set, OrderedSet, HashMap}

func (d DataType) String() string {
	switch d {
	case Scalar:
		return "string"
	case List:
		return "list"
	case Set:
		return "set"
	case OrderedSet:
		return "sortedset"
	case HashMap:
		return "hash"
	default:
		return "unknown"
	}
}

// ParseDataType はデータ型タグを解析する（大文字小文字を区別しない）
func ParseDataType(tag string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "string", "scalar":
		return Scalar, nil
	case "list":
		return List, nil
	case "set":
		return Set, nil
	case "sortedset", "zset", "orderedset":
		return OrderedSet, nil
	case "hash", "hashmap":
		return HashMap, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDataType, tag)
	}
}

// Conn は executor が使う接続
// store.Connection が満たす
type Conn interface {
	GetConnection(ctx context.Context) (redis.UniversalClient, error)
	Refresh(ctx context.Context, stale redis.UniversalClient) (redis.UniversalClient, error)
}

// Recorder は操作単位の計測を受け取る
// metrics.Metrics が満たす
type Recorder interface {
	RecordOp(dataType, phase, outcome string)
	RecordReconnect(dataType string)
	ObservePhase(dataType, phase string, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordOp(string, string, string) {}
func (noopRecorder) RecordReconnect(string) {}
func (noopRecorder) ObservePhase(string, string, time.Duration) {}

// Executor は1クライアント分の4段階ベンチマーク
type Executor interface {
	// RunTest は write, read, update, remove を順に実行する
	RunTest(ctx context.Context, load int) (*result.RunResult, error)
	// RemoveAll は直前の実行のキー空間を削除する（何度呼んでもよい）
	RemoveAll(ctx context.Context) error
	ClientID() string
	DataType() DataType
	KeyPrefix() string
}

// DefaultMaxKeys は Scalar 以外の型が使う最大キー数
const DefaultMaxKeys = 1000

// Options は executor の設定
type Options struct {
	ClientID string // 空なら xid で生成
	MaxKeys  int    // 0 なら DefaultMaxKeys
	Seed     int64  // 0 なら時刻から生成
	RunID    string
	Bus      *events.Bus
	Recorder Recorder
}

// New はデータ型に応じた executor を作成する
func New(dt DataType, conn Conn, opts Options) (Executor, error) {
	var impl typeOps
	switch dt {
	case Scalar:
		impl = scalarOps{}
	case List:
		impl = listOps{}
	case Set:
		impl = setOps{}
	case OrderedSet:
		impl = zsetOps{}
	case HashMap:
		impl = hashOps{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownDataType, int(dt))
	}

	if opts.ClientID == "" {
		opts.ClientID = xid.New().String()
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}

	return newExecutor(dt, conn, opts, impl), nil
}
