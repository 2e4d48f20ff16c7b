package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrConnectionLost はストアとの通信が一時的に失われたことを示す
	ErrConnectionLost = errors.New("connection lost")
	// ErrClosed は Close 済みの接続を使おうとしたことを示す
	ErrClosed = errors.New("store connection closed")
	// ErrNoPrimary は停止対象のプライマリが見つからなかったことを示す
	ErrNoPrimary = errors.New("no reachable primary")
)

// フェイルオーバー中にサーバーが返す一時的なエラー
var transientReplies = []string{"LOADING", "READONLY", "MASTERDOWN", "TRYAGAIN", "CLUSTERDOWN"}

// IsConnectionLost は err が再接続で回復すべきエラーかを判定する
// コンテキストのキャンセルと期限切れは含まない
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "connection pool timeout") {
		return true
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		reply := strings.TrimPrefix(redisErr.Error(), "ERR ")
		for _, prefix := range transientReplies {
			if strings.HasPrefix(reply, prefix) {
				return true
			}
		}
	}
	return false
}

func isUnknownCommand(err error) bool {
	var redisErr redis.Error
	if !errors.As(err, &redisErr) {
		return false
	}
	return strings.Contains(strings.ToLower(redisErr.Error()), "unknown command")
}
