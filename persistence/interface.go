// persistence/interface.go
package persistence

import (
	"context"
	"errors"
)

// MembershipStore 成员存储接口。写入都是upsert，重复投递无害
type MembershipStore interface {
	RecordJoin(ctx context.Context, uuid string) error
	RecordLeave(ctx context.Context, uuid string) error
	// ResetOnline marks every member offline. The roster lives in memory,
	// so a fresh server starts with nobody joined.
	ResetOnline(ctx context.Context) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
)
