// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/tapserver/models"
)

// KeyValueStore 房间状态使用的键值存储约定
//
// Values are opaque blobs. Get returns ErrKeyNotFound for absent or expired
// keys; any other error is a backend failure. Delete of an absent key is not
// an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, ttl time.Duration, value []byte) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Pinger is implemented by stores that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by stores that do not expire entries on their own.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Archive 已结束回合的持久化记录
type Archive interface {
	SaveRound(ctx context.Context, record *models.RoundRecord) error
	RecentRounds(ctx context.Context, roomID string, limit int) ([]models.RoundRecord, error)
	TopWinners(ctx context.Context, limit int) ([]models.PlayerWins, error)
	Close() error
}

// 错误定义
var (
	ErrKeyNotFound = errors.New("key not found")
)
