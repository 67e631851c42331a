// Package lock реализует распределённую блокировку на Redis для пакетных задач,
// чтобы сканирование истёкших пробных периодов и рассылку напоминаний выполняла
// только одна реплика.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired блокировка удерживается другим процессом.
var ErrNotAcquired = errors.New("lock is held by another process")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker выдаёт блокировки с ключами в общем пространстве имён.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// Lock захваченная блокировка.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// New создаёт Locker поверх клиента Redis.
func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client, prefix: "lock:"}
}

// Acquire пытается захватить блокировку name на ttl. Если она занята,
// возвращает ErrNotAcquired.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	const op = "lock.Acquire"
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, name, ErrNotAcquired)
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release снимает блокировку, только если она всё ещё принадлежит владельцу.
func (lk *Lock) Release(ctx context.Context) error {
	const op = "lock.Release"
	if err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
