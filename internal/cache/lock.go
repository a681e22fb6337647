package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld - блокировку держит другой процесс
var ErrLockHeld = errors.New("engine lock is held by another process")

// ErrLockLost - блокировка истекла или перехвачена
var ErrLockLost = errors.New("engine lock lost")

// Снимает ключ только если он принадлежит вызывающему
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Продлевает ключ только если он принадлежит вызывающему
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var (
	unlockScript  = redis.NewScript(unlockLua)
	refreshScript = redis.NewScript(refreshLua)
)

// Lock - блокировка единственного движка (SET NX с TTL и токеном uuid)
type Lock struct {
	rdb    *redis.Client
	key    string
	token  string
	ttl    time.Duration
	logger *zap.Logger

	once sync.Once
}

// AcquireEngineLock захватывает блокировку движка на ttl
func (c *Cache) AcquireEngineLock(ctx context.Context, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, engineLock, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire engine lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &Lock{
		rdb:    c.rdb,
		key:    engineLock,
		token:  token,
		ttl:    ttl,
		logger: c.logger,
	}, nil
}

// Token возвращает токен владельца
func (l *Lock) Token() string {
	return l.token
}

// Refresh продлевает блокировку. ErrLockLost если ключ уже не наш.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh engine lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// KeepAlive продлевает блокировку каждые ttl/3 до отмены ctx.
// При потере блокировки вызывает onLost и завершается.
func (l *Lock) KeepAlive(ctx context.Context, onLost func(error)) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("engine lock refresh failed", zap.Error(err))
				if errors.Is(err, ErrLockLost) {
					if onLost != nil {
						onLost(err)
					}
					return
				}
			}
		}
	}
}

// Release снимает блокировку. Повторный вызов ничего не делает.
func (l *Lock) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
			l.logger.Warn("engine lock release failed", zap.Error(err))
		}
	})
}
