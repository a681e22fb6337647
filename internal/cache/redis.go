// Package cache публикует последние снимки стаканов и heartbeat движка в Redis
// и держит блокировку, не дающую запустить два движка на одном журнале.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"spreadarb/internal/bot"
	"spreadarb/internal/config"
	"spreadarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ключи:
//
//	spreadarb:snap:{SYMBOL}     - hash venue -> JSON снимка
//	spreadarb:heartbeat         - время последнего цикла (RFC3339Nano)
//	spreadarb:lock:engine       - токен владельца блокировки движка
const (
	keyPrefix    = "spreadarb:"
	heartbeatKey = keyPrefix + "heartbeat"
	engineLock   = keyPrefix + "lock:engine"
)

// DefaultSnapshotTTL - сколько живут опубликованные снимки без обновления
const DefaultSnapshotTTL = 2 * time.Minute

func snapshotKey(symbol string) string {
	return keyPrefix + "snap:" + strings.ToUpper(symbol)
}

// Cache - адаптер Redis для движка
type Cache struct {
	rdb         *redis.Client
	snapshotTTL time.Duration
	logger      *zap.Logger
}

var _ bot.SnapshotCache = (*Cache)(nil)

// New подключается к Redis и проверяет соединение
func New(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return NewFromClient(rdb, logger), nil
}

// NewFromClient оборачивает готовый клиент
func NewFromClient(rdb *redis.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		rdb:         rdb,
		snapshotTTL: DefaultSnapshotTTL,
		logger:      logger.With(zap.String("component", "cache")),
	}
}

// Close закрывает соединение
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Ping проверяет соединение
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PublishSnapshots записывает последние снимки одной транзакцией
func (c *Cache) PublishSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	pipe := c.rdb.TxPipeline()
	touched := make(map[string]struct{})
	for _, s := range snaps {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s/%s: %w", s.Venue, s.Symbol, err)
		}
		key := snapshotKey(s.Symbol)
		pipe.HSet(ctx, key, s.Venue, data)
		touched[key] = struct{}{}
	}
	for key := range touched {
		pipe.Expire(ctx, key, c.snapshotTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshots: %w", err)
	}
	return nil
}

// LatestSnapshots возвращает последние снимки символа по биржам
func (c *Cache) LatestSnapshots(ctx context.Context, symbol string) (map[string]models.MarketSnapshot, error) {
	raw, err := c.rdb.HGetAll(ctx, snapshotKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshots %s: %w", symbol, err)
	}

	out := make(map[string]models.MarketSnapshot, len(raw))
	for venue, data := range raw {
		var s models.MarketSnapshot
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			c.logger.Warn("skipping corrupt snapshot", zap.String("symbol", symbol), zap.String("venue", venue), zap.Error(err))
			continue
		}
		out[venue] = s
	}
	return out, nil
}

// Heartbeat записывает время цикла. Ключ истекает, если движок перестал работать.
func (c *Cache) Heartbeat(ctx context.Context, at time.Time) error {
	if err := c.rdb.Set(ctx, heartbeatKey, at.UTC().Format(time.RFC3339Nano), c.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// LastHeartbeat возвращает время последнего heartbeat, nil если ключ истек
func (c *Cache) LastHeartbeat(ctx context.Context) (*time.Time, error) {
	val, err := c.rdb.Get(ctx, heartbeatKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read heartbeat: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("parse heartbeat %q: %w", val, err)
	}
	return &at, nil
}
