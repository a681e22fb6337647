package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spreadarb/internal/config"
	"spreadarb/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, zap.NewNop()), mr
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))

	_, err = New(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestPublishSnapshots(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	err := c.PublishSnapshots(ctx, []models.MarketSnapshot{
		{Venue: "binance", Symbol: "BTCUSDT", BestBid: 100, BestAsk: 100.1, FetchedAt: at},
		{Venue: "bybit", Symbol: "BTCUSDT", BestBid: 101, BestAsk: 101.1, FetchedAt: at},
		{Venue: "bybit", Symbol: "ETHUSDT", BestBid: 10, BestAsk: 10.01, FetchedAt: at},
	})
	require.NoError(t, err)

	latest, err := c.LatestSnapshots(ctx, "btcusdt")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 101.0, latest["bybit"].BestBid)
	assert.True(t, latest["binance"].FetchedAt.Equal(at))

	assert.Equal(t, DefaultSnapshotTTL, mr.TTL(snapshotKey("BTCUSDT")))

	mr.FastForward(DefaultSnapshotTTL + time.Second)
	latest, err = c.LatestSnapshots(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestPublishSnapshots_Empty(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NoError(t, c.PublishSnapshots(context.Background(), nil))
}

func TestLatestSnapshots_SkipsCorrupt(t *testing.T) {
	c, mr := newTestCache(t)
	mr.HSet(snapshotKey("BTCUSDT"), "binance", "{not json")
	mr.HSet(snapshotKey("BTCUSDT"), "bybit", `{"venue":"bybit","symbol":"BTCUSDT","best_bid":1}`)

	latest, err := c.LatestSnapshots(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, latest, 1)
	assert.Contains(t, latest, "bybit")
}

func TestHeartbeat(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	last, err := c.LastHeartbeat(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	at := time.Date(2024, 3, 10, 12, 0, 0, 123, time.UTC)
	require.NoError(t, c.Heartbeat(ctx, at))

	last, err = c.LastHeartbeat(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(at))

	mr.FastForward(DefaultSnapshotTTL + time.Second)
	last, err = c.LastHeartbeat(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "heartbeat must expire when the engine stops")
}

func TestEngineLock(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	lock, err := c.AcquireEngineLock(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, lock.Token())

	_, err = c.AcquireEngineLock(ctx, 30*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	mr.FastForward(20 * time.Second)
	require.NoError(t, lock.Refresh(ctx))
	assert.Equal(t, 30*time.Second, mr.TTL(engineLock))

	lock.Release()
	lock.Release()
	assert.False(t, mr.Exists(engineLock))

	again, err := c.AcquireEngineLock(ctx, 30*time.Second)
	require.NoError(t, err)
	defer again.Release()
}

func TestEngineLock_Lost(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	lock, err := c.AcquireEngineLock(ctx, 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)
	assert.ErrorIs(t, lock.Refresh(ctx), ErrLockLost)

	other, err := c.AcquireEngineLock(ctx, 10*time.Second)
	require.NoError(t, err)

	// Освобождение чужой блокировки не трогает ключ
	lock.Release()
	assert.True(t, mr.Exists(engineLock))
	other.Release()
}
