package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestMemory_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(func() time.Time { return now })
	ctx := context.Background()
	rec := Record{LTV: 82, SentAt: now}

	_, ok, err := m.Get(ctx, "loan-1:ltv_breach")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "loan-1:ltv_breach", rec, time.Hour))
	got, ok, err := m.Get(ctx, "loan-1:ltv_breach")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rec, got)

	now = now.Add(time.Hour)
	_, ok, _ = m.Get(ctx, "loan-1:ltv_breach")
	assert.False(t, ok)
	assert.Zero(t, m.Len())

	require.NoError(t, m.Put(ctx, "forever", rec, 0))
	now = now.Add(1000 * time.Hour)
	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	s := NewRedis(rdb, "")
	ctx := context.Background()
	rec := Record{LTV: 91, SentAt: time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)}

	_, ok, err := s.Get(ctx, "loan-2:overdue")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "loan-2:overdue", rec, 30*time.Minute))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"loan-2:overdue"))
	assert.Equal(t, 30*time.Minute, mr.TTL(DefaultKeyPrefix+"loan-2:overdue"))

	got, ok, err := s.Get(ctx, "loan-2:overdue")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rec.LTV, got.LTV)
	assert.True(t, rec.SentAt.Equal(got.SentAt))

	mr.FastForward(31 * time.Minute)
	_, ok, err = s.Get(ctx, "loan-2:overdue")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_CorruptValue(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	s := NewRedis(rdb, "test:")
	require.NoError(t, mr.Set("test:bad", "not-json"))

	_, _, err := s.Get(context.Background(), "bad")
	assert.Error(t, err)
}

func TestRedis_ServerDown(t *testing.T) {
	mr, rdb := newMiniredisClient(t)
	s := NewRedis(rdb, "")
	mr.Close()

	err := s.Put(context.Background(), "k", Record{LTV: 1}, time.Minute)
	assert.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	mr, _ := newMiniredisClient(t)

	client, err := OpenRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = OpenRedis(mr.Addr(), "", 0)
	assert.Error(t, err)
}
