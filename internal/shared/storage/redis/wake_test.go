package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestWakeFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Wake(ctx, "user-1"))
	require.NoError(t, s.Wake(ctx, "user-2"))

	got, err := s.WaitWake(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)

	got, err = s.WaitWake(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "user-2", got)
}

func TestWaitWakeTimeout(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.WaitWake(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWakeBacklogCapped(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < maxWakeBacklog+10; i++ {
		require.NoError(t, s.Wake(ctx, "u"))
	}
	items, err := mr.List(KeyLifecycleWake)
	require.NoError(t, err)
	assert.Len(t, items, maxWakeBacklog)
}
