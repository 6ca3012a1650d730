package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	seen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := decode("alice", map[string]string{
		fieldOnline: "0",
		fieldSeen:   "1740830400000",
	})
	assert.Equal(t, domain.UserID("alice"), p.UserID)
	assert.False(t, p.Online)
	assert.Equal(t, seen, p.LastSeenAt)

	p = decode("bob", map[string]string{fieldOnline: "1"})
	assert.True(t, p.Online)
	assert.True(t, p.LastSeenAt.IsZero())
}

// Runs against a live server when DIALTONE_TEST_REDIS_ADDR is set.
func TestRedisStore_Live(t *testing.T) {
	addr := os.Getenv("DIALTONE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DIALTONE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	s := NewRedisStore(client, time.Minute)
	user := domain.UserID("test-" + uuid.NewString())
	t.Cleanup(func() {
		client.Del(ctx, presenceKey(user))
		client.SRem(ctx, onlineSetKey, string(user))
	})

	_, found, err := s.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetOnline(ctx, user))
	p, found, err := s.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, p.Online)
	online, err := s.Online(ctx)
	require.NoError(t, err)
	assert.Contains(t, online, user)

	seen := time.Now().Truncate(time.Millisecond).UTC()
	require.NoError(t, s.SetOffline(ctx, domain.Presence{UserID: user, LastSeenAt: seen}))
	p, found, err = s.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, p.Online)
	assert.Equal(t, seen, p.LastSeenAt)
	online, err = s.Online(ctx)
	require.NoError(t, err)
	assert.NotContains(t, online, user)
}
