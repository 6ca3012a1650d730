package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey = "presence:online"
	fieldOnline  = "online"
	fieldSeen    = "last_seen"
)

func presenceKey(user domain.UserID) string {
	return fmt.Sprintf("presence:%s", user)
}

// RedisStore mirrors presence into Redis so that last-seen survives restarts
// and can be read by other relay instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore keeps offline records for ttl; zero keeps them forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) SetOnline(ctx context.Context, user domain.UserID) error {
	key := presenceKey(user)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldOnline, "1")
	pipe.Persist(ctx, key)
	pipe.SAdd(ctx, onlineSetKey, string(user))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

func (s *RedisStore) SetOffline(ctx context.Context, p domain.Presence) error {
	seen := p.LastSeenAt
	if seen.IsZero() {
		seen = s.now()
	}
	key := presenceKey(p.UserID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldOnline, "0", fieldSeen, strconv.FormatInt(seen.UnixMilli(), 10))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.SRem(ctx, onlineSetKey, string(p.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, user domain.UserID) (domain.Presence, bool, error) {
	vals, err := s.client.HGetAll(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return domain.Presence{}, false, nil
	}
	if err != nil {
		return domain.Presence{}, false, fmt.Errorf("failed to get presence: %w", err)
	}
	return decode(user, vals), true, nil
}

// Online lists users marked online by any instance.
func (s *RedisStore) Online(ctx context.Context) ([]domain.UserID, error) {
	ids, err := s.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UserID(id))
	}
	return out, nil
}

func decode(user domain.UserID, vals map[string]string) domain.Presence {
	p := domain.Presence{UserID: user, Online: vals[fieldOnline] == "1"}
	if ms, err := strconv.ParseInt(vals[fieldSeen], 10, 64); err == nil {
		p.LastSeenAt = time.UnixMilli(ms).UTC()
	}
	return p
}
