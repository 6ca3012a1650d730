package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/redis/go-redis/v9"
)

func validate(t Token) error {
	if strings.TrimSpace(t.Token) == "" {
		return ErrInvalidToken
	}
	if _, err := ParsePlatform(string(t.Platform)); err != nil {
		return err
	}
	return nil
}

type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[domain.UserID][]Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[domain.UserID][]Token)}
}

func (s *MemoryTokenStore) Add(_ context.Context, user domain.UserID, t Token) error {
	if err := validate(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := slices.DeleteFunc(s.tokens[user], func(x Token) bool { return x.Token == t.Token })
	s.tokens[user] = append(list, t)
	return nil
}

func (s *MemoryTokenStore) List(_ context.Context, user domain.UserID) ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tokens[user]), nil
}

func (s *MemoryTokenStore) Remove(_ context.Context, user domain.UserID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := slices.DeleteFunc(s.tokens[user], func(x Token) bool { return x.Token == token })
	if len(list) == 0 {
		delete(s.tokens, user)
		return nil
	}
	s.tokens[user] = list
	return nil
}

// RedisTokenStore keeps a hash token -> encoded Token per user.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func userTokensKey(user domain.UserID) string {
	return fmt.Sprintf("push:user:%s:tokens", user)
}

func (s *RedisTokenStore) Add(ctx context.Context, user domain.UserID, t Token) error {
	if err := validate(t); err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	key := userTokensKey(user)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, t.Token, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) List(ctx context.Context, user domain.UserID) ([]Token, error) {
	vals, err := s.client.HVals(ctx, userTokensKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list push tokens: %w", err)
	}
	out := make([]Token, 0, len(vals))
	for _, v := range vals {
		var t Token
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisTokenStore) Remove(ctx context.Context, user domain.UserID, token string) error {
	if err := s.client.HDel(ctx, userTokensKey(user), token).Err(); err != nil {
		return fmt.Errorf("failed to remove push token: %w", err)
	}
	return nil
}
