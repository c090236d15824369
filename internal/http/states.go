package http

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateStore holds OAuth state nonces between the auth-URL request and the
// provider callback. States are one-shot: Consume removes the nonce and
// returns the provider it was issued for.
type stateStore interface {
	Store(ctx context.Context, state, provider string) error
	Consume(ctx context.Context, state string) (provider string, ok bool, err error)
}

type redisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func oauthStateKey(state string) string {
	return "oauth:state:" + state
}

func (s *redisStateStore) Store(ctx context.Context, state, provider string) error {
	return s.client.Set(ctx, oauthStateKey(state), provider, s.ttl).Err()
}

func (s *redisStateStore) Consume(ctx context.Context, state string) (string, bool, error) {
	provider, err := s.client.GetDel(ctx, oauthStateKey(state)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return provider, true, nil
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]stateEntry
	ttl    time.Duration
}

type stateEntry struct {
	provider  string
	expiresAt time.Time
}

func newMemoryStateStore(ttl time.Duration) *memoryStateStore {
	return &memoryStateStore{states: make(map[string]stateEntry), ttl: ttl}
}

func (s *memoryStateStore) Store(_ context.Context, state, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, entry := range s.states {
		if entry.expiresAt.Before(now) {
			delete(s.states, key)
		}
	}
	s.states[state] = stateEntry{provider: provider, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *memoryStateStore) Consume(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[state]
	if !ok {
		return "", false, nil
	}
	delete(s.states, state)
	if entry.expiresAt.Before(time.Now()) {
		return "", false, nil
	}
	return entry.provider, true, nil
}
