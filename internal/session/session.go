// Package session keeps per-conversation chat history so follow-up questions
// can reference earlier turns. Redis backs the production store; an in-memory
// store covers tests and single-node setups without Redis.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ragworks/docqa/internal/answer"
)

const conversationKeyPrefix = "conversation:"

// Store persists conversation turns keyed by session id.
type Store interface {
	Append(ctx context.Context, sessionID string, turns ...answer.Turn) error
	History(ctx context.Context, sessionID string) ([]answer.Turn, error)
}

// NewID returns a fresh session identifier.
func NewID() string { return uuid.NewString() }

// RedisStore keeps each conversation as a Redis list with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps conversations
// forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...answer.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key := conversationKeyPrefix + sessionID
	values := make([]interface{}, len(turns))
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		values[i] = data
	}
	if err := s.client.RPush(ctx, key, values...).Err(); err != nil {
		return err
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, sessionID string) ([]answer.Turn, error) {
	key := conversationKeyPrefix + sessionID
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	turns := make([]answer.Turn, 0, len(raw))
	for _, item := range raw {
		var t answer.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// MemoryStore is a process-local store.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string][]answer.Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: map[string][]answer.Turn{}}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...answer.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[sessionID] = append(s.conversations[sessionID], turns...)
	return nil
}

func (s *MemoryStore) History(_ context.Context, sessionID string) ([]answer.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.conversations[sessionID]
	out := make([]answer.Turn, len(turns))
	copy(out, turns)
	return out, nil
}
