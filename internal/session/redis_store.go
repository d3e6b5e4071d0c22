// Package session provides the Redis-backed durable store for gateway
// sessions: mood state, transcript and rate-limit windows.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

// RedisStore keeps per-session state under cluppo:* keys. State and
// transcript expire after gateway.SessionTTL without a touch.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	cap    int
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "cluppo:",
		ttl:    gateway.SessionTTL,
		cap:    transcript.ServerCap,
	}
}

func (s *RedisStore) stateKey(sessionID string) string {
	return s.prefix + "state:" + sessionID
}

func (s *RedisStore) transcriptKey(sessionID string) string {
	return s.prefix + "transcript:" + sessionID
}

func (s *RedisStore) rateKey(sessionID string, window int64) string {
	return fmt.Sprintf("%sratelimit:%s:%d", s.prefix, sessionID, window)
}

// LoadState returns the stored state, or defaults when none exists.
func (s *RedisStore) LoadState(ctx context.Context, sessionID string) (gateway.SessionState, error) {
	raw, err := s.client.Get(ctx, s.stateKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return gateway.DefaultSessionState(), nil
	}
	if err != nil {
		return gateway.SessionState{}, fmt.Errorf("load session state: %w", err)
	}

	state := gateway.DefaultSessionState()
	if err := json.Unmarshal(raw, &state); err != nil {
		return gateway.SessionState{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}

// SaveState overwrites the state and refreshes its TTL.
func (s *RedisStore) SaveState(ctx context.Context, sessionID string, state gateway.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.client.Set(ctx, s.stateKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// AppendTranscript pushes entry, trims the list to the newest entries and
// returns what is left.
func (s *RedisStore) AppendTranscript(ctx context.Context, sessionID string, entry transcript.Entry) ([]transcript.Entry, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript entry: %w", err)
	}
	key := s.transcriptKey(sessionID)
	var rng *redis.StringSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.cap), -1)
		pipe.Expire(ctx, key, s.ttl)
		rng = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append transcript: %w", err)
	}
	return decodeEntries(rng.Val())
}

// Transcript returns the stored entries, oldest first.
func (s *RedisStore) Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	items, err := s.client.LRange(ctx, s.transcriptKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return decodeEntries(items)
}

func decodeEntries(items []string) ([]transcript.Entry, error) {
	out := make([]transcript.Entry, 0, len(items))
	for _, item := range items {
		var e transcript.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshal transcript entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Hit counts one request against the session's current fixed window.
func (s *RedisStore) Hit(ctx context.Context, sessionID string, limit int, window time.Duration, now time.Time) (gateway.RateDecision, error) {
	key := s.rateKey(sessionID, gateway.Window(now, window))
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return gateway.RateDecision{}, fmt.Errorf("rate limit: %w", err)
	}
	count := incr.Val()
	decision := gateway.RateDecision{Allowed: count <= int64(limit), Count: count}
	if !decision.Allowed {
		decision.RetryIn = gateway.RetryIn(now, window)
	}
	return decision, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
