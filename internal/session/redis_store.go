package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "motorpool:session:"

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// envelope is the JSON document stored under each session key.
type envelope struct {
	Step        Step            `json:"step"`
	ChatID      string          `json:"chat_id"`
	RequestCode string          `json:"request_code,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RedisStoreOpts configures a RedisStore.
type RedisStoreOpts struct {
	Client    redisClient
	KeyPrefix string        // default "motorpool:session:"
	TTL       time.Duration // zero keeps sessions until deleted
}

// RedisStore keeps sessions in Redis, one key per user.
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore returns a Store backed by Redis.
func NewRedisStore(opts RedisStoreOpts) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("session: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: opts.Client, prefix: prefix, ttl: opts.TTL, now: time.Now}, nil
}

func (s *RedisStore) key(userID string) string { return s.prefix + userID }

// Get loads the session for userID.
func (s *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", userID, err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, userID, err)
	}
	st, err := Decode(env.Step, string(env.Payload))
	if err != nil {
		return nil, err
	}
	return &Session{
		UserID:      userID,
		ChatID:      env.ChatID,
		RequestCode: env.RequestCode,
		State:       st,
		UpdatedAt:   env.UpdatedAt,
	}, nil
}

// Set writes the session, refreshing its TTL.
func (s *RedisStore) Set(ctx context.Context, sess *Session) error {
	if sess == nil || sess.UserID == "" {
		return fmt.Errorf("session: user id is required")
	}
	step, payload, err := Encode(sess.State)
	if err != nil {
		return err
	}
	sess.UpdatedAt = s.now()
	data, err := json.Marshal(envelope{
		Step:        step,
		ChatID:      sess.ChatID,
		RequestCode: sess.RequestCode,
		Payload:     json.RawMessage(payload),
		UpdatedAt:   sess.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.UserID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: set %s: %w", sess.UserID, err)
	}
	return nil
}

// Delete removes the session for userID.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", userID, err)
	}
	return nil
}
