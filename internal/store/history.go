package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

// HistoryTTL matches the call-record TTL so a conversation and its routing
// metadata age out together.
const HistoryTTL = time.Hour

// HistoryStore keeps per-conversation message history in a redis list. The
// session key is to-from, so a caller reaching the same business over voice
// and SMS shares one thread.
type HistoryStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewHistoryStore creates a history store with the default TTL.
func NewHistoryStore(rdb *redis.Client) *HistoryStore {
	return &HistoryStore{rdb: rdb, ttl: HistoryTTL}
}

func historyKey(sessionID string) string {
	return "chat-history:" + sessionID
}

// Append pushes messages onto the conversation and refreshes its TTL.
func (s *HistoryStore) Append(ctx context.Context, sessionID string, msgs ...*schema.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal history message: %w", err)
		}
		values = append(values, raw)
	}

	key := historyKey(sessionID)
	if err := s.rdb.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("append history %s: %w", sessionID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("expire history %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the conversation so far, oldest first. A missing key is an
// empty conversation, not an error.
func (s *HistoryStore) Load(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	raws, err := s.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sessionID, err)
	}

	msgs := make([]*schema.Message, 0, len(raws))
	for _, raw := range raws {
		var msg schema.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode history message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}
