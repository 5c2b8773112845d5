// Package store holds the persistence layer: redis for call routing records
// and conversation history, postgres for business data.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steven-haddix/nomnom/internal/model/call"
)

// ErrNotFound is returned when a keyed record is absent or already expired.
var ErrNotFound = errors.New("record not found")

// CallRecordTTL bounds how long routing metadata survives after call init.
// The record is never deleted explicitly; it ages out on its own.
const CallRecordTTL = time.Hour

// NewRedisClient connects a go-redis client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// CallStore persists call routing records as TTL-bound redis hashes.
type CallStore struct {
	rdb *redis.Client
}

// NewCallStore creates a call record store over the shared redis client.
func NewCallStore(rdb *redis.Client) *CallStore {
	return &CallStore{rdb: rdb}
}

func callKey(callID string) string {
	return "voice-call:" + callID
}

// SaveCall writes the routing record. A later save for the same id overwrites
// the earlier one.
func (s *CallStore) SaveCall(ctx context.Context, rec call.Record) error {
	fields := map[string]any{
		"callId":   rec.CallID,
		"to":       rec.To,
		"from":     rec.From,
		"provider": string(rec.Provider),
	}
	if err := s.rdb.HSet(ctx, callKey(rec.CallID), fields).Err(); err != nil {
		return fmt.Errorf("save call record %s: %w", rec.CallID, err)
	}
	return nil
}

// FetchCall reads the routing record for a call id.
func (s *CallStore) FetchCall(ctx context.Context, callID string) (call.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, callKey(callID)).Result()
	if err != nil {
		return call.Record{}, fmt.Errorf("fetch call record %s: %w", callID, err)
	}
	if len(fields) == 0 {
		return call.Record{}, fmt.Errorf("call record %s: %w", callID, ErrNotFound)
	}
	return call.Record{
		CallID:   fields["callId"],
		To:       fields["to"],
		From:     fields["from"],
		Provider: call.Provider(fields["provider"]),
	}, nil
}

// ExpireCall arms the record's TTL.
func (s *CallStore) ExpireCall(ctx context.Context, callID string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, callKey(callID), ttl).Err(); err != nil {
		return fmt.Errorf("expire call record %s: %w", callID, err)
	}
	return nil
}
