package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces binding keys.
const DefaultRedisPrefix = "coach:thread"

// RedisBindingStore keeps bindings in Redis so several coach processes share
// them. SETNX gives first-writer-wins.
type RedisBindingStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBindingStore returns a binding store on rdb. Empty prefix uses
// DefaultRedisPrefix.
func NewRedisBindingStore(rdb *redis.Client, prefix string) *RedisBindingStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBindingStore{rdb: rdb, prefix: prefix}
}

func (s *RedisBindingStore) key(workflow, userID string) string {
	return s.prefix + ":" + workflow + ":" + userID
}

// Get implements BindingStore.
func (s *RedisBindingStore) Get(ctx context.Context, userID, workflow string) (Binding, error) {
	raw, err := s.rdb.Get(ctx, s.key(workflow, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Binding{}, ErrBindingNotFound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("redis get binding: %w", err)
	}
	var b Binding
	if err := json.Unmarshal(raw, &b); err != nil {
		return Binding{}, fmt.Errorf("decoding binding: %w", err)
	}
	return b, nil
}

// Insert implements BindingStore.
func (s *RedisBindingStore) Insert(ctx context.Context, b Binding) (Binding, bool, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return Binding{}, false, fmt.Errorf("encoding binding: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(b.Workflow, b.UserID), raw, 0).Result()
	if err != nil {
		return Binding{}, false, fmt.Errorf("redis setnx binding: %w", err)
	}
	if ok {
		return b, true, nil
	}
	stored, err := s.Get(ctx, b.UserID, b.Workflow)
	if err != nil {
		return Binding{}, false, err
	}
	return stored, false, nil
}

// List implements BindingStore.
func (s *RedisBindingStore) List(ctx context.Context, workflow string) ([]Binding, error) {
	var out []Binding
	iter := s.rdb.Scan(ctx, 0, s.prefix+":"+workflow+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get binding: %w", err)
		}
		var b Binding
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decoding binding %s: %w", iter.Val(), err)
		}
		out = append(out, b)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan bindings: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
