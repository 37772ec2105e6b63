package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Records stores JSON values of type T under "<namespace>:<key>". Peer
// nodes use it for presence records that expire unless refreshed.
type Records[T any] struct {
	client    *Client
	namespace string
}

// NewRecords returns a store for keys under namespace.
func NewRecords[T any](client *Client, namespace string) *Records[T] {
	return &Records[T]{client: client, namespace: namespace}
}

func (s *Records[T]) key(k string) string { return s.namespace + ":" + k }

// Put writes v under k. A zero ttl keeps it until deleted.
func (s *Records[T]) Put(ctx context.Context, k string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key(k), err)
	}
	if err := s.client.Set(ctx, s.key(k), data, ttl); err != nil {
		return fmt.Errorf("put %s: %w", s.key(k), err)
	}
	return nil
}

// Get reads k. A missing or expired record returns ok == false.
func (s *Records[T]) Get(ctx context.Context, k string) (v T, ok bool, err error) {
	raw, err := s.client.Get(ctx, s.key(k))
	switch {
	case errors.Is(err, goredis.Nil):
		return v, false, nil
	case err != nil:
		return v, false, fmt.Errorf("get %s: %w", s.key(k), err)
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", s.key(k), err)
	}
	return v, true, nil
}

// Delete removes k. Deleting a missing record is not an error.
func (s *Records[T]) Delete(ctx context.Context, k string) error {
	if err := s.client.Del(ctx, s.key(k)); err != nil {
		return fmt.Errorf("delete %s: %w", s.key(k), err)
	}
	return nil
}

// All reads every record in the namespace with one SCAN and one MGET.
// Records that expire in between are left out.
func (s *Records[T]) All(ctx context.Context) (map[string]T, error) {
	keys, err := s.client.Keys(ctx, s.namespace+":*")
	if err != nil || len(keys) == 0 {
		return map[string]T{}, err
	}
	vals, err := s.client.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.namespace, err)
	}

	out := make(map[string]T, len(keys))
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out[strings.TrimPrefix(keys[i], s.namespace+":")] = v
	}
	return out, nil
}
