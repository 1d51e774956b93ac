// Package redis provides a Redis-backed state store.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/conversation-actors/internal/store"
)

const defaultPrefix = "state"

// Store keeps each state slot in one Redis string key.
type Store struct {
	client *goredis.Client
	prefix string
}

// Connect parses a Redis URL, connects and verifies the connection.
func Connect(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis state store: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis state store: ping failed: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(ref store.Ref) string {
	return s.prefix + ":" + ref.Path(":")
}

// Read returns the blob at ref or store.ErrNotFound.
func (s *Store) Read(ctx context.Context, ref store.Ref) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(ref)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write replaces the blob at ref. State never expires.
func (s *Store) Write(ctx context.Context, ref store.Ref, data []byte) error {
	return s.client.Set(ctx, s.key(ref), data, 0).Err()
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)
