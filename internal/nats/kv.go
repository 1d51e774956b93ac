package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/conversation-actors/internal/store"
)

// DefaultStateBucket is the KeyValue bucket holding actor state.
const DefaultStateBucket = "conversation_state"

// kvAPI is the subset of jetstream.KeyValue used by KVStore.
type kvAPI interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVStore is a store.Store backed by a JetStream KeyValue bucket. Each state
// slot is one key; the bucket keeps only the latest revision.
type KVStore struct {
	kv kvAPI
}

// EnsureStateBucket opens the bucket, creating it when it does not exist.
func EnsureStateBucket(ctx context.Context, client *Client, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultStateBucket
	}
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Durable conversation actor state",
			History:     1,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state bucket %q: %w", bucket, err)
	}

	return &KVStore{kv: kv}, nil
}

// NewKVStore wraps an already opened bucket.
func NewKVStore(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

// Read returns the latest value of the slot or store.ErrNotFound.
func (s *KVStore) Read(ctx context.Context, ref store.Ref) ([]byte, error) {
	entry, err := s.kv.Get(ctx, ref.Path("."))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

// Write puts a new revision of the slot.
func (s *KVStore) Write(ctx context.Context, ref store.Ref, data []byte) error {
	_, err := s.kv.Put(ctx, ref.Path("."), data)
	return err
}

var _ store.Store = (*KVStore)(nil)
