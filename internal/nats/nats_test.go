package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/store"
)

type fakeEntry struct {
	jetstream.KeyValueEntry
	value []byte
}

func (e fakeEntry) Value() []byte { return e.value }

type fakeKV struct {
	data   map[string][]byte
	getErr error
	putErr error
}

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{value: v}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	f.data[key] = value
	return uint64(len(f.data)), nil
}

func TestKVStore_ReadWrite(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{data: map[string][]byte{}}
	s := &KVStore{kv: kv}
	ref := store.Ref{Kind: "conversation", Key: "auth0|u1\x00c1", Slot: "thread"}

	_, err := s.Read(ctx, ref)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Write(ctx, ref, []byte(`{"a":1}`)))
	got, err := s.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	for key := range kv.data {
		assert.NotContains(t, key, "|")
		assert.True(t, strings.HasPrefix(key, "conversation."))
	}
}

func TestKVStore_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("no responders")
	s := &KVStore{kv: &fakeKV{data: map[string][]byte{}, getErr: boom, putErr: boom}}
	ref := store.Ref{Kind: "k", Key: "x", Slot: "s"}

	_, err := s.Read(ctx, ref)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Write(ctx, ref, nil), boom)
}

type fakePublisher struct {
	subject string
	payload []byte
	opts    []jetstream.PublishOpt
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject = subject
	f.payload = payload
	f.opts = opts
	return &jetstream.PubAck{Stream: StreamName, Sequence: 1}, nil
}

func TestEventPublisher_Publish(t *testing.T) {
	pub := &fakePublisher{}
	p := &EventPublisher{js: pub}

	err := p.Publish(context.Background(), &model.ConversationEvent{
		ID:             "e1",
		OwnerID:        "user.1",
		ConversationID: "c1",
		Type:           model.EventTypeTimeout,
		Reason:         "deadline exceeded",
	})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub.subject, "conv."))
	assert.True(t, strings.HasSuffix(pub.subject, ".event.timeout"))
	assert.Len(t, strings.Split(pub.subject, "."), 5)

	var ev model.ConversationEvent
	require.NoError(t, json.Unmarshal(pub.payload, &ev))
	assert.Equal(t, "deadline exceeded", ev.Reason)
	assert.Len(t, pub.opts, 1, "event id is used for duplicate detection")
}

func TestEventSubject_AnonymousOwner(t *testing.T) {
	subject := EventSubject("", "c1", model.EventTypeError)

	assert.True(t, strings.HasPrefix(subject, "conv._."))
}

func TestClient_PingWithoutConnection(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsConnected())
	assert.Error(t, c.Ping(context.Background()))
}
