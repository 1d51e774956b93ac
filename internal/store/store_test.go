package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thread struct {
	Owner    string   `json:"owner"`
	Messages []string `json:"messages"`
}

func TestLoad_Missing(t *testing.T) {
	s := NewMemoryStore()

	v, ok, err := Load[thread](context.Background(), s, Ref{Kind: "conversation", Key: "a", Slot: "thread"})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestSaveLoad_ReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := Ref{Kind: "conversation", Key: "owner|conv", Slot: "thread"}

	require.NoError(t, Save(ctx, s, ref, thread{Owner: "o", Messages: []string{"a", "b"}}))
	require.NoError(t, Save(ctx, s, ref, thread{Owner: "o", Messages: []string{"c"}}))

	v, ok, err := Load[thread](ctx, s, ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, v.Messages)
	assert.Equal(t, 1, s.Len())
}

func TestLoad_CorruptBlob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := Ref{Kind: "index", Key: "u1", Slot: "pages"}
	require.NoError(t, s.Write(ctx, ref, []byte("{not json")))

	_, _, err := Load[thread](ctx, s, ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := Ref{Kind: "k", Key: "x", Slot: "s"}
	data := []byte("abc")
	require.NoError(t, s.Write(ctx, ref, data))
	data[0] = 'z'

	got, err := s.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRefPath_EncodesKey(t *testing.T) {
	ref := Ref{Kind: "conversation", Key: "auth0|user 1/conv", Slot: "thread"}

	p := ref.Path(".")

	assert.True(t, strings.HasPrefix(p, "conversation."))
	assert.True(t, strings.HasSuffix(p, ".thread"))
	assert.NotContains(t, p, "|")
	assert.NotContains(t, p, " ")
	assert.NotContains(t, p, "/")
	assert.NotEqual(t, ref.Path("."), Ref{Kind: "conversation", Key: "other", Slot: "thread"}.Path("."))
}

func TestInstrument_PassesThrough(t *testing.T) {
	ctx := context.Background()
	s := Instrument("memory", NewMemoryStore())
	ref := Ref{Kind: "k", Key: "x", Slot: "s"}

	_, err := s.Read(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, ref, []byte("1")))
	got, err := s.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}
