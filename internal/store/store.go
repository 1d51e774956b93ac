// Package store defines the durable key-value state store used by actors.
//
// State is addressed by an (entity kind, entity key, state slot) triple and is
// always replaced wholesale; there are no partial or field-level writes.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/conversation-actors/pkg/metrics"
)

// ErrNotFound is returned by Read when a slot has never been written.
var ErrNotFound = errors.New("state not found")

// Ref addresses one named state blob.
type Ref struct {
	Kind string
	Key  string
	Slot string
}

// Path renders the ref as a single key using sep between components. The entity
// key is base64url encoded so that arbitrary owner and conversation ids map to
// keys valid for every backend.
func (r Ref) Path(sep string) string {
	return r.Kind + sep + base64.RawURLEncoding.EncodeToString([]byte(r.Key)) + sep + r.Slot
}

func (r Ref) String() string {
	return r.Kind + "/" + r.Key + "/" + r.Slot
}

// Store reads and writes state blobs.
type Store interface {
	// Read returns the blob stored at ref, or ErrNotFound.
	Read(ctx context.Context, ref Ref) ([]byte, error)
	// Write replaces the blob stored at ref.
	Write(ctx context.Context, ref Ref, data []byte) error
}

// Load reads ref and decodes it into a new T. The boolean is false when the
// slot does not exist yet.
func Load[T any](ctx context.Context, s Store, ref Ref) (*T, bool, error) {
	data, err := s.Read(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", ref, err)
	}
	return &v, true, nil
}

// Save encodes v and writes it at ref.
func Save(ctx context.Context, s Store, ref Ref, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ref, err)
	}
	if err := s.Write(ctx, ref, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", ref, err)
	}
	return nil
}

type instrumented struct {
	backend string
	next    Store
}

// Instrument wraps s so every operation is recorded in the state store metrics.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, next: s}
}

func (i *instrumented) Read(ctx context.Context, ref Ref) ([]byte, error) {
	start := time.Now()
	data, err := i.next.Read(ctx, ref)
	recordErr := err
	if errors.Is(err, ErrNotFound) {
		recordErr = nil
	}
	metrics.RecordStoreOp(i.backend, "read", recordErr, time.Since(start).Seconds())
	return data, err
}

func (i *instrumented) Write(ctx context.Context, ref Ref, data []byte) error {
	start := time.Now()
	err := i.next.Write(ctx, ref, data)
	metrics.RecordStoreOp(i.backend, "write", err, time.Since(start).Seconds())
	return err
}
