// Package actor hosts keyed, lazily activated actors.
//
// A Host keeps an explicit registry of activations. Each key owns a mailbox
// drained by a single goroutine, so work addressed to one key runs one item at
// a time in arrival order while different keys run in parallel. Activations
// idle for longer than the configured TTL are evicted; the next message for the
// key activates it again, which reloads its persisted state.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/pkg/logger"
	"github.com/capitalize-ai/conversation-actors/pkg/metrics"
)

// ErrHostClosed is returned by Do after Close has been called.
var ErrHostClosed = errors.New("actor host closed")

// Activator creates the actor for key. It runs on the key's goroutine before
// the first work item, and again after every eviction.
type Activator[K comparable, A any] func(ctx context.Context, key K) (A, error)

// Deactivator is called once when an activated actor is evicted or the host closes.
type Deactivator[K comparable, A any] func(ctx context.Context, key K, actor A)

// Options configures a Host.
type Options struct {
	// Kind labels logs and metrics, e.g. "conversation".
	Kind string
	// IdleTTL is how long an activation may sit idle before eviction.
	IdleTTL time.Duration
	// SweepInterval is how often idle activations are looked for. Zero disables
	// the background sweeper; Sweep can still be called directly.
	SweepInterval time.Duration
	// MailboxSize is the buffered capacity of each key's mailbox.
	MailboxSize int
	Logger      *logger.Logger
}

const (
	defaultIdleTTL     = 30 * time.Minute
	defaultMailboxSize = 16
)

type envelope[A any] struct {
	ctx  context.Context
	fn   func(context.Context, A) error
	done chan error
}

type activation[K comparable, A any] struct {
	key      K
	mailbox  chan envelope[A]
	pending  int
	lastUsed time.Time
	retiring bool

	// owned by the activation goroutine
	actor  A
	active bool
}

// Host is a keyed registry of single-consumer activations.
type Host[K comparable, A any] struct {
	kind        string
	idleTTL     time.Duration
	mailboxSize int
	activate    Activator[K, A]
	deactivate  Deactivator[K, A]
	logger      *logger.Logger
	now         func() time.Time

	mu          sync.Mutex
	activations map[K]*activation[K, A]
	closed      bool

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewHost creates a host and starts its idle sweeper.
func NewHost[K comparable, A any](opts Options, activate Activator[K, A], deactivate Deactivator[K, A]) *Host[K, A] {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.Kind == "" {
		opts.Kind = "actor"
	}

	h := &Host[K, A]{
		kind:        opts.Kind,
		idleTTL:     opts.IdleTTL,
		mailboxSize: opts.MailboxSize,
		activate:    activate,
		deactivate:  deactivate,
		logger:      logger.OrNop(opts.Logger).Named(opts.Kind + "-host"),
		now:         time.Now,
		activations: make(map[K]*activation[K, A]),
		stop:        make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go h.sweepLoop(opts.SweepInterval)
	}

	return h
}

// Do delivers fn to the actor for key and waits for it to finish. Work for the
// same key never overlaps. If ctx ends before fn starts, fn is skipped.
func (h *Host[K, A]) Do(ctx context.Context, key K, fn func(ctx context.Context, actor A) error) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed
	}
	act, ok := h.activations[key]
	if !ok {
		act = &activation[K, A]{
			key:      key,
			mailbox:  make(chan envelope[A], h.mailboxSize),
			lastUsed: h.now(),
		}
		h.activations[key] = act
		h.wg.Add(1)
		go h.run(act)
	}
	act.pending++
	h.mu.Unlock()

	env := envelope[A]{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case act.mailbox <- env:
	case <-ctx.Done():
		h.release(act)
		return ctx.Err()
	}

	select {
	case err := <-env.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of keys with a live activation.
func (h *Host[K, A]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activations)
}

// Sweep evicts activations that have been idle for at least the idle TTL and
// have nothing queued. It returns the number of evicted keys.
func (h *Host[K, A]) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	evicted := 0
	for key, act := range h.activations {
		if act.pending == 0 && now.Sub(act.lastUsed) >= h.idleTTL {
			delete(h.activations, key)
			close(act.mailbox)
			evicted++
		}
	}
	return evicted
}

// Close stops accepting work, lets queued work finish and deactivates every
// actor. It returns ctx.Err() if ctx ends first.
func (h *Host[K, A]) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.stop)
	for key, act := range h.activations {
		delete(h.activations, key)
		if act.pending == 0 {
			close(act.mailbox)
		} else {
			act.retiring = true
		}
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host[K, A]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				h.logger.Debug("evicted idle actors", zap.Int("count", n))
			}
		}
	}
}

// release marks one queued or finished item as no longer pending.
func (h *Host[K, A]) release(act *activation[K, A]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	act.pending--
	act.lastUsed = h.now()
	if act.retiring && act.pending == 0 {
		close(act.mailbox)
	}
}

func (h *Host[K, A]) run(act *activation[K, A]) {
	defer h.wg.Done()

	for env := range act.mailbox {
		env.done <- h.process(act, env)
		h.release(act)
	}

	if act.active {
		if h.deactivate != nil {
			h.deactivate(context.Background(), act.key, act.actor)
		}
		metrics.ActorsActive.WithLabelValues(h.kind).Dec()
		h.logger.Debug("actor deactivated", zap.Any("key", act.key))
	}
}

func (h *Host[K, A]) process(act *activation[K, A], env envelope[A]) (err error) {
	if err := env.ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("actor panicked", zap.Any("key", act.key), zap.Any("panic", r))
			err = fmt.Errorf("%s actor panicked: %v", h.kind, r)
		}
	}()

	if !act.active {
		a, err := h.activate(env.ctx, act.key)
		if err != nil {
			metrics.ActorActivationsTotal.WithLabelValues(h.kind, "error").Inc()
			h.logger.Warn("actor activation failed", zap.Any("key", act.key), zap.Error(err))
			return fmt.Errorf("failed to activate %s actor: %w", h.kind, err)
		}
		act.actor = a
		act.active = true
		metrics.ActorActivationsTotal.WithLabelValues(h.kind, "ok").Inc()
		metrics.ActorsActive.WithLabelValues(h.kind).Inc()
		h.logger.Debug("actor activated", zap.Any("key", act.key))
	}

	return env.fn(env.ctx, act.actor)
}
