package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
	"github.com/capitalize-ai/conversation-actors/pkg/metrics"
	"github.com/capitalize-ai/conversation-actors/pkg/tracing"
)

const (
	DefaultMaxRounds = 5
	DefaultDeadline  = 2 * time.Minute
)

// Options configures an Engine.
type Options struct {
	// MaxRounds caps agent invocations per run.
	MaxRounds int
	// Deadline caps the wall-clock duration of a run.
	Deadline time.Duration
	// Reducer coerces the final message; defaults to TextReducer.
	Reducer Reducer
	Logger  *logger.Logger
}

// Engine turns one utterance into one reply under a round cap and a deadline.
// It holds no per-run state and is safe for concurrent use.
type Engine struct {
	policy    TurnPolicy
	reducer   Reducer
	maxRounds int
	deadline  time.Duration
	logger    *logger.Logger
	tracer    trace.Tracer
}

// NewEngine validates policy and builds an engine.
func NewEngine(policy TurnPolicy, opts Options) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.Reducer == nil {
		opts.Reducer = TextReducer{}
	}

	return &Engine{
		policy:    policy,
		reducer:   opts.Reducer,
		maxRounds: opts.MaxRounds,
		deadline:  opts.Deadline,
		logger:    logger.OrNop(opts.Logger).Named("orchestration"),
		tracer:    tracing.Tracer(),
	}, nil
}

// Policy returns the engine's turn policy kind.
func (e *Engine) Policy() PolicyKind {
	return e.policy.Kind
}

// Request is the input of one run.
type Request struct {
	Utterance   string
	Attachments []model.Attachment
	// Token is the conversation's continuation token. Every agent in the run
	// resumes from it, so only the last agent's dialogue update is kept.
	Token json.RawMessage
}

// Reply is the output of a successful run.
type Reply struct {
	Message model.Message
	// Token is the continuation token returned by the last agent that
	// produced one, or the request token if none did.
	Token      json.RawMessage
	Rounds     int
	Transcript []Turn
}

type invocation struct {
	result Result
	err    error
}

// Run drives the exchange. It fails with ErrTimeout when the deadline passes,
// an *InvocationError when an agent fails and a *ReductionError when the final
// output cannot be reduced.
func (e *Engine) Run(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "orchestration.run", trace.WithAttributes(
		attribute.String("orchestration.policy", string(e.policy.Kind)),
		attribute.Int("orchestration.max_rounds", e.maxRounds),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeoutCause(ctx, e.deadline, ErrTimeout)
	defer cancel()

	run := &Run{
		Utterance:   req.Utterance,
		Attachments: req.Attachments,
		Agents:      e.policy.Agents,
		Deadline:    start.Add(e.deadline),
	}

	reply, err := e.drive(runCtx, run, req.Token)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrReduction):
		outcome = "reduction_error"
	default:
		outcome = "error"
	}
	metrics.RecordOrchestration(string(e.policy.Kind), outcome, time.Since(start).Seconds(), run.Round)
	span.SetAttributes(attribute.Int("orchestration.rounds", run.Round))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		e.logger.Warn("orchestration failed",
			zap.String("outcome", outcome),
			zap.Int("rounds", run.Round),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Debug("orchestration finished",
		zap.Int("rounds", run.Round),
		zap.Duration("elapsed", time.Since(start)),
	)
	return reply, nil
}

func (e *Engine) drive(ctx context.Context, run *Run, base json.RawMessage) (*Reply, error) {
	token := base

	for run.Round < e.maxRounds {
		if err := e.expired(ctx); err != nil {
			return nil, err
		}

		agent, done, err := e.policy.selectNext(ctx, run)
		if err != nil {
			if expired := e.expired(ctx); expired != nil {
				return nil, expired
			}
			return nil, err
		}
		if done {
			break
		}

		result, err := e.invoke(ctx, agent, run.input(), base)
		if err != nil {
			return nil, err
		}

		run.Round++
		run.Transcript = append(run.Transcript, result.Turns...)
		if result.Token != nil {
			token = result.Token
		}

		e.logger.Debug("orchestration round completed",
			zap.String("agent", agent.Name()),
			zap.Int("round", run.Round),
			zap.Int("turns", len(result.Turns)),
		)
	}

	if err := e.expired(ctx); err != nil {
		return nil, err
	}

	msg, err := e.reduce(ctx, run)
	if err != nil {
		return nil, err
	}

	return &Reply{
		Message:    msg,
		Token:      token,
		Rounds:     run.Round,
		Transcript: run.Transcript,
	}, nil
}

// invoke calls the agent without blocking past the deadline. An invocation
// still running when ctx ends is abandoned and its result discarded.
func (e *Engine) invoke(ctx context.Context, agent Agent, in Input, token json.RawMessage) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "orchestration.round", trace.WithAttributes(
		attribute.String("agent.name", agent.Name()),
		attribute.Int("orchestration.round", in.Round),
	))
	defer span.End()

	start := time.Now()
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		result, err := agent.Invoke(ctx, in, token)
		done <- invocation{result: result, err: err}
	}()

	var out invocation
	select {
	case out = <-done:
	case <-ctx.Done():
		metrics.AgentInvocationDuration.WithLabelValues(agent.Name(), "abandoned").Observe(time.Since(start).Seconds())
		err := e.expired(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "abandoned")
		return Result{}, err
	}

	if out.err != nil {
		metrics.AgentInvocationDuration.WithLabelValues(agent.Name(), "error").Observe(time.Since(start).Seconds())
		if expired := e.expired(ctx); expired != nil {
			return Result{}, expired
		}
		span.RecordError(out.err)
		span.SetStatus(codes.Error, "invocation failed")
		return Result{}, &InvocationError{Agent: agent.Name(), Round: in.Round, Err: out.err}
	}

	metrics.AgentInvocationDuration.WithLabelValues(agent.Name(), "ok").Observe(time.Since(start).Seconds())
	return out.result, nil
}

func (e *Engine) reduce(ctx context.Context, run *Run) (model.Message, error) {
	last, ok := run.LastTurn()
	if !ok {
		return model.Message{}, &ReductionError{Err: errEmptyOutput}
	}

	msg, err := e.reducer.Reduce(ctx, last.Text)
	if err != nil {
		if expired := e.expired(ctx); expired != nil {
			return model.Message{}, expired
		}
		var re *ReductionError
		if errors.As(err, &re) {
			return model.Message{}, re
		}
		return model.Message{}, &ReductionError{Raw: last.Text, Err: err}
	}

	msg.Role = model.RoleAssistant
	if msg.Attachments == nil {
		msg.Attachments = []model.Attachment{}
	}
	return msg, nil
}

// expired maps the end of ctx to the run's error: ErrTimeout when the run
// deadline passed, the parent's error otherwise.
func (e *Engine) expired(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
		return fmt.Errorf("%w after %s", ErrTimeout, e.deadline)
	}
	return ctx.Err()
}
