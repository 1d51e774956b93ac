package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/conversation-actors/internal/model"
)

// PolicyKind names a turn-taking strategy.
type PolicyKind string

const (
	PolicySingle     PolicyKind = "single"
	PolicyRoundRobin PolicyKind = "round_robin"
	PolicyManager    PolicyKind = "manager"
)

// Decision is a manager's choice of the next speaker.
type Decision struct {
	Next string
	Done bool
}

// Manager picks the next speaker of a manager-driven run from the evolving
// transcript.
type Manager interface {
	Decide(ctx context.Context, run *Run) (Decision, error)
}

// ManagerFunc adapts a function to the Manager interface.
type ManagerFunc func(ctx context.Context, run *Run) (Decision, error)

func (f ManagerFunc) Decide(ctx context.Context, run *Run) (Decision, error) {
	return f(ctx, run)
}

// TurnPolicy decides which agent speaks next and when a run is complete.
//
//	Single:        Agents[0] speaks once.
//	RoundRobin:    each agent speaks once, in order.
//	ManagerDriven: Manager picks among Agents until it reports done.
type TurnPolicy struct {
	Kind    PolicyKind
	Agents  []Agent
	Manager Manager
}

// Single invokes one agent directly.
func Single(agent Agent) TurnPolicy {
	return TurnPolicy{Kind: PolicySingle, Agents: []Agent{agent}}
}

// RoundRobin makes a single pass over agents.
func RoundRobin(agents ...Agent) TurnPolicy {
	return TurnPolicy{Kind: PolicyRoundRobin, Agents: agents}
}

// ManagerDriven lets manager choose the speaker of every round.
func ManagerDriven(manager Manager, agents ...Agent) TurnPolicy {
	return TurnPolicy{Kind: PolicyManager, Manager: manager, Agents: agents}
}

// Validate reports configuration errors.
func (p TurnPolicy) Validate() error {
	if len(p.Agents) == 0 {
		return ErrNoAgents
	}
	for i, a := range p.Agents {
		if a == nil {
			return fmt.Errorf("agent %d is nil", i)
		}
	}
	switch p.Kind {
	case PolicySingle, PolicyRoundRobin:
	case PolicyManager:
		if p.Manager == nil {
			return fmt.Errorf("manager-driven policy requires a manager")
		}
	default:
		return fmt.Errorf("unknown turn policy %q", p.Kind)
	}
	return nil
}

// Run is the ephemeral state of one orchestration invocation.
type Run struct {
	Utterance   string
	Attachments []model.Attachment
	Agents      []Agent
	Transcript  []Turn
	// Round counts completed agent invocations.
	Round    int
	Deadline time.Time
}

// Agent returns the participant called name.
func (r *Run) Agent(name string) (Agent, bool) {
	for _, a := range r.Agents {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// LastTurn returns the most recent turn, if any.
func (r *Run) LastTurn() (Turn, bool) {
	if len(r.Transcript) == 0 {
		return Turn{}, false
	}
	return r.Transcript[len(r.Transcript)-1], true
}

func (r *Run) input() Input {
	transcript := make([]Turn, len(r.Transcript))
	copy(transcript, r.Transcript)
	return Input{
		Utterance:   r.Utterance,
		Attachments: r.Attachments,
		Transcript:  transcript,
		Round:       r.Round + 1,
	}
}

// selectNext returns the agent for the next round, or done when the policy
// considers the run complete. A run always gets at least one round.
func (p TurnPolicy) selectNext(ctx context.Context, run *Run) (Agent, bool, error) {
	switch p.Kind {
	case PolicySingle:
		if run.Round > 0 {
			return nil, true, nil
		}
		return p.Agents[0], false, nil

	case PolicyRoundRobin:
		if run.Round >= len(p.Agents) {
			return nil, true, nil
		}
		return p.Agents[run.Round], false, nil

	case PolicyManager:
		decision, err := p.Manager.Decide(ctx, run)
		if err != nil {
			return nil, false, &InvocationError{Agent: "manager", Round: run.Round + 1, Err: err}
		}
		if decision.Done && run.Round > 0 {
			return nil, true, nil
		}
		if agent, ok := run.Agent(decision.Next); ok {
			return agent, false, nil
		}
		// Unknown or missing choice: keep the exchange moving in list order.
		return p.Agents[run.Round%len(p.Agents)], false, nil
	}

	return nil, false, fmt.Errorf("unknown turn policy %q", p.Kind)
}
