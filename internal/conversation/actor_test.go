package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/orchestration"
	"github.com/capitalize-ai/conversation-actors/internal/store"
)

// echo replies "echo: <utterance>" and counts turns in its token.
func echo() orchestration.Agent {
	return orchestration.AgentFunc{
		AgentName: "echo",
		Fn: func(_ context.Context, in orchestration.Input, token json.RawMessage) (orchestration.Result, error) {
			var n int
			if len(token) > 0 {
				if err := json.Unmarshal(token, &n); err != nil {
					return orchestration.Result{}, err
				}
			}
			return orchestration.Result{
				Turns: []orchestration.Turn{{Agent: "echo", Text: "echo: " + in.Utterance}},
				Token: json.RawMessage(fmt.Sprint(n + 1)),
			}, nil
		},
	}
}

func failing(err error) orchestration.Agent {
	return orchestration.AgentFunc{
		AgentName: "broken",
		Fn: func(context.Context, orchestration.Input, json.RawMessage) (orchestration.Result, error) {
			return orchestration.Result{}, err
		},
	}
}

func stalled(release <-chan struct{}) orchestration.Agent {
	return orchestration.AgentFunc{
		AgentName: "stalled",
		Fn: func(context.Context, orchestration.Input, json.RawMessage) (orchestration.Result, error) {
			<-release
			return orchestration.Result{}, nil
		},
	}
}

func engine(t *testing.T, agent orchestration.Agent, opts orchestration.Options) *orchestration.Engine {
	t.Helper()
	e, err := orchestration.NewEngine(orchestration.Single(agent), opts)
	require.NoError(t, err)
	return e
}

type flakyStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	failWrite error
}

func (f *flakyStore) Write(ctx context.Context, ref store.Ref, data []byte) error {
	f.mu.Lock()
	err := f.failWrite
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Write(ctx, ref, data)
}

type eventRecorder struct {
	events chan *model.ConversationEvent
	err    error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan *model.ConversationEvent, 8)}
}

func (r *eventRecorder) Publish(_ context.Context, e *model.ConversationEvent) error {
	r.events <- e
	return r.err
}

func (r *eventRecorder) next(t *testing.T) *model.ConversationEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return nil
	}
}

type notifierRecorder struct {
	mu    sync.Mutex
	calls []model.ConversationKey
	seeds []model.Message
}

func (n *notifierRecorder) ConversationStarted(key model.ConversationKey, seed model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, key)
	n.seeds = append(n.seeds, seed)
}

func persisted(t *testing.T, s store.Store, key model.ConversationKey) *model.ConversationThread {
	t.Helper()
	thread, found, err := store.Load[model.ConversationThread](context.Background(), s, ThreadRef(key))
	require.NoError(t, err)
	if !found {
		return &model.ConversationThread{}
	}
	return thread
}

var (
	alice   = model.ConversationKey{OwnerID: "alice", ConversationID: "c1"}
	anonKey = model.ConversationKey{ConversationID: "c1"}
)

func TestActor_FirstMessage(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	notifier := &notifierRecorder{}
	events := newEventRecorder()

	a, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{}), Events: events, Notifier: notifier})
	require.NoError(t, err)

	reply, err := a.HandleMessage(ctx, model.Message{Text: "Hello", Role: model.RoleUser})
	require.NoError(t, err)

	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, "echo: Hello", reply.Text)

	thread := persisted(t, s, alice)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "Hello", thread.Messages[0].Text)
	assert.Equal(t, model.RoleUser, thread.Messages[0].Role)
	assert.Equal(t, reply, thread.Messages[1])
	assert.Equal(t, "alice", thread.OwnerID)
	assert.JSONEq(t, "1", string(thread.Token))
	assert.False(t, thread.UpdatedAt.IsZero())

	assert.Equal(t, []model.ConversationKey{alice}, notifier.calls)
	assert.Equal(t, "Hello", notifier.seeds[0].Text)
	assert.Equal(t, model.EventTypeCreated, events.next(t).Type)
}

func TestActor_SerialTurnsAppendTwoMessagesEach(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	notifier := &notifierRecorder{}

	a, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{}), Notifier: notifier})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		_, err := a.HandleMessage(ctx, model.Message{Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)

		thread := persisted(t, s, alice)
		require.Len(t, thread.Messages, 2*i)
		assert.Equal(t, fmt.Sprintf("m%d", i), thread.Messages[2*i-2].Text)
		assert.Equal(t, fmt.Sprintf("echo: m%d", i), thread.Messages[2*i-1].Text)
		assert.JSONEq(t, fmt.Sprint(i), string(thread.Token), "token replaced on every turn")
	}

	assert.Len(t, notifier.calls, 1, "only the first turn signals the index")
}

func TestActor_ReactivationResumesThread(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	deps := Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{})}

	a, err := Activate(ctx, alice, deps)
	require.NoError(t, err)
	_, err = a.HandleMessage(ctx, model.Message{Text: "one"})
	require.NoError(t, err)

	b, err := Activate(ctx, alice, deps)
	require.NoError(t, err)
	assert.Len(t, b.History("alice"), 2)

	_, err = b.HandleMessage(ctx, model.Message{Text: "two"})
	require.NoError(t, err)
	thread := persisted(t, s, alice)
	assert.Len(t, thread.Messages, 4)
	assert.JSONEq(t, "2", string(thread.Token))
}

func TestActor_AttachmentPreserved(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{})})
	require.NoError(t, err)

	attachment := model.Attachment{ID: "f1", DisplayName: "a.png", MediaType: "image/png"}
	_, err = a.HandleMessage(ctx, model.Message{Text: "look", Role: model.RoleUser, Attachments: []model.Attachment{attachment}})
	require.NoError(t, err)

	thread := persisted(t, s, alice)
	assert.Equal(t, []model.Attachment{attachment}, thread.Messages[0].Attachments)
}

func TestActor_InvocationErrorFallback(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	events := newEventRecorder()
	notifier := &notifierRecorder{}
	a, err := Activate(ctx, alice, Deps{
		Store:    s,
		Engine:   engine(t, failing(errors.New("provider unavailable")), orchestration.Options{}),
		Events:   events,
		Notifier: notifier,
	})
	require.NoError(t, err)

	reply, err := a.HandleMessage(ctx, model.Message{Text: "Hello"})
	require.NoError(t, err)

	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Regexp(t, "^An error occurred:", reply.Text)
	assert.Contains(t, reply.Text, "provider unavailable")

	thread := persisted(t, s, alice)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "Hello", thread.Messages[0].Text)
	assert.Empty(t, thread.Token, "token unchanged on failure")

	types := []model.EventType{events.next(t).Type, events.next(t).Type}
	assert.ElementsMatch(t, []model.EventType{model.EventTypeError, model.EventTypeCreated}, types)
	assert.Len(t, notifier.calls, 1)
}

func TestActor_TimeoutFallback(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	release := make(chan struct{})
	defer close(release)

	deadline := 50 * time.Millisecond
	a, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, stalled(release), orchestration.Options{Deadline: deadline})})
	require.NoError(t, err)

	start := time.Now()
	reply, err := a.HandleMessage(ctx, model.Message{Text: "anyone?"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), deadline+time.Second)
	assert.Equal(t, model.NewAssistantMessage(TimeoutReply), reply)
	thread := persisted(t, s, alice)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, TimeoutReply, thread.Messages[1].Text)
}

func TestActor_FailureKeepsPreviousToken(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	key := alice
	require.NoError(t, store.Save(ctx, s, ThreadRef(key), &model.ConversationThread{
		OwnerID:  "alice",
		Token:    json.RawMessage(`{"dialogue":"earlier"}`),
		Messages: []model.Message{{Text: "hi", Role: model.RoleUser}, model.NewAssistantMessage("hello")},
	}))

	a, err := Activate(ctx, key, Deps{Store: s, Engine: engine(t, failing(errors.New("boom")), orchestration.Options{})})
	require.NoError(t, err)
	_, err = a.HandleMessage(ctx, model.Message{Text: "again"})
	require.NoError(t, err)

	thread := persisted(t, s, key)
	assert.Len(t, thread.Messages, 4)
	assert.JSONEq(t, `{"dialogue":"earlier"}`, string(thread.Token))
}

func TestActor_ReductionErrorFallback(t *testing.T) {
	ctx := context.Background()
	a, err := Activate(ctx, alice, Deps{
		Store:  store.NewMemoryStore(),
		Engine: engine(t, echo(), orchestration.Options{Reducer: orchestration.JSONReducer{}}),
	})
	require.NoError(t, err)

	reply, err := a.HandleMessage(ctx, model.Message{Text: "x"})
	require.NoError(t, err)
	assert.Regexp(t, "^An error occurred:", reply.Text)
}

func TestActor_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{MemoryStore: store.NewMemoryStore()}
	notifier := &notifierRecorder{}
	a, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{}), Notifier: notifier})
	require.NoError(t, err)

	_, err = a.HandleMessage(ctx, model.Message{Text: "first"})
	require.NoError(t, err)

	s.failWrite = errors.New("connection refused")
	_, err = a.HandleMessage(ctx, model.Message{Text: "second"})
	require.Error(t, err)
	assert.ErrorIs(t, err, s.failWrite)

	assert.Len(t, a.History("alice"), 2, "in-memory thread unchanged")
	assert.Len(t, persisted(t, s, alice).Messages, 2)

	s.failWrite = nil
	_, err = a.HandleMessage(ctx, model.Message{Text: "third"})
	require.NoError(t, err)
	history := a.History("alice")
	require.Len(t, history, 4)
	assert.Equal(t, "third", history[2].Text)
	assert.Len(t, notifier.calls, 1)
}

func TestActor_FailedFirstPersistDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{MemoryStore: store.NewMemoryStore(), failWrite: errors.New("down")}
	notifier := &notifierRecorder{}
	a, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{}), Notifier: notifier})
	require.NoError(t, err)

	_, err = a.HandleMessage(ctx, model.Message{Text: "first"})
	require.Error(t, err)
	assert.Empty(t, notifier.calls)
}

func TestActor_AnonymousOwnerIsNotIndexed(t *testing.T) {
	ctx := context.Background()
	notifier := &notifierRecorder{}
	a, err := Activate(ctx, anonKey, Deps{Store: store.NewMemoryStore(), Engine: engine(t, echo(), orchestration.Options{}), Notifier: notifier})
	require.NoError(t, err)

	_, err = a.HandleMessage(ctx, model.Message{Text: "hi"})
	require.NoError(t, err)

	assert.Empty(t, notifier.calls)
	assert.Len(t, a.History(model.AnonymousOwner), 2)
}

func TestActor_HistoryOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	bob := model.ConversationKey{OwnerID: "bob", ConversationID: "c1"}

	a, err := Activate(ctx, bob, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{})})
	require.NoError(t, err)
	_, err = a.HandleMessage(ctx, model.Message{Text: "secret"})
	require.NoError(t, err)

	assert.Empty(t, a.History("alice"))
	assert.NotNil(t, a.History("alice"))
	assert.Len(t, a.History("bob"), 2)

	// alice's key addresses a different thread altogether
	other, err := Activate(ctx, alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{})})
	require.NoError(t, err)
	assert.Empty(t, other.History("alice"))
}

func TestActor_HistoryIsACopy(t *testing.T) {
	ctx := context.Background()
	a, err := Activate(ctx, alice, Deps{Store: store.NewMemoryStore(), Engine: engine(t, echo(), orchestration.Options{})})
	require.NoError(t, err)
	_, err = a.HandleMessage(ctx, model.Message{Text: "hi"})
	require.NoError(t, err)

	h := a.History("alice")
	h[0].Text = "tampered"

	assert.Equal(t, "hi", a.History("alice")[0].Text)
}

func TestActor_CallerCancellationDoesNotAbortRun(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	slow := orchestration.AgentFunc{
		AgentName: "slow",
		Fn: func(runCtx context.Context, _ orchestration.Input, _ json.RawMessage) (orchestration.Result, error) {
			close(started)
			select {
			case <-time.After(200 * time.Millisecond):
			case <-runCtx.Done():
				return orchestration.Result{}, runCtx.Err()
			}
			return orchestration.Result{Turns: []orchestration.Turn{{Agent: "slow", Text: "late"}}}, nil
		},
	}
	a, err := Activate(context.Background(), alice, Deps{
		Store:  s,
		Engine: engine(t, slow, orchestration.Options{Deadline: time.Minute}),
	})
	require.NoError(t, err)

	go func() {
		<-started
		cancel()
	}()

	reply, err := a.HandleMessage(ctx, model.Message{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "late", reply.Text)

	thread := persisted(t, s, alice)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "Hello", thread.Messages[0].Text)
	assert.Equal(t, "late", thread.Messages[1].Text)
}

func TestActivate_RequiresCollaborators(t *testing.T) {
	_, err := Activate(context.Background(), alice, Deps{})
	assert.Error(t, err)
}

func TestActivate_StoreError(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Write(context.Background(), ThreadRef(alice), []byte("{corrupt")))

	_, err := Activate(context.Background(), alice, Deps{Store: s, Engine: engine(t, echo(), orchestration.Options{})})
	assert.Error(t, err)
}
