package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tasks"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

type scriptedEngine struct {
	deltas   []engine.Delta
	response *engine.Response
	callErr  error
}

func (e *scriptedEngine) Call(context.Context, engine.Prompt) (*engine.Response, error) {
	return e.response, e.callErr
}

func (e *scriptedEngine) Stream(context.Context, engine.Prompt) (<-chan engine.Delta, error) {
	ch := make(chan engine.Delta, len(e.deltas))
	for _, d := range e.deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// gatedEngine streams its head delta, then blocks until released before
// streaming the tail. Lets a test act mid-turn.
type gatedEngine struct {
	head    engine.Delta
	tail    []engine.Delta
	release chan struct{}
}

func (e *gatedEngine) Call(context.Context, engine.Prompt) (*engine.Response, error) {
	return nil, errors.New("not scripted")
}

func (e *gatedEngine) Stream(context.Context, engine.Prompt) (<-chan engine.Delta, error) {
	ch := make(chan engine.Delta)
	go func() {
		defer close(ch)
		ch <- e.head
		<-e.release
		for _, d := range e.tail {
			ch <- d
		}
	}()
	return ch, nil
}

// abortOnCallEngine barges in on its own session while the call runs.
type abortOnCallEngine struct {
	session *session.Session
}

func (e *abortOnCallEngine) Call(context.Context, engine.Prompt) (*engine.Response, error) {
	e.session.AbortTurn()
	return &engine.Response{Content: "好的，马上为您安排。"}, nil
}

func (e *abortOnCallEngine) Stream(context.Context, engine.Prompt) (<-chan engine.Delta, error) {
	return nil, errors.New("not scripted")
}

type recordingDelivery struct {
	mu        sync.Mutex
	starts    int
	stops     int
	sentences []Sentence
	echoes    []string
}

func (d *recordingDelivery) snapshot() []Sentence {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Sentence(nil), d.sentences...)
}

func (d *recordingDelivery) SpeechStart(*session.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	return nil
}

func (d *recordingDelivery) Sentence(_ *session.Session, s Sentence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentences = append(d.sentences, s)
	return nil
}

func (d *recordingDelivery) SpeechStop(*session.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *recordingDelivery) EchoUserText(_ *session.Session, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.echoes = append(d.echoes, text)
	return nil
}

type memRoleStore struct {
	role     *types.RoleConfig
	provider *types.ProviderConfig
}

func (m *memRoleStore) LoadRole(context.Context, uint) (*types.RoleConfig, error) {
	if m.role == nil {
		return nil, errors.New("role not found")
	}
	return m.role, nil
}

func (m *memRoleStore) RolesByUser(context.Context, int) ([]types.RoleConfig, error) {
	return nil, nil
}

func (m *memRoleStore) LoadProvider(context.Context, uint) (*types.ProviderConfig, error) {
	if m.provider == nil {
		return nil, errors.New("provider not found")
	}
	return m.provider, nil
}

type memTurnStore struct {
	mu   sync.Mutex
	msgs []types.TurnMessage
	err  error
}

func (m *memTurnStore) Append(_ context.Context, _ string, _ uint, msg types.TurnMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memTurnStore) History(context.Context, string, uint, int) ([]types.TurnMessage, error) {
	return nil, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	session  *session.Session
	delivery *recordingDelivery
	turns    *memTurnStore
	capture  *audio.CaptureManager
}

func newPipelineFixture(t *testing.T, eng engine.Engine) *pipelineFixture {
	t.Helper()

	modelID := uint(2)
	roles := &memRoleStore{
		role:     &types.RoleConfig{RoleID: 1, RoleName: "助手", Prompt: "你是一个语音助手", ModelID: &modelID},
		provider: &types.ProviderConfig{ConfigID: 2, Provider: "scripted", ModelName: "test"},
	}
	factory := engine.NewFactory()
	factory.RegisterBuilder("scripted", func(context.Context, engine.ProviderSpec) (engine.Engine, error) {
		return eng, nil
	})

	turns := &memTurnStore{}
	delivery := &recordingDelivery{}
	capture := audio.NewCaptureManager(Logger.Nop())
	recent := tools.NewRecentCalls(30 * time.Second)
	exec := tools.NewExecutor(recent)
	resolver := NewAttributionResolver(Logger.Nop(), exec, recent)
	runner := tasks.NewRunner(Logger.Nop())

	p := NewPipeline(Logger.Nop(), roles, turns, factory, capture, delivery, resolver, exec, recent, runner)

	roleID := uint(1)
	s := session.New("s1", nil)
	s.SetDevice(&types.Device{DeviceID: "dev1", RoleID: &roleID, State: types.DeviceStateOnline})
	s.SetConversation(types.NewConversation("dev1", 1, nil))

	return &pipelineFixture{pipeline: p, session: s, delivery: delivery, turns: turns, capture: capture}
}

func TestStreamingTurnEndToEnd(t *testing.T) {
	eng := &scriptedEngine{deltas: []engine.Delta{
		{Content: "你好，"},
		{Content: "世界。"},
		{Content: "再见啦，朋友们。"},
		{Usage: &engine.Usage{PromptTokens: 12, TotalTokens: 30}},
	}}
	f := newPipelineFixture(t, eng)

	f.pipeline.RespondStream(context.Background(), f.session, "打个招呼")

	assert.Equal(t, []string{"打个招呼"}, f.delivery.echoes)
	assert.Equal(t, 1, f.delivery.starts)
	assert.Equal(t, 1, f.delivery.stops)

	require.Len(t, f.delivery.sentences, 3)
	assert.Equal(t, Sentence{Text: "你好，世界。", IsFirst: true}, f.delivery.sentences[0])
	assert.Equal(t, Sentence{Text: "再见啦，朋友们。"}, f.delivery.sentences[1])
	assert.Equal(t, Sentence{Text: "", IsLast: true}, f.delivery.sentences[2])

	msgs := f.session.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "你好，世界。再见啦，朋友们。", msgs[1].Content)
	assert.Equal(t, 12, msgs[1].PromptTokens)
	assert.Equal(t, 30, msgs[1].TotalTokens)
	assert.False(t, msgs[1].FirstResponseAt.IsZero())

	require.Len(t, f.turns.msgs, 2)
	assert.False(t, f.capture.IsSpeaking("s1"))
}

func TestMidStreamErrorSpeaksApologyAndAbortsTurn(t *testing.T) {
	eng := &scriptedEngine{deltas: []engine.Delta{
		{Content: "我正在想"},
		{Err: errors.New("upstream reset")},
	}}
	f := newPipelineFixture(t, eng)

	f.pipeline.RespondStream(context.Background(), f.session, "你好")

	require.NotEmpty(t, f.delivery.sentences)
	last := f.delivery.sentences[len(f.delivery.sentences)-1]
	assert.Equal(t, Sentence{Text: apologyStream, IsFirst: true, IsLast: true}, last)

	// aborted turn: only the user message reaches the conversation
	assert.Equal(t, 1, f.session.Conversation().Len())
	assert.Equal(t, 1, f.delivery.stops)
	assert.False(t, f.capture.IsSpeaking("s1"))
}

func TestEngineUnavailableSpeaksApology(t *testing.T) {
	f := newPipelineFixture(t, &scriptedEngine{})
	modelless := &memRoleStore{role: &types.RoleConfig{RoleID: 1}}
	f.pipeline.roles = modelless

	f.pipeline.RespondStream(context.Background(), f.session, "你好")

	require.Len(t, f.delivery.sentences, 1)
	assert.Equal(t, Sentence{Text: apologyStream, IsFirst: true, IsLast: true}, f.delivery.sentences[0])
}

func TestBlockingTurn(t *testing.T) {
	eng := &scriptedEngine{response: &engine.Response{
		Content:   "好的，马上为您安排。",
		ToolCalls: []engine.ToolCall{{Name: "set_alarm"}},
		Usage:     &engine.Usage{PromptTokens: 8, TotalTokens: 20},
	}}
	f := newPipelineFixture(t, eng)

	f.pipeline.Respond(context.Background(), f.session, "定个闹钟")

	require.Len(t, f.delivery.sentences, 1)
	assert.Equal(t, Sentence{Text: "好的，马上为您安排。", IsFirst: true, IsLast: true}, f.delivery.sentences[0])

	msgs := f.session.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "set_alarm", msgs[1].ToolName)
	assert.Equal(t, 20, msgs[1].TotalTokens)
}

func TestBlockingCallErrorSpeaksApology(t *testing.T) {
	f := newPipelineFixture(t, &scriptedEngine{callErr: errors.New("timeout")})

	f.pipeline.Respond(context.Background(), f.session, "你好")

	require.Len(t, f.delivery.sentences, 1)
	assert.Equal(t, apologyBlocking, f.delivery.sentences[0].Text)
	assert.Equal(t, 1, f.session.Conversation().Len())
}

func TestPersistenceFailureDoesNotBreakTurn(t *testing.T) {
	eng := &scriptedEngine{deltas: []engine.Delta{{Content: "这句话足够长了。"}}}
	f := newPipelineFixture(t, eng)
	f.turns.err = errors.New("db down")

	f.pipeline.RespondStream(context.Background(), f.session, "你好")

	// delivery unaffected, conversation still updated in memory
	assert.NotEmpty(t, f.delivery.sentences)
	assert.Equal(t, 2, f.session.Conversation().Len())
}

func TestBargeInSuppressesRemainingSentences(t *testing.T) {
	eng := &gatedEngine{
		head:    engine.Delta{Content: "这句话足够长了。"},
		tail:    []engine.Delta{{Content: "被打断后还在继续说。"}},
		release: make(chan struct{}),
	}
	f := newPipelineFixture(t, eng)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.pipeline.RespondStream(context.Background(), f.session, "你好")
	}()

	require.Eventually(t, func() bool {
		return len(f.delivery.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	// barge-in: the user speaks over the reply
	f.session.AbortTurn()
	close(eng.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("turn never finished")
	}

	// nothing after the barge-in reaches the device, including the
	// terminal marker, and no trailing speech-stop clobbers the next turn
	sentences := f.delivery.snapshot()
	require.Len(t, sentences, 1)
	assert.Equal(t, "这句话足够长了。", sentences[0].Text)
	assert.Equal(t, 0, f.delivery.stops)

	// the model call itself was not cancelled: the full reply persists
	msgs := f.session.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "这句话足够长了。被打断后还在继续说。", msgs[1].Content)
}

func TestBargeInSuppressesBlockingReply(t *testing.T) {
	f := newPipelineFixture(t, &scriptedEngine{})
	// barge-in lands while the model call is in flight
	f.pipeline.factory = engine.NewFactory()
	f.pipeline.factory.RegisterBuilder("scripted", func(context.Context, engine.ProviderSpec) (engine.Engine, error) {
		return &abortOnCallEngine{session: f.session}, nil
	})

	f.pipeline.Respond(context.Background(), f.session, "算了")

	assert.Empty(t, f.delivery.sentences)
	assert.Equal(t, 0, f.delivery.starts)
	// the reply is still part of the record
	assert.Equal(t, 2, f.session.Conversation().Len())
}

func TestRoleLoadFailureSpeaksApology(t *testing.T) {
	f := newPipelineFixture(t, &scriptedEngine{})
	f.pipeline.roles = &memRoleStore{}

	f.pipeline.RespondStream(context.Background(), f.session, "你好")

	require.Len(t, f.delivery.sentences, 1)
	assert.Equal(t, Sentence{Text: apologyStream, IsFirst: true, IsLast: true}, f.delivery.sentences[0])
	assert.False(t, f.capture.IsSpeaking("s1"))
}

func TestRoleLoadFailureSpeaksApologyBlocking(t *testing.T) {
	f := newPipelineFixture(t, &scriptedEngine{})
	f.pipeline.roles = &memRoleStore{}

	f.pipeline.Respond(context.Background(), f.session, "你好")

	require.Len(t, f.delivery.sentences, 1)
	assert.Equal(t, apologyBlocking, f.delivery.sentences[0].Text)
}

func TestTurnWithoutConversationIsRejected(t *testing.T) {
	f := newPipelineFixture(t, &scriptedEngine{})
	f.session.SetConversation(nil)

	f.pipeline.RespondStream(context.Background(), f.session, "你好")
	assert.Empty(t, f.delivery.sentences)
	assert.Empty(t, f.delivery.echoes)
}
