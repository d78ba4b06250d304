package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

type scriptedExecutor struct {
	replay *tools.Replay
	err    error
	panics bool
}

func (s *scriptedExecutor) Execute(context.Context, string, tools.Registry, engine.ToolCall) (*tools.Result, error) {
	return nil, nil
}

func (s *scriptedExecutor) ReplayCalls(context.Context, string, tools.Registry, engine.Prompt, engine.Response) (*tools.Replay, error) {
	if s.panics {
		panic("executor blew up")
	}
	return s.replay, s.err
}

func registerTool(t *testing.T, s *session.Session, name string) {
	t.Helper()
	require.NoError(t, s.Tools.Register(tools.Tool{Spec: engine.ToolSpec{Name: name}}))
}

func newResolver(exec tools.Executor, recent *tools.RecentCalls) *AttributionResolver {
	if recent == nil {
		recent = tools.NewRecentCalls(30 * time.Second)
	}
	return NewAttributionResolver(Logger.Nop(), exec, recent)
}

func TestAttributionFromDeltas(t *testing.T) {
	r := newResolver(&scriptedExecutor{}, nil)
	in := &AttributionInput{
		Session: session.New("s1", nil),
		Deltas: []engine.Delta{
			{Content: "让我查一下"},
			{ToolCalls: []engine.ToolCall{{Name: "get_weather"}}},
			{Content: "今天晴"},
		},
	}
	assert.Equal(t, "get_weather", r.Resolve(context.Background(), in))
}

func TestAttributionFromReplay(t *testing.T) {
	exec := &scriptedExecutor{replay: &tools.Replay{History: []tools.ReplayEntry{
		{Role: engine.ASSISTANT, ToolCalls: []engine.ToolCall{{Name: "set_alarm"}}},
		{Role: engine.TOOL, Content: "done"},
	}}}
	r := newResolver(exec, nil)
	in := &AttributionInput{Session: session.New("s1", nil), FullText: "闹钟设好了"}
	assert.Equal(t, "set_alarm", r.Resolve(context.Background(), in))
}

func TestAttributionSoleTool(t *testing.T) {
	r := newResolver(&scriptedExecutor{}, nil)
	s := session.New("s1", nil)
	registerTool(t, s, "get_weather")

	in := &AttributionInput{Session: s, FullText: "今天晴转多云"}
	assert.Equal(t, "get_weather", r.Resolve(context.Background(), in))
}

func TestAttributionNameMatch(t *testing.T) {
	r := newResolver(&scriptedExecutor{}, nil)
	s := session.New("s1", nil)
	registerTool(t, s, "get_weather")
	registerTool(t, s, "set_alarm")

	in := &AttributionInput{Session: s, FullText: "我通过 GetWeather 查询到今天晴"}
	assert.Equal(t, "get_weather", r.Resolve(context.Background(), in))
}

func TestAttributionRecentCalls(t *testing.T) {
	recent := tools.NewRecentCalls(30 * time.Second)
	recent.Record("s1", "play_music")
	r := newResolver(&scriptedExecutor{}, recent)

	s := session.New("s1", nil)
	registerTool(t, s, "play_music")
	registerTool(t, s, "set_alarm")

	in := &AttributionInput{Session: s, FullText: "好的，马上开始"}
	assert.Equal(t, "play_music", r.Resolve(context.Background(), in))
}

func TestAttributionAllStrategiesFail(t *testing.T) {
	r := newResolver(&scriptedExecutor{}, nil)
	in := &AttributionInput{Session: session.New("s1", nil), FullText: "纯聊天，没有工具"}
	assert.Equal(t, "", r.Resolve(context.Background(), in))
}

func TestAttributionSurvivesPanickingStrategy(t *testing.T) {
	r := newResolver(&scriptedExecutor{panics: true}, nil)
	s := session.New("s1", nil)
	registerTool(t, s, "get_weather")

	in := &AttributionInput{Session: s, FullText: "今天晴"}
	assert.Equal(t, "get_weather", r.Resolve(context.Background(), in))
}
