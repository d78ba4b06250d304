package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/engine"
)

// Result is the outcome of one tool handler run.
type Result struct {
	Call     engine.ToolCall
	Response map[string]any
	Duration time.Duration
}

// ReplayEntry mirrors one message of a tool-execution pass; assistant entries
// carry the tool calls the pass performed.
type ReplayEntry struct {
	Role      engine.Role
	Content   string
	ToolCalls []engine.ToolCall
}

// Replay is the message history produced by replaying a prompt/response pair
// through tool execution.
type Replay struct {
	History []ReplayEntry
}

// Executor runs tool calls surfaced by the dialogue engine. Every successful
// run is noted in the recency record keyed by session id.
type Executor interface {
	Execute(ctx context.Context, sessionID string, reg Registry, call engine.ToolCall) (*Result, error)
	ReplayCalls(ctx context.Context, sessionID string, reg Registry, p engine.Prompt, resp engine.Response) (*Replay, error)
}

type executor struct {
	recent *RecentCalls
}

func NewExecutor(recent *RecentCalls) Executor {
	return &executor{recent: recent}
}

func (e *executor) Execute(ctx context.Context, sessionID string, reg Registry, call engine.ToolCall) (*Result, error) {
	tool, ok := reg.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("tool %s not found", call.Name)
	}

	start := time.Now()
	resp, err := tool.Handler(ctx, call.Arguments)
	dur := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", call.Name, err)
	}

	if e.recent != nil {
		e.recent.Record(sessionID, call.Name)
	}
	return &Result{Call: call, Response: resp, Duration: dur}, nil
}

// ReplayCalls re-runs the tool calls of a completed response and returns the
// resulting message history. Used when streaming delivered tool deltas
// without names attached.
func (e *executor) ReplayCalls(ctx context.Context, sessionID string, reg Registry, p engine.Prompt, resp engine.Response) (*Replay, error) {
	replay := &Replay{}
	for _, m := range p.Msgs {
		replay.History = append(replay.History, ReplayEntry{Role: m.Role, Content: m.Content})
	}

	if len(resp.ToolCalls) == 0 {
		return replay, nil
	}

	replay.History = append(replay.History, ReplayEntry{
		Role:      engine.ASSISTANT,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	for _, call := range resp.ToolCalls {
		res, err := e.Execute(ctx, sessionID, reg, call)
		if err != nil {
			replay.History = append(replay.History, ReplayEntry{
				Role:    engine.TOOL,
				Content: fmt.Sprintf("tool execution failed: %v", err),
			})
			continue
		}
		replay.History = append(replay.History, ReplayEntry{
			Role:    engine.TOOL,
			Content: fmt.Sprintf("%v", res.Response),
		})
	}
	return replay, nil
}
