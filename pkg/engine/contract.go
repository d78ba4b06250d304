package engine

import (
	"context"
	"time"
)

type Role string

const (
	USER      Role = "user"
	ASSISTANT Role = "assistant"
	SYSTEM    Role = "system"
	TOOL      Role = "tool"
)

type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// ToolSpec describes one callable tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// JSON-schema style parameter map: name -> {"type":..., "description":...}
	Parameters map[string]map[string]any
	Required   []string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	CreatedAt time.Time
}

type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// Prompt is one dialogue-engine invocation: full ordered history plus the
// tool capabilities of the calling session.
type Prompt struct {
	Msgs  []Message
	Tools []ToolSpec
}

// Delta is one streamed increment. Exactly one of Content/ToolCalls/Err is
// usually set; Usage may ride any delta. The stream channel is closed by the
// producer after the final delta.
type Delta struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
	Err       error
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Engine is the dialogue-engine collaborator. Stream deltas arrive in model
// order; consumers must not reorder them.
type Engine interface {
	Call(ctx context.Context, p Prompt) (*Response, error)
	Stream(ctx context.Context, p Prompt) (<-chan Delta, error)
}

// ToolSupportProber is implemented by engines that can cheaply check whether
// the configured model honors tool definitions.
type ToolSupportProber interface {
	ProbeToolSupport(ctx context.Context) bool
}
