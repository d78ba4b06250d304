package dialogue

import (
	"context"
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

// AttributionInput carries everything a strategy may inspect. All fields are
// read-only snapshots of the completed turn.
type AttributionInput struct {
	Session  *session.Session
	Prompt   engine.Prompt
	Deltas   []engine.Delta
	FullText string
}

type attributionStrategy struct {
	name string
	fn   func(ctx context.Context, in *AttributionInput) string
}

// AttributionResolver labels a completed turn with the tool that fired
// during it, if any can be determined. Strategies run in order and the
// first non-empty answer wins. Resolution is a label only: it never fails
// the turn, and an empty result is a normal outcome.
type AttributionResolver struct {
	logger     *Logger.Logger
	executor   tools.Executor
	recent     *tools.RecentCalls
	strategies []attributionStrategy
}

func NewAttributionResolver(logger *Logger.Logger, exec tools.Executor, recent *tools.RecentCalls) *AttributionResolver {
	r := &AttributionResolver{
		logger:   logger.Named("attribution"),
		executor: exec,
		recent:   recent,
	}
	r.strategies = []attributionStrategy{
		{"delta-scan", r.fromDeltas},
		{"replay", r.fromReplay},
		{"sole-tool", r.fromSoleTool},
		{"name-match", r.fromNameMatch},
		{"recent-call", r.fromRecent},
	}
	return r
}

func (r *AttributionResolver) Resolve(ctx context.Context, in *AttributionInput) string {
	for _, st := range r.strategies {
		if name := r.attempt(ctx, st, in); name != "" {
			r.logger.Debugf("session %s: tool %q attributed via %s", in.Session.ID, name, st.name)
			return name
		}
	}
	return ""
}

func (r *AttributionResolver) attempt(ctx context.Context, st attributionStrategy, in *AttributionInput) (name string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warnf("session %s: attribution strategy %s panicked: %v", in.Session.ID, st.name, p)
			name = ""
		}
	}()
	return st.fn(ctx, in)
}

// fromDeltas scans the collected deltas newest-first for a tool invocation.
func (r *AttributionResolver) fromDeltas(_ context.Context, in *AttributionInput) string {
	for i := len(in.Deltas) - 1; i >= 0; i-- {
		if calls := in.Deltas[i].ToolCalls; len(calls) > 0 {
			return calls[len(calls)-1].Name
		}
	}
	return ""
}

// fromReplay re-runs the prompt/response pair through the tool executor and
// inspects the replayed history.
func (r *AttributionResolver) fromReplay(ctx context.Context, in *AttributionInput) string {
	resp := engine.Response{Content: in.FullText}
	for _, d := range in.Deltas {
		resp.ToolCalls = append(resp.ToolCalls, d.ToolCalls...)
	}
	rep, err := r.executor.ReplayCalls(ctx, in.Session.ID, in.Session.Tools, in.Prompt, resp)
	if err != nil || rep == nil {
		return ""
	}
	for i := len(rep.History) - 1; i >= 0; i-- {
		if calls := rep.History[i].ToolCalls; len(calls) > 0 {
			return calls[len(calls)-1].Name
		}
	}
	return ""
}

func (r *AttributionResolver) fromSoleTool(_ context.Context, in *AttributionInput) string {
	if list := in.Session.Tools.List(); len(list) == 1 {
		return list[0].Spec.Name
	}
	return ""
}

// fromNameMatch tests each registered tool's normalized name against the
// normalized response text.
func (r *AttributionResolver) fromNameMatch(_ context.Context, in *AttributionInput) string {
	text := normalizeToolName(in.FullText)
	if text == "" {
		return ""
	}
	for _, t := range in.Session.Tools.List() {
		if norm := normalizeToolName(t.Spec.Name); norm != "" && strings.Contains(text, norm) {
			return t.Spec.Name
		}
	}
	return ""
}

func (r *AttributionResolver) fromRecent(_ context.Context, in *AttributionInput) string {
	return r.recent.Lookup(in.Session.ID, time.Now())
}

func normalizeToolName(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}
