package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tasks"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

// Canned fallbacks spoken instead of dropping the connection when a provider
// misbehaves.
const (
	apologyBlocking = "抱歉，我在处理您的请求时遇到了问题。请稍后再试。"
	apologyStream   = "抱歉，我在处理您的请求时遇到了问题。"
)

// errConversationNotReady marks a turn that raced binding initialization.
// It is the one turn failure that stays silent: the device never heard an
// acknowledgement, so there is nothing to apologize for.
var errConversationNotReady = errors.New("turn before conversation initialized")

// Delivery is the outbound side of a turn: speech markers and segmented
// sentences. The websocket sender implements it; an empty sentence text is a
// turn-completion marker, not something to synthesize.
type Delivery interface {
	SpeechStart(s *session.Session) error
	Sentence(s *session.Session, sent Sentence) error
	SpeechStop(s *session.Session) error
	EchoUserText(s *session.Session, text string) error
}

// Pipeline drives one user turn end to end: conversation append, prompt
// build, engine call, sentence segmentation, tool attribution, persistence.
type Pipeline struct {
	logger   *Logger.Logger
	roles    types.RoleConfigStore
	turns    types.TurnStore
	factory  *engine.Factory
	audio    audio.Subsystem
	delivery Delivery
	resolver *AttributionResolver
	executor tools.Executor
	recent   *tools.RecentCalls
	runner   *tasks.Runner
}

func NewPipeline(
	logger *Logger.Logger,
	roles types.RoleConfigStore,
	turns types.TurnStore,
	factory *engine.Factory,
	sub audio.Subsystem,
	delivery Delivery,
	resolver *AttributionResolver,
	executor tools.Executor,
	recent *tools.RecentCalls,
	runner *tasks.Runner,
) *Pipeline {
	return &Pipeline{
		logger:   logger.Named("dialogue"),
		roles:    roles,
		turns:    turns,
		factory:  factory,
		audio:    sub,
		delivery: delivery,
		resolver: resolver,
		executor: executor,
		recent:   recent,
		runner:   runner,
	}
}

// HandleUserText detaches the turn from the caller's read loop so control
// messages (abort, barge-in text) stay responsive while speech streams out.
func (p *Pipeline) HandleUserText(ctx context.Context, s *session.Session, text string) {
	p.runner.Go("dialogue-turn", func() error {
		p.RespondStream(ctx, s, text)
		return nil
	})
}

// RespondStream runs one streaming turn synchronously. The epoch snapshot
// taken here is the turn's delivery lease: a barge-in advances the session
// epoch and every later send of this turn is suppressed.
func (p *Pipeline) RespondStream(ctx context.Context, s *session.Session, text string) {
	epoch := s.TurnEpoch()
	conv, prompt, roleCfg, err := p.openTurn(ctx, s, text)
	if err != nil {
		p.logger.Errorf("session %s: %v", s.ID, err)
		if !errors.Is(err, errConversationNotReady) {
			p.speakApology(s, apologyStream)
		}
		return
	}

	eng, err := p.engineFor(ctx, roleCfg)
	if err != nil {
		p.logger.Errorf("session %s: engine unavailable: %v", s.ID, err)
		p.speakApology(s, apologyStream)
		return
	}

	ch, err := eng.Stream(ctx, prompt)
	if err != nil {
		p.logger.Errorf("session %s: stream open failed: %v", s.ID, err)
		p.speakApology(s, apologyStream)
		return
	}

	turn := NewStreamingTurn()
	interrupted := func() bool { return s.TurnEpoch() != epoch }
	p.audio.SetSpeaking(s.ID, true)
	p.deliver(s, func() error { return p.delivery.SpeechStart(s) })

	aborted := false
	for d := range ch {
		if d.Err != nil {
			p.logger.Errorf("session %s: mid-stream failure: %v", s.ID, d.Err)
			if !interrupted() {
				p.deliver(s, func() error {
					return p.delivery.Sentence(s, Sentence{Text: apologyStream, IsFirst: true, IsLast: true})
				})
			}
			aborted = true
			break
		}
		turn.Collect(d)
		p.executeToolCalls(ctx, s, d.ToolCalls)
		for _, sent := range turn.Feed(d.Content) {
			if interrupted() {
				continue
			}
			sent := sent
			p.deliver(s, func() error { return p.delivery.Sentence(s, sent) })
		}
	}
	if !aborted {
		for _, sent := range turn.Complete() {
			if interrupted() {
				break
			}
			sent := sent
			p.deliver(s, func() error { return p.delivery.Sentence(s, sent) })
		}
	}

	// a barge-in already stopped device playback and handed the speaking
	// mark to the next turn; touching either here would clobber it
	if !interrupted() {
		p.deliver(s, func() error { return p.delivery.SpeechStop(s) })
		p.audio.SetSpeaking(s.ID, false)
	}

	if aborted {
		return
	}
	p.closeTurn(ctx, s, conv, prompt, turn)
}

// Respond runs one blocking turn: a single engine call, spoken as one
// sentence.
func (p *Pipeline) Respond(ctx context.Context, s *session.Session, text string) {
	epoch := s.TurnEpoch()
	conv, prompt, roleCfg, err := p.openTurn(ctx, s, text)
	if err != nil {
		p.logger.Errorf("session %s: %v", s.ID, err)
		if !errors.Is(err, errConversationNotReady) {
			p.speakApology(s, apologyBlocking)
		}
		return
	}

	eng, err := p.engineFor(ctx, roleCfg)
	if err != nil {
		p.logger.Errorf("session %s: engine unavailable: %v", s.ID, err)
		p.speakApology(s, apologyBlocking)
		return
	}

	resp, err := eng.Call(ctx, prompt)
	if err != nil {
		p.logger.Errorf("session %s: engine call failed: %v", s.ID, err)
		p.speakApology(s, apologyBlocking)
		return
	}

	turn := NewStreamingTurn()
	turn.Collect(engine.Delta{Content: resp.Content, ToolCalls: resp.ToolCalls, Usage: resp.Usage})
	turn.full.WriteString(resp.Content)
	turn.firstResponseAt = time.Now()
	turn.firstSpeechAt = turn.firstResponseAt

	p.executeToolCalls(ctx, s, resp.ToolCalls)

	if s.TurnEpoch() == epoch {
		p.audio.SetSpeaking(s.ID, true)
		p.deliver(s, func() error { return p.delivery.SpeechStart(s) })
		p.deliver(s, func() error {
			return p.delivery.Sentence(s, Sentence{Text: resp.Content, IsFirst: true, IsLast: true})
		})
		p.deliver(s, func() error { return p.delivery.SpeechStop(s) })
		p.audio.SetSpeaking(s.ID, false)
	}

	p.closeTurn(ctx, s, conv, prompt, turn)
}

// openTurn stamps the turn, appends and persists the user message, and
// builds the prompt.
func (p *Pipeline) openTurn(ctx context.Context, s *session.Session, text string) (*types.Conversation, engine.Prompt, *types.RoleConfig, error) {
	conv := s.Conversation()
	if conv == nil {
		return nil, engine.Prompt{}, nil, errConversationNotReady
	}

	now := time.Now()
	s.MarkUserTime(now)
	p.recent.Clear(s.ID)

	userMsg := types.TurnMessage{Role: types.RoleUser, Content: text, CreatedAt: now}
	conv.Add(userMsg)
	if err := p.turns.Append(ctx, conv.DeviceID, conv.RoleID, userMsg); err != nil {
		p.logger.Warnf("session %s: user turn not persisted: %v", s.ID, err)
	}

	p.deliver(s, func() error { return p.delivery.EchoUserText(s, text) })

	roleCfg, err := p.loadRole(ctx, s)
	if err != nil {
		return nil, engine.Prompt{}, nil, err
	}
	return conv, p.buildPrompt(conv, s, roleCfg), roleCfg, nil
}

// closeTurn resolves attribution and persists the assistant message.
// Persistence failures are logged and never reach the device.
func (p *Pipeline) closeTurn(ctx context.Context, s *session.Session, conv *types.Conversation, prompt engine.Prompt, turn *StreamingTurn) {
	toolName := p.resolver.Resolve(ctx, &AttributionInput{
		Session:  s,
		Prompt:   prompt,
		Deltas:   turn.Deltas(),
		FullText: turn.FullText(),
	})

	now := time.Now()
	s.MarkAssistantTime(now)
	s.SetAttr(session.AttrFirstModelResponseTime, turn.FirstResponseAt())
	s.SetAttr(session.AttrFirstSpeechTime, turn.FirstSpeechAt())

	msg := types.TurnMessage{
		Role:            types.RoleAssistant,
		Content:         turn.FullText(),
		ToolName:        toolName,
		CreatedAt:       now,
		FirstResponseAt: turn.FirstResponseAt(),
		FirstSpeechAt:   turn.FirstSpeechAt(),
	}
	if u := turn.Usage(); u != nil {
		msg.PromptTokens = u.PromptTokens
		msg.TotalTokens = u.TotalTokens
	}

	conv.Add(msg)
	if err := p.turns.Append(ctx, conv.DeviceID, conv.RoleID, msg); err != nil {
		p.logger.Warnf("session %s: assistant turn not persisted: %v", s.ID, err)
	}
}

func (p *Pipeline) loadRole(ctx context.Context, s *session.Session) (*types.RoleConfig, error) {
	d := s.Device()
	if d == nil || d.RoleID == nil {
		return nil, fmt.Errorf("device not bound to a role")
	}
	roleCfg, err := p.roles.LoadRole(ctx, *d.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role %d: %w", *d.RoleID, err)
	}
	return roleCfg, nil
}

func (p *Pipeline) engineFor(ctx context.Context, roleCfg *types.RoleConfig) (engine.Engine, error) {
	if roleCfg.ModelID == nil {
		return nil, fmt.Errorf("role %d has no model configured", roleCfg.RoleID)
	}
	pc, err := p.roles.LoadProvider(ctx, *roleCfg.ModelID)
	if err != nil {
		return nil, fmt.Errorf("load provider %d: %w", *roleCfg.ModelID, err)
	}
	return p.factory.Take(ctx, engine.ProviderSpec{
		ConfigID:  pc.ConfigID,
		Provider:  pc.Provider,
		ModelName: pc.ModelName,
		APIURL:    pc.APIURL,
		APIKey:    pc.APIKey,
	})
}

func (p *Pipeline) buildPrompt(conv *types.Conversation, s *session.Session, roleCfg *types.RoleConfig) engine.Prompt {
	var prompt engine.Prompt
	if roleCfg.Prompt != "" {
		prompt.Msgs = append(prompt.Msgs, engine.Message{Role: engine.SYSTEM, Content: roleCfg.Prompt})
	}
	for _, m := range conv.Messages() {
		role := engine.USER
		if m.Role == types.RoleAssistant {
			role = engine.ASSISTANT
		}
		prompt.Msgs = append(prompt.Msgs, engine.Message{Role: role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	if s.SupportsToolCalls() {
		prompt.Tools = s.Tools.Specs()
	}
	return prompt
}

// speakApology degrades a failed turn to a short spoken apology. The session
// stays open.
func (p *Pipeline) speakApology(s *session.Session, text string) {
	p.audio.SetSpeaking(s.ID, true)
	p.deliver(s, func() error { return p.delivery.SpeechStart(s) })
	p.deliver(s, func() error {
		return p.delivery.Sentence(s, Sentence{Text: text, IsFirst: true, IsLast: true})
	})
	p.deliver(s, func() error { return p.delivery.SpeechStop(s) })
	p.audio.SetSpeaking(s.ID, false)
}

// executeToolCalls hands model-requested invocations to the tool executor
// off the delivery path. Results come back through the session's pending
// reply futures; failures only cost the attribution label.
func (p *Pipeline) executeToolCalls(ctx context.Context, s *session.Session, calls []engine.ToolCall) {
	for _, call := range calls {
		call := call
		p.runner.Go("tool-exec", func() error {
			_, err := p.executor.Execute(ctx, s.ID, s.Tools, call)
			return err
		})
	}
}

func (p *Pipeline) deliver(s *session.Session, fn func() error) {
	if err := fn(); err != nil {
		p.logger.Warnf("session %s: delivery failed: %v", s.ID, err)
	}
}
