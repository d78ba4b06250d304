package listen

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// Capture states.
const (
	StateIdle      = "idle"
	StateListening = "listening"

	eventStart = "start"
	eventStop  = "stop"
)

// TextSink receives user text once the capture layer has been bypassed or
// drained. The dialogue pipeline implements it.
type TextSink interface {
	HandleUserText(ctx context.Context, s *session.Session, text string)
}

// Interrupter cancels in-flight speech delivery for a session. The websocket
// sender implements it.
type Interrupter interface {
	Interrupt(s *session.Session, mode session.ListenMode)
}

// Coordinator owns one capture state machine per session and drives it from
// inbound listen control messages. Transitions for a given session arrive
// from that session's read loop only, so they are strictly sequential.
type Coordinator struct {
	logger    *Logger.Logger
	audio     audio.Subsystem
	sink      TextSink
	interrupt Interrupter

	mu       sync.Mutex
	machines map[string]*fsm.FSM
}

func NewCoordinator(logger *Logger.Logger, sub audio.Subsystem, sink TextSink, interrupt Interrupter) *Coordinator {
	return &Coordinator{
		logger:    logger.Named("listen"),
		audio:     sub,
		sink:      sink,
		interrupt: interrupt,
		machines:  make(map[string]*fsm.FSM),
	}
}

func (c *Coordinator) machine(sessionID string) *fsm.FSM {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.machines[sessionID]
	if !ok {
		m = fsm.NewFSM(
			StateIdle,
			fsm.Events{
				{Name: eventStart, Src: []string{StateIdle}, Dst: StateListening},
				{Name: eventStop, Src: []string{StateListening}, Dst: StateIdle},
			},
			fsm.Callbacks{},
		)
		c.machines[sessionID] = m
	}
	return m
}

// State reports the current capture state of a session.
func (c *Coordinator) State(sessionID string) string {
	return c.machine(sessionID).Current()
}

// Handle dispatches one listen control message. Unknown state values are
// logged and dropped.
func (c *Coordinator) Handle(ctx context.Context, s *session.Session, state, mode, text string) {
	switch state {
	case "start":
		c.Start(ctx, s, parseMode(mode))
	case "stop":
		c.Stop(ctx, s)
	case "text":
		c.Text(ctx, s, text)
	case "detect":
		c.Detect(ctx, s, text)
	default:
		c.logger.Warnf("session %s: unknown listen state %q, ignoring", s.ID, state)
	}
}

func (c *Coordinator) Start(ctx context.Context, s *session.Session, mode session.ListenMode) {
	s.SetMode(mode)
	if err := c.audio.InitCapture(s.ID); err != nil {
		c.logger.Errorf("session %s: capture init failed: %v", s.ID, err)
		return
	}
	if err := c.machine(s.ID).Event(ctx, eventStart); err != nil {
		// already listening; start is idempotent from the device's view
		c.logger.Debugf("session %s: %v", s.ID, err)
	}
}

func (c *Coordinator) Stop(ctx context.Context, s *session.Session) {
	s.SetStreaming(false)
	c.audio.ResetCapture(s.ID)
	if err := c.machine(s.ID).Event(ctx, eventStop); err != nil {
		c.logger.Debugf("session %s: %v", s.ID, err)
	}
}

// Text forwards typed input straight into the dialogue pipeline. When the
// device is still playing synthesized speech this is a barge-in: delivery is
// cancelled first, the model call behind it is not.
func (c *Coordinator) Text(ctx context.Context, s *session.Session, text string) {
	if c.audio.IsSpeaking(s.ID) {
		s.AbortTurn()
		c.interrupt.Interrupt(s, s.Mode())
		c.audio.SetSpeaking(s.ID, false)
	}
	c.sink.HandleUserText(ctx, s, text)
}

// Detect handles a device-side wake-word hit. The wake phrase itself becomes
// the user turn.
func (c *Coordinator) Detect(ctx context.Context, s *session.Session, wakeText string) {
	s.SetMode(session.ModeWake)
	if wakeText == "" {
		return
	}
	c.sink.HandleUserText(ctx, s, wakeText)
}

// Abort emits a barge-in for an explicit abort message.
func (c *Coordinator) Abort(s *session.Session) {
	s.AbortTurn()
	c.interrupt.Interrupt(s, s.Mode())
	c.audio.SetSpeaking(s.ID, false)
}

// Drop discards machine state for a closed session.
func (c *Coordinator) Drop(sessionID string) {
	c.mu.Lock()
	delete(c.machines, sessionID)
	c.mu.Unlock()
	c.audio.ResetCapture(sessionID)
}

func parseMode(mode string) session.ListenMode {
	switch mode {
	case "manual":
		return session.ModeManual
	case "text":
		return session.ModeText
	case "wake":
		return session.ModeWake
	default:
		return session.ModeAuto
	}
}
