package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

// Attribute keys tracked per session.
const (
	AttrFirstModelResponseTime = "first_model_response_time"
	AttrFirstSpeechTime        = "first_speech_time"
)

// ListenMode tags how audio capture was initiated.
type ListenMode string

const (
	ModeAuto   ListenMode = "auto"
	ModeManual ListenMode = "manual"
	ModeText   ListenMode = "text"
	ModeWake   ListenMode = "wake"
)

// Outbound is the transport-facing send handle. Implementations belong to
// the websocket layer; the core only ever writes through this.
type Outbound interface {
	SendJSON(v any) error
	SendAudio(frame []byte) error
	Close() error
}

// Session is the server-side state of one device connection. Owned by the
// Registry; other components hold the pointer, never a copy.
type Session struct {
	ID string

	mu           sync.RWMutex
	device       *types.Device
	conversation *types.Conversation
	mode         ListenMode
	streaming    bool
	supportsTool bool
	attrs        map[string]any

	userTime      time.Time
	assistantTime time.Time

	Tools tools.Registry

	out       Outbound
	closed    bool
	closeOnce sync.Once

	turnEpoch atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage
}

func New(id string, out Outbound) *Session {
	return &Session{
		ID:      id,
		out:     out,
		attrs:   make(map[string]any),
		Tools:   tools.NewMemoryRegistry(),
		pending: make(map[int64]chan json.RawMessage),
		mode:    ModeAuto,
	}
}

func (s *Session) Device() *types.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

func (s *Session) SetDevice(d *types.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = d
}

// Conversation is non-nil before any audio frame of a bound session is
// processed; binding initialization sets it synchronously on connect.
func (s *Session) Conversation() *types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversation
}

func (s *Session) SetConversation(c *types.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = c
}

func (s *Session) Mode() ListenMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Session) SetMode(m ListenMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

func (s *Session) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

func (s *Session) SetStreaming(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = v
}

func (s *Session) SupportsToolCalls() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supportsTool
}

func (s *Session) SetSupportsToolCalls(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supportsTool = v
}

func (s *Session) SetAttr(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = v
}

func (s *Session) Attr(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key]
	return v, ok
}

// MarkUserTime stamps the arrival of the current user turn.
func (s *Session) MarkUserTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userTime = t
}

func (s *Session) UserTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userTime
}

func (s *Session) MarkAssistantTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantTime = t
}

// AssistantTime falls back to now when the turn never stamped it.
func (s *Session) AssistantTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.assistantTime.IsZero() {
		return time.Now()
	}
	return s.assistantTime
}

// TurnEpoch is the barge-in epoch. A dialogue turn snapshots it at start
// and stops delivering sentences once the epoch has moved on.
func (s *Session) TurnEpoch() int64 {
	return s.turnEpoch.Load()
}

// AbortTurn advances the epoch, suppressing downstream delivery of any
// in-flight turn. The model call behind the turn keeps running.
func (s *Session) AbortTurn() {
	s.turnEpoch.Add(1)
}

func (s *Session) Open() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// SendJSON writes through the transport handle. After Close it is a no-op;
// a late frame can never resurrect a torn-down session.
func (s *Session) SendJSON(v any) error {
	s.mu.RLock()
	closed := s.closed
	out := s.out
	s.mu.RUnlock()
	if closed || out == nil {
		return nil
	}
	return out.SendJSON(v)
}

func (s *Session) SendAudio(frame []byte) error {
	s.mu.RLock()
	closed := s.closed
	out := s.out
	s.mu.RUnlock()
	if closed || out == nil {
		return nil
	}
	return out.SendAudio(frame)
}

// Close is idempotent and safe to race with an in-flight turn.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		out := s.out
		s.mu.Unlock()
		if out != nil {
			_ = out.Close()
		}
		s.failPending()
	})
}

// RegisterPending installs a future for a device tool round-trip keyed by
// request id. The returned channel receives the reply payload once.
func (s *Session) RegisterPending(requestID int64) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	s.pendingMu.Lock()
	s.pending[requestID] = ch
	s.pendingMu.Unlock()
	return ch
}

// ResolvePending completes and removes the future; unknown ids are ignored.
func (s *Session) ResolvePending(requestID int64, payload json.RawMessage) {
	s.pendingMu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- payload
		close(ch)
	}
}

func (s *Session) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}
