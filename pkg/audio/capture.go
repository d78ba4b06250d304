package audio

import (
	"fmt"
	"sync"

	"github.com/smallnest/ringbuffer"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
)

// Subsystem is the audio-capture collaborator of a session: it owns the
// VAD-facing capture buffers and knows whether synthesized speech is
// currently being delivered to the device.
type Subsystem interface {
	InitCapture(sessionID string) error
	ResetCapture(sessionID string)
	Initialized(sessionID string) bool
	Feed(sessionID string, frame []byte) error
	IsSpeaking(sessionID string) bool
	SetSpeaking(sessionID string, speaking bool)
}

const defaultCaptureBytes = 1 << 16

type captureSession struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer
}

// CaptureManager is the in-process Subsystem implementation. One ring buffer
// per session; frames overwrite the oldest data rather than blocking the
// connection read loop. Speaking marks are tracked apart from capture state
// since text-only sessions receive synthesized speech without ever opening a
// capture session.
type CaptureManager struct {
	logger *Logger.Logger

	mu       sync.RWMutex
	sessions map[string]*captureSession
	speaking map[string]bool
	capBytes int
}

func NewCaptureManager(logger *Logger.Logger) *CaptureManager {
	return &CaptureManager{
		logger:   logger,
		sessions: make(map[string]*captureSession),
		speaking: make(map[string]bool),
		capBytes: defaultCaptureBytes,
	}
}

func (m *CaptureManager) InitCapture(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil
	}
	m.sessions[sessionID] = &captureSession{
		rb: ringbuffer.New(m.capBytes),
	}
	m.logger.Debugf("capture session initialized: %s", sessionID)
	return nil
}

func (m *CaptureManager) ResetCapture(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.speaking, sessionID)
}

func (m *CaptureManager) Initialized(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}

func (m *CaptureManager) Feed(sessionID string, frame []byte) error {
	m.mu.RLock()
	cs, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no capture session for %s", sessionID)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	// drop oldest audio when the STT consumer lags
	for cs.rb.Free() < len(frame) && cs.rb.Length() > 0 {
		skip := make([]byte, len(frame)-cs.rb.Free())
		if _, err := cs.rb.Read(skip); err != nil {
			cs.rb.Reset()
			break
		}
	}
	_, err := cs.rb.Write(frame)
	return err
}

func (m *CaptureManager) IsSpeaking(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speaking[sessionID]
}

func (m *CaptureManager) SetSpeaking(sessionID string, speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if speaking {
		m.speaking[sessionID] = true
		return
	}
	delete(m.speaking, sessionID)
}
