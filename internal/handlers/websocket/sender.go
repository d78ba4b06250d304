package websocket

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vocalis-ai/vocalis/internal/domains/dialogue"
	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/audio"
)

const audioFrameBytes = 4096

// connOutbound adapts one gorilla connection to the session send handle.
// gorilla permits a single concurrent writer, hence the mutex.
type connOutbound struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnOutbound(conn *websocket.Conn) *connOutbound {
	return &connOutbound{conn: conn}
}

func (o *connOutbound) SendJSON(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteJSON(v)
}

func (o *connOutbound) SendAudio(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (o *connOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.Close()
}

// Sender builds every outbound message of the protocol. It implements the
// dialogue delivery, listen interrupt, and binding notice surfaces so the
// domain packages never see wire formats.
type Sender struct {
	logger *Logger.Logger
	synth  audio.Synthesizer
}

func NewSender(logger *Logger.Logger, synth audio.Synthesizer) *Sender {
	return &Sender{logger: logger.Named("sender"), synth: synth}
}

func (sn *Sender) HelloAck(s *session.Session, params AudioParams) error {
	return s.SendJSON(map[string]any{
		"type":         "hello",
		"transport":    "websocket",
		"session_id":   s.ID,
		"audio_params": params,
	})
}

func (sn *Sender) SpeechStart(s *session.Session) error {
	if err := s.SendJSON(map[string]any{
		"type": "llm", "emotion": "neutral", "session_id": s.ID,
	}); err != nil {
		return err
	}
	return s.SendJSON(map[string]any{
		"type": "tts", "state": "start", "session_id": s.ID,
	})
}

// Sentence announces the text, then streams its synthesized audio. The empty
// terminal marker only closes out the turn and is never synthesized.
func (sn *Sender) Sentence(s *session.Session, sent dialogue.Sentence) error {
	if sent.Text == "" {
		return nil
	}
	if err := s.SendJSON(map[string]any{
		"type": "tts", "state": "sentence_start", "text": sent.Text, "session_id": s.ID,
	}); err != nil {
		return err
	}

	path, err := sn.synth.Synthesize(context.Background(), sent.Text)
	if err != nil {
		return err
	}
	return sn.streamFile(s, path)
}

func (sn *Sender) SpeechStop(s *session.Session) error {
	return s.SendJSON(map[string]any{
		"type": "tts", "state": "stop", "session_id": s.ID,
	})
}

func (sn *Sender) EchoUserText(s *session.Session, text string) error {
	return s.SendJSON(map[string]any{
		"type": "stt", "text": text, "session_id": s.ID,
	})
}

// Interrupt aborts in-flight speech delivery on the device.
func (sn *Sender) Interrupt(s *session.Session, mode session.ListenMode) {
	if err := s.SendJSON(map[string]any{
		"type": "tts", "state": "stop", "session_id": s.ID, "mode": string(mode),
	}); err != nil {
		sn.logger.Warnf("session %s: interrupt not delivered: %v", s.ID, err)
	}
}

// IotCommand asks the device to invoke one of its announced capabilities.
func (sn *Sender) IotCommand(s *session.Session, requestID int64, name string, args map[string]any) error {
	return s.SendJSON(map[string]any{
		"type":       "iot",
		"session_id": s.ID,
		"commands": []map[string]any{
			{"request_id": requestID, "name": name, "parameters": args},
		},
	})
}

// VerificationNotice speaks a provisioning message from pre-synthesized
// audio.
func (sn *Sender) VerificationNotice(s *session.Session, text, audioPath string) error {
	if err := s.SendJSON(map[string]any{
		"type": "tts", "state": "start", "session_id": s.ID,
	}); err != nil {
		return err
	}
	if err := s.SendJSON(map[string]any{
		"type": "tts", "state": "sentence_start", "text": text, "session_id": s.ID,
	}); err != nil {
		return err
	}
	if audioPath != "" {
		if err := sn.streamFile(s, audioPath); err != nil {
			sn.logger.Warnf("session %s: notice audio not streamed: %v", s.ID, err)
		}
	}
	return sn.SpeechStop(s)
}

func (sn *Sender) streamFile(s *session.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, audioFrameBytes)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if err := s.SendAudio(frame); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
