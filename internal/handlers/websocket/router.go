package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vocalis-ai/vocalis/internal/domains/listen"
	"github.com/vocalis-ai/vocalis/internal/domains/session"
	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
	"github.com/vocalis-ai/vocalis/pkg/engine"
	"github.com/vocalis-ai/vocalis/pkg/tasks"
	"github.com/vocalis-ai/vocalis/pkg/tools"
)

const deviceToolTimeout = 10 * time.Second

var defaultAudioParams = AudioParams{
	Format:        "opus",
	SampleRate:    16000,
	Channels:      1,
	FrameDuration: 60,
}

// Router dispatches parsed inbound messages. The switch covers the whole
// Inbound set; a new message kind means a new case here.
type Router struct {
	logger   *Logger.Logger
	registry *session.Registry
	listen   *listen.Coordinator
	devices  types.DeviceDirectory
	sender   *Sender
	runner   *tasks.Runner

	requestID atomic.Int64
}

func NewRouter(
	logger *Logger.Logger,
	registry *session.Registry,
	lc *listen.Coordinator,
	devices types.DeviceDirectory,
	sender *Sender,
	runner *tasks.Runner,
) *Router {
	return &Router{
		logger:   logger.Named("router"),
		registry: registry,
		listen:   lc,
		devices:  devices,
		sender:   sender,
		runner:   runner,
	}
}

func (r *Router) Dispatch(ctx context.Context, s *session.Session, msg Inbound) {
	switch m := msg.(type) {
	case HelloMessage:
		r.handleHello(s, m)
	case ListenMessage:
		r.listen.Handle(ctx, s, m.State, m.Mode, m.Text)
	case AbortMessage:
		r.logger.Debugf("session %s: abort (%s)", s.ID, m.Reason)
		r.listen.Abort(s)
	case IotMessage:
		r.handleIot(s, m)
	case ToolReplyMessage:
		s.ResolvePending(m.RequestID, m.Payload)
	case GoodbyeMessage:
		r.handleGoodbye(ctx, s)
	default:
		r.logger.Warnf("session %s: unhandled message kind %q", s.ID, msg.kind())
	}
}

// handleHello acknowledges the handshake with the negotiated audio params.
// Unset fields fall back to the server defaults.
func (r *Router) handleHello(s *session.Session, m HelloMessage) {
	params := m.AudioParams
	if params.Format == "" {
		params.Format = defaultAudioParams.Format
	}
	if params.SampleRate == 0 {
		params.SampleRate = defaultAudioParams.SampleRate
	}
	if params.Channels == 0 {
		params.Channels = defaultAudioParams.Channels
	}
	if params.FrameDuration == 0 {
		params.FrameDuration = defaultAudioParams.FrameDuration
	}
	if err := r.sender.HelloAck(s, params); err != nil {
		r.logger.Warnf("session %s: hello ack failed: %v", s.ID, err)
	}
}

// handleIot registers each announced capability as a session-scoped tool
// whose handler round-trips the invocation back to the device.
func (r *Router) handleIot(s *session.Session, m IotMessage) {
	for _, d := range m.Descriptors {
		spec := engine.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Properties,
		}
		if err := s.Tools.Register(tools.Tool{
			Spec:    spec,
			Handler: r.deviceToolHandler(s, d.Name),
			Tags:    []string{"iot"},
		}); err != nil {
			r.logger.Warnf("session %s: iot tool %s not registered: %v", s.ID, d.Name, err)
		}
	}
	if len(m.States) > 0 {
		r.logger.Debugf("session %s: iot states: %s", s.ID, string(m.States))
	}
}

func (r *Router) deviceToolHandler(s *session.Session, name string) tools.Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		id := r.requestID.Add(1)
		ch := s.RegisterPending(id)
		if err := r.sender.IotCommand(s, id, name, args); err != nil {
			return nil, err
		}

		select {
		case payload, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("session closed before %s replied", name)
			}
			var result map[string]any
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &result); err != nil {
					return nil, fmt.Errorf("malformed %s reply: %w", name, err)
				}
			}
			return result, nil
		case <-time.After(deviceToolTimeout):
			return nil, fmt.Errorf("%s timed out after %s", name, deviceToolTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleGoodbye puts the device into standby and tears the session down.
// The state write goes through the runner so a slow database never stalls
// the read loop's final frames.
func (r *Router) handleGoodbye(ctx context.Context, s *session.Session) {
	if d := s.Device(); d != nil {
		deviceID := d.DeviceID
		r.runner.Go("device-standby", func() error {
			return r.devices.UpdateState(context.WithoutCancel(ctx), deviceID, types.DeviceStateStandby)
		})
	}
	r.listen.Drop(s.ID)
	r.registry.Close(s.ID)
}
