package websocket

import (
	"encoding/json"
	"fmt"
)

// Inbound is the closed set of device-originated control messages. Every
// implementation lives in this file; Router dispatches over the full set.
type Inbound interface {
	kind() string
}

// AudioParams are the device's announced capture parameters.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

type HelloMessage struct {
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

type ListenMessage struct {
	State string `json:"state"`
	Mode  string `json:"mode"`
	Text  string `json:"text"`
}

type AbortMessage struct {
	Reason string `json:"reason"`
}

// IotMessage carries either capability descriptors or state updates from the
// device's on-board peripherals.
type IotMessage struct {
	Descriptors []IotDescriptor `json:"descriptors"`
	States      json.RawMessage `json:"states"`
}

// IotDescriptor announces one invocable device capability.
type IotDescriptor struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Properties  map[string]map[string]any `json:"properties"`
}

// ToolReplyMessage completes a server-initiated device tool round trip.
type ToolReplyMessage struct {
	RequestID int64           `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type GoodbyeMessage struct{}

func (HelloMessage) kind() string     { return "hello" }
func (ListenMessage) kind() string    { return "listen" }
func (AbortMessage) kind() string     { return "abort" }
func (IotMessage) kind() string       { return "iot" }
func (ToolReplyMessage) kind() string { return "tool_reply" }
func (GoodbyeMessage) kind() string   { return "goodbye" }

type envelope struct {
	Type string `json:"type"`
}

// ParseInbound decodes one text frame into its message kind.
func ParseInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case "hello":
		var m HelloMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("hello: %w", err)
		}
		return m, nil
	case "listen":
		var m ListenMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}
		return m, nil
	case "abort":
		var m AbortMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("abort: %w", err)
		}
		return m, nil
	case "iot":
		var m IotMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("iot: %w", err)
		}
		return m, nil
	case "tool_reply":
		var m ToolReplyMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("tool_reply: %w", err)
		}
		return m, nil
	case "goodbye":
		return GoodbyeMessage{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
