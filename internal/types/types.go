package types

import (
	"context"
	"sync"
	"time"
)

// DeviceState is the online-state of a physical or virtual device.
type DeviceState string

const (
	DeviceStateOnline  DeviceState = "online"
	DeviceStateStandby DeviceState = "standby"
	DeviceStateOffline DeviceState = "offline"
)

// Device is a registered (or not yet registered) endpoint of the network.
// A device with a nil RoleID is unbound and goes through the provisioning
// flow on connect.
type Device struct {
	DeviceID   string
	SessionID  string
	DeviceName string
	UserID     int
	RoleID     *uint
	Type       string // "web", "esp32", ...
	State      DeviceState
	LastLogin  time.Time
}

func (d *Device) Bound() bool {
	return d != nil && d.RoleID != nil
}

// VerificationCode is the spoken provisioning code issued to an unnamed
// device, together with the cached reference of its synthesized audio.
type VerificationCode struct {
	DeviceID  string
	SessionID string
	Code      string
	AudioPath string
}

// RoleConfig is the assistant persona a device is bound to, pointing at the
// provider configs its session should warm up.
type RoleConfig struct {
	RoleID    uint
	UserID    int
	RoleName  string
	Prompt    string
	IsDefault bool
	ModelID   *uint
	SttID     *uint
	TtsID     *uint
	VoiceName string
	TtsPitch  float64
	TtsSpeed  float64
}

// ProviderConfig is one STT/TTS/LLM provider entry referenced by a role.
type ProviderConfig struct {
	ConfigID  uint
	Provider  string // "openai", "ollama", "gemini", ...
	ModelName string
	APIURL    string
	APIKey    string
}

type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// TurnMessage is one entry of a conversation: a user utterance or the
// assistant's full reply for a turn.
type TurnMessage struct {
	Role      TurnRole
	Content   string
	ToolName  string
	CreatedAt time.Time

	// assistant-side latency metadata, zero for user messages
	FirstResponseAt time.Time
	FirstSpeechAt   time.Time
	PromptTokens    int
	TotalTokens     int
}

// Conversation is the append-only ordered turn history owned by one session.
// Messages are only ever added through Add, never reordered.
type Conversation struct {
	DeviceID string
	RoleID   uint

	mu   sync.Mutex
	msgs []TurnMessage
}

func NewConversation(deviceID string, roleID uint, history []TurnMessage) *Conversation {
	return &Conversation{
		DeviceID: deviceID,
		RoleID:   roleID,
		msgs:     append([]TurnMessage(nil), history...),
	}
}

func (c *Conversation) Add(msg TurnMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	c.msgs = append(c.msgs, msg)
}

// Messages returns a snapshot of the ordered history.
func (c *Conversation) Messages() []TurnMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TurnMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// DeviceDirectory is the durable device table.
type DeviceDirectory interface {
	Lookup(ctx context.Context, deviceID string) (*Device, error)
	Upsert(ctx context.Context, d Device) error
	UpdateState(ctx context.Context, deviceID string, state DeviceState) error
	// verification-code issuance; GenerateCode reuses an unexpired code for
	// the device when one exists
	GenerateCode(ctx context.Context, deviceID string) (*VerificationCode, error)
	UpdateCode(ctx context.Context, code VerificationCode) error
}

// RoleConfigStore loads role and provider configuration.
type RoleConfigStore interface {
	LoadRole(ctx context.Context, roleID uint) (*RoleConfig, error)
	RolesByUser(ctx context.Context, userID int) ([]RoleConfig, error)
	LoadProvider(ctx context.Context, configID uint) (*ProviderConfig, error)
}

// TurnStore persists completed turn messages. Persistence failures are
// logged by callers and never alter dialogue flow.
type TurnStore interface {
	Append(ctx context.Context, deviceID string, roleID uint, msg TurnMessage) error
	History(ctx context.Context, deviceID string, roleID uint, limit int) ([]TurnMessage, error)
}
