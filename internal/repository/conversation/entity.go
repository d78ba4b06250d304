package conversation

import (
	"time"

	"github.com/vocalis-ai/vocalis/internal/types"
)

// TurnEntity is the GORM mapping of one persisted turn message.
type TurnEntity struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	DeviceID string `gorm:"column:device_id;type:varchar(64);index:idx_turns_device_role"`
	RoleID   uint   `gorm:"column:role_id;index:idx_turns_device_role"`

	Role     string `gorm:"column:role;type:varchar(16)"`
	Content  string `gorm:"column:content;type:text"`
	ToolName string `gorm:"column:tool_name;type:varchar(64)"`

	CreatedAt       time.Time  `gorm:"column:created_at;index"`
	FirstResponseAt *time.Time `gorm:"column:first_response_at"`
	FirstSpeechAt   *time.Time `gorm:"column:first_speech_at"`
	PromptTokens    int        `gorm:"column:prompt_tokens"`
	TotalTokens     int        `gorm:"column:total_tokens"`
}

func (TurnEntity) TableName() string {
	return "conversation_turns"
}

func (e *TurnEntity) ToDomain() types.TurnMessage {
	m := types.TurnMessage{
		Role:         types.TurnRole(e.Role),
		Content:      e.Content,
		ToolName:     e.ToolName,
		CreatedAt:    e.CreatedAt,
		PromptTokens: e.PromptTokens,
		TotalTokens:  e.TotalTokens,
	}
	if e.FirstResponseAt != nil {
		m.FirstResponseAt = *e.FirstResponseAt
	}
	if e.FirstSpeechAt != nil {
		m.FirstSpeechAt = *e.FirstSpeechAt
	}
	return m
}

func (e *TurnEntity) FromDomain(deviceID string, roleID uint, m types.TurnMessage) {
	e.DeviceID = deviceID
	e.RoleID = roleID
	e.Role = string(m.Role)
	e.Content = m.Content
	e.ToolName = m.ToolName
	e.CreatedAt = m.CreatedAt
	if !m.FirstResponseAt.IsZero() {
		t := m.FirstResponseAt
		e.FirstResponseAt = &t
	}
	if !m.FirstSpeechAt.IsZero() {
		t := m.FirstSpeechAt
		e.FirstSpeechAt = &t
	}
	e.PromptTokens = m.PromptTokens
	e.TotalTokens = m.TotalTokens
}
