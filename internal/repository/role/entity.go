package role

import (
	"github.com/vocalis-ai/vocalis/internal/types"
)

// RoleEntity is the GORM mapping of an assistant persona.
type RoleEntity struct {
	RoleID    uint    `gorm:"primaryKey;column:role_id;autoIncrement"`
	UserID    int     `gorm:"column:user_id;index"`
	RoleName  string  `gorm:"column:role_name;type:varchar(64)"`
	Prompt    string  `gorm:"column:prompt;type:text"`
	IsDefault bool    `gorm:"column:is_default"`
	ModelID   *uint   `gorm:"column:model_id"`
	SttID     *uint   `gorm:"column:stt_id"`
	TtsID     *uint   `gorm:"column:tts_id"`
	VoiceName string  `gorm:"column:voice_name;type:varchar(64)"`
	TtsPitch  float64 `gorm:"column:tts_pitch"`
	TtsSpeed  float64 `gorm:"column:tts_speed"`
}

func (RoleEntity) TableName() string {
	return "roles"
}

func (e *RoleEntity) ToDomain() *types.RoleConfig {
	return &types.RoleConfig{
		RoleID:    e.RoleID,
		UserID:    e.UserID,
		RoleName:  e.RoleName,
		Prompt:    e.Prompt,
		IsDefault: e.IsDefault,
		ModelID:   e.ModelID,
		SttID:     e.SttID,
		TtsID:     e.TtsID,
		VoiceName: e.VoiceName,
		TtsPitch:  e.TtsPitch,
		TtsSpeed:  e.TtsSpeed,
	}
}

// ProviderEntity is one configured STT/TTS/LLM provider.
type ProviderEntity struct {
	ConfigID  uint   `gorm:"primaryKey;column:config_id;autoIncrement"`
	Provider  string `gorm:"column:provider;type:varchar(32)"`
	ModelName string `gorm:"column:model_name;type:varchar(128)"`
	APIURL    string `gorm:"column:api_url;type:varchar(255)"`
	APIKey    string `gorm:"column:api_key;type:varchar(255)"`
}

func (ProviderEntity) TableName() string {
	return "provider_configs"
}

func (e *ProviderEntity) ToDomain() *types.ProviderConfig {
	return &types.ProviderConfig{
		ConfigID:  e.ConfigID,
		Provider:  e.Provider,
		ModelName: e.ModelName,
		APIURL:    e.APIURL,
		APIKey:    e.APIKey,
	}
}
