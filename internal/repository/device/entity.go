package device

import (
	"time"

	"github.com/vocalis-ai/vocalis/internal/types"
)

// DeviceEntity is the GORM mapping of a registered device.
type DeviceEntity struct {
	DeviceID   string  `gorm:"primaryKey;column:device_id;type:varchar(64)"`
	SessionID  string  `gorm:"column:session_id;type:varchar(64)"`
	DeviceName string  `gorm:"column:device_name;type:varchar(128)"`
	UserID     int     `gorm:"column:user_id;index"`
	RoleID     *uint   `gorm:"column:role_id"`
	Type       string  `gorm:"column:type;type:varchar(32)"`
	State      string  `gorm:"column:state;type:varchar(16)"`
	LastLogin  time.Time `gorm:"column:last_login"`
	UpdatedAt  time.Time
}

func (DeviceEntity) TableName() string {
	return "devices"
}

func (e *DeviceEntity) ToDomain() *types.Device {
	return &types.Device{
		DeviceID:   e.DeviceID,
		SessionID:  e.SessionID,
		DeviceName: e.DeviceName,
		UserID:     e.UserID,
		RoleID:     e.RoleID,
		Type:       e.Type,
		State:      types.DeviceState(e.State),
		LastLogin:  e.LastLogin,
	}
}

func (e *DeviceEntity) FromDomain(d *types.Device) {
	e.DeviceID = d.DeviceID
	e.SessionID = d.SessionID
	e.DeviceName = d.DeviceName
	e.UserID = d.UserID
	e.RoleID = d.RoleID
	e.Type = d.Type
	e.State = string(d.State)
	e.LastLogin = d.LastLogin
}

// CodeEntity is one issued verification code and its cached audio.
type CodeEntity struct {
	DeviceID  string    `gorm:"primaryKey;column:device_id;type:varchar(64)"`
	SessionID string    `gorm:"column:session_id;type:varchar(64)"`
	Code      string    `gorm:"column:code;type:varchar(16)"`
	AudioPath string    `gorm:"column:audio_path;type:varchar(255)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (CodeEntity) TableName() string {
	return "verification_codes"
}

func (e *CodeEntity) ToDomain() *types.VerificationCode {
	return &types.VerificationCode{
		DeviceID:  e.DeviceID,
		SessionID: e.SessionID,
		Code:      e.Code,
		AudioPath: e.AudioPath,
	}
}
