package device

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vocalis-ai/vocalis/internal/types"
)

const codeDigits = 6

// GormDeviceRepo implements types.DeviceDirectory on MySQL.
type GormDeviceRepo struct {
	db *gorm.DB
}

func NewGormDeviceRepo(db *gorm.DB) types.DeviceDirectory {
	return &GormDeviceRepo{db: db}
}

// Lookup returns (nil, nil) for an unknown device: an unseen device id is a
// normal provisioning entry point, not an error.
func (g *GormDeviceRepo) Lookup(ctx context.Context, deviceID string) (*types.Device, error) {
	var entity DeviceEntity
	if err := g.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup device %s: %w", deviceID, err)
	}
	return entity.ToDomain(), nil
}

func (g *GormDeviceRepo) Upsert(ctx context.Context, d types.Device) error {
	entity := &DeviceEntity{}
	entity.FromDomain(&d)
	entity.LastLogin = time.Now()

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		UpdateAll: true,
	}).Create(entity).Error
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.DeviceID, err)
	}
	return nil
}

func (g *GormDeviceRepo) UpdateState(ctx context.Context, deviceID string, state types.DeviceState) error {
	err := g.db.WithContext(ctx).
		Model(&DeviceEntity{}).
		Where("device_id = ?", deviceID).
		Update("state", string(state)).Error
	if err != nil {
		return fmt.Errorf("update device %s state: %w", deviceID, err)
	}
	return nil
}

// GenerateCode returns the device's current verification code, minting one
// on first request. Reuse keeps the cached audio path valid.
func (g *GormDeviceRepo) GenerateCode(ctx context.Context, deviceID string) (*types.VerificationCode, error) {
	var entity CodeEntity
	err := g.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&entity).Error
	if err == nil {
		return entity.ToDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load code for %s: %w", deviceID, err)
	}

	entity = CodeEntity{
		DeviceID: deviceID,
		Code:     randomCode(),
	}
	if err := g.db.WithContext(ctx).Create(&entity).Error; err != nil {
		return nil, fmt.Errorf("create code for %s: %w", deviceID, err)
	}
	return entity.ToDomain(), nil
}

func (g *GormDeviceRepo) UpdateCode(ctx context.Context, code types.VerificationCode) error {
	err := g.db.WithContext(ctx).
		Model(&CodeEntity{}).
		Where("device_id = ?", code.DeviceID).
		Updates(map[string]any{
			"session_id": code.SessionID,
			"audio_path": code.AudioPath,
		}).Error
	if err != nil {
		return fmt.Errorf("update code for %s: %w", code.DeviceID, err)
	}
	return nil
}

func randomCode() string {
	digits := make([]byte, codeDigits)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10))
	}
	return string(digits)
}
