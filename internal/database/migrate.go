package database

import (
	"gorm.io/gorm"

	"github.com/vocalis-ai/vocalis/internal/repository/conversation"
	"github.com/vocalis-ai/vocalis/internal/repository/device"
	"github.com/vocalis-ai/vocalis/internal/repository/role"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&device.DeviceEntity{},
		&device.CodeEntity{},
		&role.RoleEntity{},
		&role.ProviderEntity{},
		&conversation.TurnEntity{},
	)
}
