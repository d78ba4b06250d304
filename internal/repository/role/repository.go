package role

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vocalis-ai/vocalis/internal/types"
)

var (
	ErrRoleNotFound     = errors.New("role not found")
	ErrProviderNotFound = errors.New("provider config not found")
)

// GormRoleRepo implements types.RoleConfigStore on MySQL.
type GormRoleRepo struct {
	db *gorm.DB
}

func NewGormRoleRepo(db *gorm.DB) types.RoleConfigStore {
	return &GormRoleRepo{db: db}
}

func (g *GormRoleRepo) LoadRole(ctx context.Context, roleID uint) (*types.RoleConfig, error) {
	var entity RoleEntity
	if err := g.db.WithContext(ctx).Where("role_id = ?", roleID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("load role %d: %w", roleID, err)
	}
	return entity.ToDomain(), nil
}

// RolesByUser lists a user's roles, default first.
func (g *GormRoleRepo) RolesByUser(ctx context.Context, userID int) ([]types.RoleConfig, error) {
	var entities []RoleEntity
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, role_id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("list roles for user %d: %w", userID, err)
	}

	roles := make([]types.RoleConfig, len(entities))
	for i := range entities {
		roles[i] = *entities[i].ToDomain()
	}
	return roles, nil
}

func (g *GormRoleRepo) LoadProvider(ctx context.Context, configID uint) (*types.ProviderConfig, error) {
	var entity ProviderEntity
	if err := g.db.WithContext(ctx).Where("config_id = ?", configID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("load provider %d: %w", configID, err)
	}
	return entity.ToDomain(), nil
}
