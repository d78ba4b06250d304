package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"gorm.io/gorm"

	"github.com/vocalis-ai/vocalis/internal/types"
	"github.com/vocalis-ai/vocalis/pkg/Logger"
)

// GormTurnRepo implements types.TurnStore: MySQL is the durable record, a
// redis list per (device, role) keeps the hot history window so session
// startup does not hit the database on every reconnect.
type GormTurnRepo struct {
	db     *gorm.DB
	rc     *redis.Client
	logger *Logger.Logger
	msgTTL time.Duration
}

func NewGormTurnRepo(db *gorm.DB, rc *redis.Client, logger *Logger.Logger, msgTTL time.Duration) types.TurnStore {
	return &GormTurnRepo{
		db:     db,
		rc:     rc,
		logger: logger.Named("turns"),
		msgTTL: msgTTL,
	}
}

func hotWindowKey(deviceID string, roleID uint) string {
	return fmt.Sprintf("conv:%s:%d:turns", deviceID, roleID)
}

func (g *GormTurnRepo) Append(ctx context.Context, deviceID string, roleID uint, msg types.TurnMessage) error {
	entity := &TurnEntity{}
	entity.FromDomain(deviceID, roleID, msg)
	if err := g.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("persist turn for %s: %w", deviceID, err)
	}

	// cache failures degrade to DB reads, never fail the append
	data, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	key := hotWindowKey(deviceID, roleID)
	if err := g.rc.RPush(key, data).Err(); err != nil {
		g.logger.Warnf("hot window push failed for %s: %v", key, err)
		return nil
	}
	if err := g.rc.Expire(key, g.msgTTL).Err(); err != nil {
		g.logger.Warnf("hot window expire failed for %s: %v", key, err)
	}
	return nil
}

func (g *GormTurnRepo) History(ctx context.Context, deviceID string, roleID uint, limit int) ([]types.TurnMessage, error) {
	if msgs, ok := g.hotHistory(deviceID, roleID, limit); ok {
		return msgs, nil
	}

	var entities []TurnEntity
	err := g.db.WithContext(ctx).
		Where("device_id = ? AND role_id = ?", deviceID, roleID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", deviceID, err)
	}

	// query is newest-first, conversation order is oldest-first
	msgs := make([]types.TurnMessage, len(entities))
	for i := range entities {
		msgs[len(entities)-1-i] = entities[i].ToDomain()
	}
	return msgs, nil
}

func (g *GormTurnRepo) hotHistory(deviceID string, roleID uint, limit int) ([]types.TurnMessage, bool) {
	key := hotWindowKey(deviceID, roleID)
	raw, err := g.rc.LRange(key, int64(-limit), -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}

	msgs := make([]types.TurnMessage, 0, len(raw))
	for _, item := range raw {
		var entity TurnEntity
		if err := json.Unmarshal([]byte(item), &entity); err != nil {
			g.logger.Warnf("corrupt hot window entry in %s: %v", key, err)
			return nil, false
		}
		msgs = append(msgs, entity.ToDomain())
	}
	return msgs, true
}
