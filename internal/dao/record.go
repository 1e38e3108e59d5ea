package dao

import (
	"context"

	"gorm.io/gorm"

	"alertflow/internal/model/entity"
	"alertflow/pkg/db"
)

// RecordDao 触发/投递审计记录 (引擎只写，查询供 App API 调用)
type RecordDao interface {
	SaveTrigger(ctx context.Context, rec *entity.TriggerRecord) error
	SaveDelivery(ctx context.Context, rec *entity.DeliveryRecord) error
	// ListTriggersByUser 查询用户触发历史，按触发时间倒序
	ListTriggersByUser(ctx context.Context, userID string, limit, offset int) ([]entity.TriggerRecord, int64, error)
	// ListDeliveriesByTrigger 查询单次触发的投递结果
	ListDeliveriesByTrigger(ctx context.Context, triggerID string) ([]entity.DeliveryRecord, error)
}

type recordDao struct {
	db *gorm.DB
}

func NewRecordDao() RecordDao {
	return &recordDao{db: db.GetDB()}
}

func NewRecordDaoWith(gdb *gorm.DB) RecordDao {
	return &recordDao{db: gdb}
}

func (d *recordDao) SaveTrigger(ctx context.Context, rec *entity.TriggerRecord) error {
	return d.db.WithContext(ctx).Create(rec).Error
}

func (d *recordDao) SaveDelivery(ctx context.Context, rec *entity.DeliveryRecord) error {
	return d.db.WithContext(ctx).Create(rec).Error
}

func (d *recordDao) ListTriggersByUser(ctx context.Context, userID string, limit, offset int) ([]entity.TriggerRecord, int64, error) {
	var (
		recs  []entity.TriggerRecord
		total int64
	)
	q := d.db.WithContext(ctx).Model(&entity.TriggerRecord{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&recs).Error
	return recs, total, err
}

func (d *recordDao) ListDeliveriesByTrigger(ctx context.Context, triggerID string) ([]entity.DeliveryRecord, error) {
	var recs []entity.DeliveryRecord
	err := d.db.WithContext(ctx).
		Where("trigger_id = ?", triggerID).
		Order("created_at ASC").
		Find(&recs).Error
	return recs, err
}
