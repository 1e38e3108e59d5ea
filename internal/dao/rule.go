package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"alertflow/internal/model/entity"
	"alertflow/pkg/db"
)

// RuleDao 规则数据访问对象接口
type RuleDao interface {
	// 规则管理 (供 API 增删改查)

	Create(ctx context.Context, rule *entity.AlertRule) error
	GetByID(ctx context.Context, id string) (*entity.AlertRule, error)
	// ListByUser 查询用户全部规则
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.AlertRule, int64, error)
	Update(ctx context.Context, rule *entity.AlertRule) error
	Delete(ctx context.Context, id, userID string) error
	// SetActive 启用/停用规则
	SetActive(ctx context.Context, id, userID string, active bool) error

	// 调度 (供 scheduler 轮询)

	// FetchReady 查询到期且未过期、未被租约占用的活跃规则，
	// 按优先级降序、next_check_at 升序返回
	FetchReady(ctx context.Context, now time.Time, limit int) ([]entity.AlertRule, error)
	// Claim 条件更新抢占租约，恰好一个竞争者成功
	Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	// Reschedule 评估后写回检查时间与触发状态，同时释放租约
	Reschedule(ctx context.Context, rule *entity.AlertRule) error
	// IsActive 投递重试前查询规则是否仍活跃
	IsActive(ctx context.Context, id string) (bool, error)
	// SweepExpired 软删除已过期规则
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type ruleDao struct {
	db *gorm.DB
}

func NewRuleDao() RuleDao {
	return &ruleDao{db: db.GetDB()}
}

func NewRuleDaoWith(gdb *gorm.DB) RuleDao {
	return &ruleDao{db: gdb}
}

func (d *ruleDao) Create(ctx context.Context, rule *entity.AlertRule) error {
	return d.db.WithContext(ctx).Create(rule).Error
}

func (d *ruleDao) GetByID(ctx context.Context, id string) (*entity.AlertRule, error) {
	var rule entity.AlertRule
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (d *ruleDao) ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.AlertRule, int64, error) {
	var (
		rules []entity.AlertRule
		total int64
	)
	q := d.db.WithContext(ctx).Model(&entity.AlertRule{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rules).Error
	return rules, total, err
}

func (d *ruleDao) Update(ctx context.Context, rule *entity.AlertRule) error {
	return d.db.WithContext(ctx).Save(rule).Error
}

func (d *ruleDao) Delete(ctx context.Context, id, userID string) error {
	res := d.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&entity.AlertRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *ruleDao) SetActive(ctx context.Context, id, userID string, active bool) error {
	res := d.db.WithContext(ctx).Model(&entity.AlertRule{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *ruleDao) FetchReady(ctx context.Context, now time.Time, limit int) ([]entity.AlertRule, error) {
	var rules []entity.AlertRule
	// 到期、未过期、租约空闲，合并在同一个 WHERE 中
	err := d.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("next_check_at <= ?", now).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Order("FIELD(priority, 'urgent', 'high', 'medium', 'low')").
		Order("next_check_at ASC").
		Limit(limit).
		Find(&rules).Error
	return rules, err
}

func (d *ruleDao) Claim(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&entity.AlertRule{}).
		Where("id = ? AND is_active = ?", id, true).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Update("claimed_until", leaseUntil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *ruleDao) Reschedule(ctx context.Context, rule *entity.AlertRule) error {
	return d.db.WithContext(ctx).Model(&entity.AlertRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]interface{}{
			"last_checked_at":   rule.LastCheckedAt,
			"next_check_at":     rule.NextCheckAt,
			"triggered_count":   rule.TriggeredCount,
			"last_triggered_at": rule.LastTriggeredAt,
			"is_active":         rule.IsActive,
			"claimed_until":     nil,
		}).Error
}

func (d *ruleDao) IsActive(ctx context.Context, id string) (bool, error) {
	var rule entity.AlertRule
	err := d.db.WithContext(ctx).Select("is_active").Where("id = ?", id).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return rule.IsActive, nil
}

func (d *ruleDao) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&entity.AlertRule{})
	return res.RowsAffected, res.Error
}
