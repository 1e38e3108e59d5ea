package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"alertflow/internal/consts"
	"alertflow/internal/dao"
	"alertflow/internal/model"
	"alertflow/internal/model/entity"
	apperrors "alertflow/pkg/errors"
	"alertflow/pkg/errors/ecode"
)

// RuleService 规则管理：创建时做完整性校验，引擎假定入库规则合法
type RuleService struct {
	rules   dao.RuleDao
	records dao.RecordDao
}

func NewRuleService(rules dao.RuleDao, records dao.RecordDao) *RuleService {
	return &RuleService{rules: rules, records: records}
}

// ValidateRule 规则创建/更新时的完整性校验
func ValidateRule(rule *model.AlertRule) error {
	if rule.Symbol == "" {
		return apperrors.WithCode(ecode.ValidateErr, "symbol is required")
	}
	if len(rule.Conditions) == 0 {
		return apperrors.WithCode(ecode.ValidateErr, "at least one condition is required")
	}
	if rule.CheckIntervalMinutes < consts.CheckIntervalMin || rule.CheckIntervalMinutes > consts.CheckIntervalMax {
		return apperrors.WithCode(ecode.ValidateErr,
			"check interval must be between %d and %d minutes",
			consts.CheckIntervalMin, consts.CheckIntervalMax)
	}
	switch rule.LogicalOperator {
	case model.LogicalAnd, model.LogicalOr:
	default:
		return apperrors.WithCode(ecode.ValidateErr, "logical operator must be AND or OR")
	}
	switch rule.Frequency {
	case model.FreqOnce, model.FreqDaily, model.FreqWeekly, model.FreqAlways:
	default:
		return apperrors.WithCode(ecode.ValidateErr, "invalid frequency")
	}
	for i := range rule.Conditions {
		c := &rule.Conditions[i]
		switch c.Operator {
		case model.OpBetween, model.OpOutsideRange:
			if c.SecondValue == nil {
				return apperrors.WithCode(ecode.ValidateErr,
					"second_value is required for %s", c.Operator)
			}
		case model.OpGreaterThan, model.OpLessThan, model.OpEquals, model.OpNotEquals:
		default:
			return apperrors.WithCode(ecode.ValidateErr, "unknown operator %s", c.Operator)
		}
	}
	for i := range rule.Targets {
		t := &rule.Targets[i]
		switch t.Method {
		case model.MethodEmail, model.MethodSms, model.MethodPush, model.MethodWebhook, model.MethodInApp:
		default:
			return apperrors.WithCode(ecode.ValidateErr, "unknown delivery method %s", t.Method)
		}
		if t.Destination == "" {
			return apperrors.WithCode(ecode.ValidateErr, "destination is required")
		}
	}
	return nil
}

// Create 校验并落库，规则立即进入调度
func (s *RuleService) Create(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Priority == "" {
		rule.Priority = model.PriorityMedium
	}
	rule.IsActive = true
	rule.TriggeredCount = 0
	rule.LastTriggeredAt = nil
	rule.NextCheckAt = time.Now()

	ent, err := rule.ToEntity()
	if err != nil {
		return nil, apperrors.Wrap(err, ecode.ValidateErr, "encode rule failed")
	}
	if err := s.rules.Create(ctx, ent); err != nil {
		return nil, apperrors.Wrap(err, ecode.DbErr, "create rule failed")
	}
	return rule, nil
}

// Get 查询单条规则，校验属主
func (s *RuleService) Get(ctx context.Context, id, userID string) (*model.AlertRule, error) {
	ent, err := s.rules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.WithCode(ecode.NotFoundErr, "rule not found")
		}
		return nil, apperrors.Wrap(err, ecode.DbErr, "query rule failed")
	}
	if ent.UserID != userID {
		return nil, apperrors.WithCode(ecode.NotFoundErr, "rule not found")
	}
	return model.RuleFromEntity(ent)
}

// List 用户规则列表
func (s *RuleService) List(ctx context.Context, userID string, limit, offset int) ([]*model.AlertRule, int64, error) {
	ents, total, err := s.rules.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, ecode.DbErr, "list rules failed")
	}
	rules := make([]*model.AlertRule, 0, len(ents))
	for i := range ents {
		r, err := model.RuleFromEntity(&ents[i])
		if err != nil {
			continue
		}
		rules = append(rules, r)
	}
	return rules, total, nil
}

// Update 整体更新规则定义，触发统计保持原值
func (s *RuleService) Update(ctx context.Context, rule *model.AlertRule) (*model.AlertRule, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	old, err := s.Get(ctx, rule.ID, rule.UserID)
	if err != nil {
		return nil, err
	}
	rule.TriggeredCount = old.TriggeredCount
	rule.LastTriggeredAt = old.LastTriggeredAt
	rule.NextCheckAt = time.Now()

	ent, err := rule.ToEntity()
	if err != nil {
		return nil, apperrors.Wrap(err, ecode.ValidateErr, "encode rule failed")
	}
	if err := s.rules.Update(ctx, ent); err != nil {
		return nil, apperrors.Wrap(err, ecode.DbErr, "update rule failed")
	}
	return rule, nil
}

// Delete 删除规则
func (s *RuleService) Delete(ctx context.Context, id, userID string) error {
	if err := s.rules.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.WithCode(ecode.NotFoundErr, "rule not found")
		}
		return apperrors.Wrap(err, ecode.DbErr, "delete rule failed")
	}
	return nil
}

// SetActive 启用/停用
func (s *RuleService) SetActive(ctx context.Context, id, userID string, active bool) error {
	if err := s.rules.SetActive(ctx, id, userID, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.WithCode(ecode.NotFoundErr, "rule not found")
		}
		return apperrors.Wrap(err, ecode.DbErr, "update rule failed")
	}
	return nil
}

// TriggerHistory 用户触发历史，按时间倒序分页
func (s *RuleService) TriggerHistory(ctx context.Context, userID string, limit, offset int) ([]entity.TriggerRecord, int64, error) {
	recs, total, err := s.records.ListTriggersByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, ecode.DbErr, "query trigger history failed")
	}
	return recs, total, nil
}

// DeliveryHistory 单次触发的投递明细
func (s *RuleService) DeliveryHistory(ctx context.Context, triggerID string) ([]entity.DeliveryRecord, error) {
	recs, err := s.records.ListDeliveriesByTrigger(ctx, triggerID)
	if err != nil {
		return nil, apperrors.Wrap(err, ecode.DbErr, "query delivery history failed")
	}
	return recs, nil
}
