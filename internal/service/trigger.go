package service

import (
	"time"

	"alertflow/internal/model"
)

// 触发处理：纯状态迁移，落库由调用方负责

// OnFire 条件满足后推进规则状态并生成不可变触发事件。
// once 频率的规则触发后停用
func OnFire(rule *model.AlertRule, snap *model.MarketSnapshot, now time.Time, eventID string) *model.TriggerEvent {
	rule.TriggeredCount++
	t := now
	rule.LastTriggeredAt = &t
	if rule.Frequency == model.FreqOnce {
		rule.IsActive = false
	}

	return &model.TriggerEvent{
		ID:          eventID,
		RuleID:      rule.ID,
		UserID:      rule.UserID,
		Symbol:      rule.Symbol,
		Name:        rule.Name,
		Priority:    rule.Priority,
		TriggeredAt: now,
		Targets:     append([]model.DeliveryTarget(nil), rule.Targets...),
		Webhook:     rule.Webhook,
		Snapshot:    *snap,
	}
}
