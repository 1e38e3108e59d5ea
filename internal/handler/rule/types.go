package rule

import (
	"time"

	"alertflow/internal/model"
)

// RuleCreateReq 创建规则请求体
type RuleCreateReq struct {
	Symbol   string `json:"symbol" binding:"required,max=30"`
	Name     string `json:"name" binding:"max=100"`
	RuleType string `json:"rule_type" binding:"required"`

	Conditions      []model.AlertCondition `json:"conditions" binding:"required,min=1,dive"`
	LogicalOperator string                 `json:"logical_operator" binding:"required,oneof=AND OR"`
	DeliveryTargets []model.DeliveryTarget `json:"delivery_targets" binding:"dive"`
	WebhookConfig   *model.WebhookConfig   `json:"webhook_config"`
	RelatedAlerts   []string               `json:"related_alerts"`

	Priority  string `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	Frequency string `json:"frequency" binding:"required,oneof=once daily weekly always"`

	ExpiresAt            *time.Time `json:"expires_at"`
	CheckIntervalMinutes int        `json:"check_interval_minutes" binding:"required,min=1,max=1440"`
}

// toModel 请求体转领域对象
func (r *RuleCreateReq) toModel(userID string) *model.AlertRule {
	return &model.AlertRule{
		UserID:               userID,
		Symbol:               r.Symbol,
		Name:                 r.Name,
		RuleType:             model.RuleType(r.RuleType),
		Conditions:           r.Conditions,
		LogicalOperator:      model.LogicalOperator(r.LogicalOperator),
		Targets:              r.DeliveryTargets,
		Webhook:              r.WebhookConfig,
		RelatedAlerts:        r.RelatedAlerts,
		Priority:             model.Priority(r.Priority),
		Frequency:            model.Frequency(r.Frequency),
		ExpiresAt:            r.ExpiresAt,
		CheckIntervalMinutes: r.CheckIntervalMinutes,
	}
}

// PageReq 分页参数
type PageReq struct {
	Limit  int `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}

// PageResp 分页响应
type PageResp struct {
	Total int64       `json:"total"`
	List  interface{} `json:"list"`
}
