package model

import (
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"

	"alertflow/internal/model/entity"
)

// 规则领域模型：entity的JSON列在这里解码成强类型

type RuleType string

const (
	RuleTypePrice       RuleType = "price"
	RuleTypeTechnical   RuleType = "technical"
	RuleTypeFundamental RuleType = "fundamental"
	RuleTypeNews        RuleType = "news"
	RuleTypeAIInsight   RuleType = "ai_insight"
	RuleTypePortfolio   RuleType = "portfolio"
)

// ConditionType 条件指标名
type ConditionType string

const (
	CondPriceAbove         ConditionType = "price_above"
	CondPriceBelow         ConditionType = "price_below"
	CondPriceChangePercent ConditionType = "price_change_percent"
	CondVolumeAbove        ConditionType = "volume_above"
	CondVolumeBelow        ConditionType = "volume_below"
	CondMarketCapAbove     ConditionType = "market_cap_above"
	CondMarketCapBelow     ConditionType = "market_cap_below"
	CondRSIAbove           ConditionType = "rsi_above"
	CondRSIBelow           ConditionType = "rsi_below"
)

type Operator string

const (
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpBetween      Operator = "between"
	OpOutsideRange Operator = "outside_range"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

type Frequency string

const (
	FreqOnce   Frequency = "once"
	FreqDaily  Frequency = "daily"
	FreqWeekly Frequency = "weekly"
	FreqAlways Frequency = "always"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight 优先级排序权重，仅用于fetchReady排序
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

type DeliveryMethod string

const (
	MethodEmail   DeliveryMethod = "email"
	MethodSms     DeliveryMethod = "sms"
	MethodPush    DeliveryMethod = "push"
	MethodWebhook DeliveryMethod = "webhook"
	MethodInApp   DeliveryMethod = "in_app"
)

// AlertCondition 单个比较谓词
type AlertCondition struct {
	Type     ConditionType `json:"type" binding:"required"`
	Operator Operator      `json:"operator" binding:"required"`
	Value    float64       `json:"value"`
	// between/outside_range必填
	SecondValue *float64 `json:"second_value,omitempty"`

	Timeframe string `json:"timeframe,omitempty"`
	// absolute / percentage / relative_to_average
	Comparison     string `json:"comparison,omitempty"`
	LookbackPeriod int    `json:"lookback_period,omitempty"`
}

// ThrottleConfig 投递目标的节流配置
type ThrottleConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
	MaxPerDay       int  `json:"max_per_day"`
}

// DeliveryTarget 投递目标，destination的格式由各通道adapter自行校验
type DeliveryTarget struct {
	Method      DeliveryMethod `json:"method" binding:"required"`
	Destination string         `json:"destination" binding:"required"`
	IsEnabled   bool           `json:"is_enabled"`
	Priority    Priority       `json:"priority,omitempty"`
	Throttle    ThrottleConfig `json:"throttle"`
}

// RetryPolicy webhook重试策略
type RetryPolicy struct {
	MaxRetries    int     `json:"max_retries"`
	RetryDelayMs  int64   `json:"retry_delay_ms"`
	BackoffFactor float64 `json:"backoff_factor"`
}

// Delay 第attempt次尝试（attempt从1开始）之前应等待的时长。
// 首次尝试不等待，第i次重试等待 retryDelay * backoffFactor^(i-1)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := float64(p.RetryDelayMs)
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 2; i < attempt; i++ {
		delay *= factor
	}
	return time.Duration(delay) * time.Millisecond
}

// WebhookConfig 规则级webhook出站配置
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"` // 缺省POST
	Headers map[string]string `json:"headers,omitempty"`
	// 模板字段，合并进出站JSON body
	Payload map[string]interface{} `json:"payload,omitempty"`
	Retry   RetryPolicy            `json:"retry"`
}

// MarketSnapshot 某一时刻的行情读数
type MarketSnapshot struct {
	Symbol        string             `json:"symbol"`
	Price         float64            `json:"price"`
	Volume        float64            `json:"volume"`
	MarketCap     float64            `json:"market_cap"`
	ChangePercent float64            `json:"change_percent"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// AlertRule 规则领域对象
type AlertRule struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	RuleType RuleType `json:"rule_type"`

	Conditions      []AlertCondition `json:"conditions"`
	LogicalOperator LogicalOperator  `json:"logical_operator"`
	Targets         []DeliveryTarget `json:"delivery_targets"`
	Webhook         *WebhookConfig   `json:"webhook_config,omitempty"`
	RelatedAlerts   []string         `json:"related_alerts,omitempty"`

	Priority  Priority  `json:"priority"`
	IsActive  bool      `json:"is_active"`
	Frequency Frequency `json:"frequency"`

	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	CheckIntervalMinutes int        `json:"check_interval_minutes"`
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
	NextCheckAt          time.Time  `json:"next_check_at"`

	TriggeredCount  int64      `json:"triggered_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// TriggerEvent 一次触发的不可变事件，投递与审计共用
type TriggerEvent struct {
	ID          string           `json:"id"`
	RuleID      string           `json:"rule_id"`
	UserID      string           `json:"user_id"`
	Symbol      string           `json:"symbol"`
	Name        string           `json:"name"`
	Priority    Priority         `json:"priority"`
	TriggeredAt time.Time        `json:"triggered_at"`
	Targets     []DeliveryTarget `json:"targets"`
	Webhook     *WebhookConfig   `json:"webhook_config,omitempty"`
	Snapshot    MarketSnapshot   `json:"snapshot"`
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryThrottled DeliveryStatus = "throttled"
)

// DeliveryOutcome 单个目标的投递结果
type DeliveryOutcome struct {
	Target   DeliveryTarget `json:"target"`
	Status   DeliveryStatus `json:"status"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
}

// RuleFromEntity 解码entity的JSON列，得到领域对象
func RuleFromEntity(e *entity.AlertRule) (*AlertRule, error) {
	r := &AlertRule{
		ID:                   e.ID,
		UserID:               e.UserID,
		Symbol:               e.Symbol,
		Name:                 e.Name,
		RuleType:             RuleType(e.RuleType),
		LogicalOperator:      LogicalOperator(e.LogicalOperator),
		Priority:             Priority(e.Priority),
		IsActive:             e.IsActive,
		Frequency:            Frequency(e.Frequency),
		ExpiresAt:            e.ExpiresAt,
		CheckIntervalMinutes: e.CheckIntervalMinutes,
		LastCheckedAt:        e.LastCheckedAt,
		NextCheckAt:          e.NextCheckAt,
		TriggeredCount:       e.TriggeredCount,
		LastTriggeredAt:      e.LastTriggeredAt,
	}
	if len(e.Conditions) > 0 {
		if err := json.Unmarshal(e.Conditions, &r.Conditions); err != nil {
			return nil, err
		}
	}
	if len(e.DeliveryTargets) > 0 {
		if err := json.Unmarshal(e.DeliveryTargets, &r.Targets); err != nil {
			return nil, err
		}
	}
	if len(e.WebhookConfig) > 0 {
		if err := json.Unmarshal(e.WebhookConfig, &r.Webhook); err != nil {
			return nil, err
		}
	}
	if len(e.RelatedAlerts) > 0 {
		if err := json.Unmarshal(e.RelatedAlerts, &r.RelatedAlerts); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ToEntity 编码回entity，JSON列统一在这里生成
func (r *AlertRule) ToEntity() (*entity.AlertRule, error) {
	conds, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, err
	}
	targets, err := json.Marshal(r.Targets)
	if err != nil {
		return nil, err
	}
	e := &entity.AlertRule{
		ID:                   r.ID,
		UserID:               r.UserID,
		Symbol:               r.Symbol,
		Name:                 r.Name,
		RuleType:             string(r.RuleType),
		Conditions:           datatypes.JSON(conds),
		LogicalOperator:      string(r.LogicalOperator),
		DeliveryTargets:      datatypes.JSON(targets),
		Priority:             string(r.Priority),
		IsActive:             r.IsActive,
		Frequency:            string(r.Frequency),
		ExpiresAt:            r.ExpiresAt,
		CheckIntervalMinutes: r.CheckIntervalMinutes,
		LastCheckedAt:        r.LastCheckedAt,
		NextCheckAt:          r.NextCheckAt,
		TriggeredCount:       r.TriggeredCount,
		LastTriggeredAt:      r.LastTriggeredAt,
	}
	if r.Webhook != nil {
		wh, err := json.Marshal(r.Webhook)
		if err != nil {
			return nil, err
		}
		e.WebhookConfig = datatypes.JSON(wh)
	}
	if len(r.RelatedAlerts) > 0 {
		rel, err := json.Marshal(r.RelatedAlerts)
		if err != nil {
			return nil, err
		}
		e.RelatedAlerts = datatypes.JSON(rel)
	}
	return e, nil
}
