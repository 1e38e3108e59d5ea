package entity

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/plugin/soft_delete"
)

// AlertRule 规则表结构，条件/投递目标/webhook配置以JSON列存储
type AlertRule struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`                   // 主键
	UserID   string `gorm:"index:idx_user_symbol;type:varchar(36);not null"` // 规则属主
	Symbol   string `gorm:"index:idx_user_symbol;type:varchar(30);not null"` // 监控标的
	Name     string `gorm:"type:varchar(100)"`
	RuleType string `gorm:"type:varchar(20);not null"` // price/technical/fundamental/news/ai_insight/portfolio

	Conditions      datatypes.JSON `gorm:"not null"`                 // []model.AlertCondition，创建时保证非空
	LogicalOperator string         `gorm:"type:varchar(3);not null"` // AND / OR
	DeliveryTargets datatypes.JSON                                   // []model.DeliveryTarget，可为空
	WebhookConfig   datatypes.JSON                                   // *model.WebhookConfig，可空
	// 关联规则只存ID列表，规则之间不允许持有对方实体，保证可独立删除
	RelatedAlerts datatypes.JSON

	Priority  string `gorm:"type:varchar(10);index"` // low/medium/high/urgent
	IsActive  bool   `gorm:"not null;index"`
	Frequency string `gorm:"type:varchar(10);not null"` // once/daily/weekly/always

	ExpiresAt            *time.Time `gorm:"index"` // 过期后不再参与评估，由清理任务删除
	CheckIntervalMinutes int        `gorm:"type:int;not null"`
	LastCheckedAt        *time.Time
	NextCheckAt          time.Time `gorm:"index;not null"`
	// claim租约，到期前由持有worker独占；NULL或过期表示未被认领
	ClaimedUntil *time.Time

	TriggeredCount  int64 `gorm:"not null;default:0"` // 只增不减
	LastTriggeredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt soft_delete.DeletedAt `gorm:"softDelete:milli;index"`
}

func (AlertRule) TableName() string {
	return "alert_rule"
}

// TriggerRecord 触发历史表结构（审计读模型的原始行）
type TriggerRecord struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RuleID   string `gorm:"index:idx_rule_ts;type:varchar(36);not null" json:"rule_id"`
	UserID   string `gorm:"index;type:varchar(36);not null" json:"user_id"`
	Symbol   string `gorm:"type:varchar(30)" json:"symbol"`
	Name     string `gorm:"type:varchar(100)" json:"name"`
	Priority string `gorm:"type:varchar(10)" json:"priority"`
	// 触发时间戳（毫秒），用于排序和分页查询
	Timestamp int64 `gorm:"index:idx_rule_ts;type:bigint;not null" json:"timestamp"`
	// 触发时刻的行情快照
	SnapshotJSON datatypes.JSON `gorm:"column:snapshot_json" json:"snapshot_json"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TriggerRecord) TableName() string {
	return "trigger_record"
}

// DeliveryRecord 单个投递目标的结果记录
type DeliveryRecord struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TriggerID   string `gorm:"index;type:varchar(36);not null" json:"trigger_id"`
	RuleID      string `gorm:"index;type:varchar(36)" json:"rule_id"`
	Method      string `gorm:"type:varchar(10);not null" json:"method"` // email/sms/push/webhook/in_app
	Destination string `gorm:"type:varchar(255)" json:"destination"`
	Status      string `gorm:"type:varchar(10);not null" json:"status"` // delivered/failed/throttled
	Attempts    int    `gorm:"type:int" json:"attempts"`
	Error       string `gorm:"type:text" json:"error"`
	SentAt      *time.Time `json:"sent_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DeliveryRecord) TableName() string {
	return "delivery_record"
}
