package service

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/goccy/go-json"
	"go.uber.org/multierr"
	"gorm.io/datatypes"

	"alertflow/internal/model"
	"alertflow/internal/model/entity"
	"alertflow/pkg/errors"
	"alertflow/pkg/errors/ecode"
	"alertflow/pkg/kafka"
	"alertflow/pkg/logger"
)

// RuleStatusStore 重试前的规则状态查询，规则被停用则放弃剩余重试
type RuleStatusStore interface {
	IsActive(ctx context.Context, id string) (bool, error)
}

// AuditStore 触发/投递审计记录写入
type AuditStore interface {
	SaveTrigger(ctx context.Context, rec *entity.TriggerRecord) error
	SaveDelivery(ctx context.Context, rec *entity.DeliveryRecord) error
}

// Dispatcher 把触发事件投递到各目标：目标之间并发，单目标内严格串行。
// webhook 按规则的重试策略退避重试，其余通道一次定胜负
type Dispatcher struct {
	adapters map[model.DeliveryMethod]ChannelAdapter
	throttle ThrottleTracker
	rules    RuleStatusStore
	audit    AuditStore
	producer kafka.ProducerService
	node     *snowflake.Node

	// 可注入的睡眠，测试时替换；返回 false 表示 ctx 已取消
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewDispatcher(
	adapters []ChannelAdapter,
	throttle ThrottleTracker,
	rules RuleStatusStore,
	audit AuditStore,
	producer kafka.ProducerService,
	node *snowflake.Node,
) *Dispatcher {
	m := make(map[model.DeliveryMethod]ChannelAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Method()] = a
	}
	return &Dispatcher{
		adapters: m,
		throttle: throttle,
		rules:    rules,
		audit:    audit,
		producer: producer,
		node:     node,
		sleep:    realSleep,
	}
}

func realSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Dispatch 投递一次触发事件并落审计记录。
// 返回每个启用目标的结果；error 聚合所有投递失败
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.TriggerEvent) ([]model.DeliveryOutcome, error) {
	d.recordTrigger(ctx, event)
	d.publishAudit(ctx, event)

	outcomes := make([]model.DeliveryOutcome, len(event.Targets))
	var wg sync.WaitGroup
	for i := range event.Targets {
		target := &event.Targets[i]
		if !target.IsEnabled {
			continue
		}
		wg.Add(1)
		go func(i int, target *model.DeliveryTarget) {
			defer wg.Done()
			outcomes[i] = d.deliverTarget(ctx, event, target)
		}(i, target)
	}
	wg.Wait()

	var (
		final []model.DeliveryOutcome
		errs  error
	)
	for i := range event.Targets {
		if !event.Targets[i].IsEnabled {
			continue
		}
		out := outcomes[i]
		final = append(final, out)
		d.recordDelivery(ctx, event, &out)
		if out.Status == model.DeliveryFailed {
			errs = multierr.Append(errs, errors.WithCode(ecode.DeliveryErr,
				"%s to %s failed after %d attempts: %s",
				out.Target.Method, out.Target.Destination, out.Attempts, out.Error))
		}
	}
	return final, errs
}

// deliverTarget 单目标投递全流程：校验地址、节流判断、发送（webhook 含重试）
func (d *Dispatcher) deliverTarget(ctx context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) model.DeliveryOutcome {
	out := model.DeliveryOutcome{Target: *target}

	adapter, ok := d.adapters[target.Method]
	if !ok {
		out.Status = model.DeliveryFailed
		out.Error = "unsupported delivery method"
		return out
	}
	if err := adapter.ValidateDestination(target.Destination); err != nil {
		out.Status = model.DeliveryFailed
		out.Error = err.Error()
		return out
	}

	now := time.Now()
	key := ThrottleKey(event.RuleID, target)
	allowed, err := d.throttle.Allow(ctx, key, target.Throttle, now)
	if err != nil {
		// 节流存储故障时放行，宁可多发不可漏发
		logger.Warn("throttle check failed", logger.Pair("key", key), logger.Pair("err", err.Error()))
		allowed = true
	}
	if !allowed {
		out.Status = model.DeliveryThrottled
		return out
	}

	if target.Method == model.MethodWebhook {
		out = d.sendWebhook(ctx, adapter, event, target, out)
	} else {
		out.Attempts = 1
		if err := adapter.Send(ctx, event, target); err != nil {
			out.Status = model.DeliveryFailed
			out.Error = err.Error()
		} else {
			out.Status = model.DeliveryDelivered
		}
	}
	// 实际发起过发送才计数，失败同样占用配额
	if err := d.throttle.Record(ctx, key, now); err != nil {
		logger.Warn("throttle record failed", logger.Pair("key", key), logger.Pair("err", err.Error()))
	}
	return out
}

// sendWebhook 最多 1+maxRetries 次尝试，重试间隔按退避因子放大
func (d *Dispatcher) sendWebhook(ctx context.Context, adapter ChannelAdapter, event *model.TriggerEvent, target *model.DeliveryTarget, out model.DeliveryOutcome) model.DeliveryOutcome {
	policy := model.RetryPolicy{}
	if event.Webhook != nil {
		policy = event.Webhook.Retry
	}
	maxAttempts := 1 + policy.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// 规则已被停用则放弃剩余重试
			active, err := d.rules.IsActive(ctx, event.RuleID)
			if err == nil && !active {
				out.Status = model.DeliveryFailed
				out.Error = "rule deactivated during retries"
				return out
			}
			if !d.sleep(ctx, policy.Delay(attempt)) {
				out.Status = model.DeliveryFailed
				out.Error = ctx.Err().Error()
				return out
			}
		}
		out.Attempts = attempt
		if lastErr = adapter.Send(ctx, event, target); lastErr == nil {
			out.Status = model.DeliveryDelivered
			return out
		}
		logger.Debug("webhook attempt failed",
			logger.Pair("rule_id", event.RuleID),
			logger.Pair("attempt", attempt),
			logger.Pair("err", lastErr.Error()))
	}
	out.Status = model.DeliveryFailed
	out.Error = lastErr.Error()
	return out
}

func (d *Dispatcher) recordTrigger(ctx context.Context, event *model.TriggerEvent) {
	snap, err := json.Marshal(event.Snapshot)
	if err != nil {
		snap = []byte("{}")
	}
	rec := &entity.TriggerRecord{
		ID:           event.ID,
		RuleID:       event.RuleID,
		UserID:       event.UserID,
		Symbol:       event.Symbol,
		Name:         event.Name,
		Priority:     string(event.Priority),
		Timestamp:    event.TriggeredAt.UnixMilli(),
		SnapshotJSON: datatypes.JSON(snap),
	}
	if err := d.audit.SaveTrigger(ctx, rec); err != nil {
		logger.Error("save trigger record failed",
			logger.Pair("rule_id", event.RuleID), logger.Pair("err", err.Error()))
	}
}

func (d *Dispatcher) recordDelivery(ctx context.Context, event *model.TriggerEvent, out *model.DeliveryOutcome) {
	now := time.Now()
	rec := &entity.DeliveryRecord{
		ID:          d.node.Generate().String(),
		TriggerID:   event.ID,
		RuleID:      event.RuleID,
		Method:      string(out.Target.Method),
		Destination: out.Target.Destination,
		Status:      string(out.Status),
		Attempts:    out.Attempts,
		Error:       out.Error,
	}
	if out.Status == model.DeliveryDelivered {
		rec.SentAt = &now
	}
	if err := d.audit.SaveDelivery(ctx, rec); err != nil {
		logger.Error("save delivery record failed",
			logger.Pair("rule_id", event.RuleID), logger.Pair("err", err.Error()))
	}
}

func (d *Dispatcher) publishAudit(ctx context.Context, event *model.TriggerEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := d.producer.Produce(ctx, kafka.TopicAlertTriggered, event.RuleID, payload); err != nil {
		logger.Warn("publish trigger event failed",
			logger.Pair("rule_id", event.RuleID), logger.Pair("err", err.Error()))
	}
}
