package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"alertflow/conf"
	"alertflow/internal/dao"
	"alertflow/internal/model"
	"alertflow/internal/model/entity"
	"alertflow/pkg/logger"
)

// TriggerDispatcher 调度器下游的投递入口
type TriggerDispatcher interface {
	Dispatch(ctx context.Context, event *model.TriggerEvent) ([]model.DeliveryOutcome, error)
}

// Scheduler 周期轮询到期规则：取批次、抢租约、评估、改写下次检查时间。
// 投递丢进有界队列，慢通道不会拖住轮询
type Scheduler struct {
	rules      dao.RuleDao
	market     MarketProvider
	dispatcher TriggerDispatcher

	workers      int
	pollInterval time.Duration
	batchSize    int
	lease        time.Duration
	sweepEvery   time.Duration
	backoffMax   time.Duration

	jobs     chan *model.TriggerEvent
	wg       sync.WaitGroup
	workerWg sync.WaitGroup
	cancel   context.CancelFunc

	// 同一轮询周期内同标的共享一次快照
	now func() time.Time
}

func NewScheduler(rules dao.RuleDao, market MarketProvider, dispatcher TriggerDispatcher, cfg *conf.EngineConfig) *Scheduler {
	return &Scheduler{
		rules:        rules,
		market:       market,
		dispatcher:   dispatcher,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		lease:        cfg.Lease,
		sweepEvery:   cfg.SweepInterval,
		backoffMax:   cfg.StoreBackoffMax,
		jobs:         make(chan *model.TriggerEvent, cfg.QueueSize),
		now:          time.Now,
	}
}

// Start 启动轮询循环、投递 worker 和过期清理
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		// 投递不跟随轮询取消，停机时排空队列里的事件
		go s.dispatchWorker(parent)
	}
	s.wg.Add(1)
	go s.pollLoop(ctx)
	s.wg.Add(1)
	go s.sweepLoop(ctx)

	logger.Info("scheduler started",
		logger.Pair("workers", s.workers),
		logger.Pair("poll_interval", s.pollInterval.String()))
}

// Stop 停止轮询，排空队列中已触发的事件后再返回
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	// 先等所有生产方退出，之后才能安全关闭队列
	s.wg.Wait()
	close(s.jobs)
	s.workerWg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.pollInterval
	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if err := s.runCycle(ctx); err != nil {
			// 存储故障按周期退避，避免打爆数据库
			backoff *= 2
			if backoff > s.backoffMax {
				backoff = s.backoffMax
			}
			logger.Error("poll cycle failed",
				logger.Pair("err", err.Error()),
				logger.Pair("backoff", backoff.String()))
		} else {
			backoff = s.pollInterval
		}
		t.Reset(backoff)
	}
}

// runCycle 单轮轮询：逐条抢租约后评估
func (s *Scheduler) runCycle(ctx context.Context) error {
	now := s.now()
	ready, err := s.rules.FetchReady(ctx, now, s.batchSize)
	if err != nil {
		return err
	}

	snapshots := map[string]*model.MarketSnapshot{}
	for i := range ready {
		ent := &ready[i]
		claimed, err := s.rules.Claim(ctx, ent.ID, now, now.Add(s.lease))
		if err != nil {
			logger.Warn("claim failed", logger.Pair("rule_id", ent.ID), logger.Pair("err", err.Error()))
			continue
		}
		if !claimed {
			// 别的实例抢到了
			continue
		}
		s.evaluateOne(ctx, ent, snapshots)
	}
	return nil
}

// evaluateOne 评估单条已认领的规则，无论成败都推进 next_check_at
func (s *Scheduler) evaluateOne(ctx context.Context, ent *entity.AlertRule, snapshots map[string]*model.MarketSnapshot) {
	rule, err := model.RuleFromEntity(ent)
	if err != nil {
		logger.Error("decode rule failed", logger.Pair("rule_id", ent.ID), logger.Pair("err", err.Error()))
		s.reschedule(ctx, nil, ent)
		return
	}

	now := s.now()
	checked := now
	rule.LastCheckedAt = &checked
	rule.NextCheckAt = now.Add(time.Duration(rule.CheckIntervalMinutes) * time.Minute)

	snap, ok := snapshots[rule.Symbol]
	if !ok {
		snap, err = s.market.GetSnapshot(ctx, rule.Symbol)
		if err != nil {
			// 行情拿不到视为条件不满足，下个周期再试
			logger.Debug("snapshot unavailable",
				logger.Pair("symbol", rule.Symbol), logger.Pair("err", err.Error()))
			s.reschedule(ctx, rule, ent)
			return
		}
		snapshots[rule.Symbol] = snap
	}

	if EvaluateRule(rule, snap) {
		event := OnFire(rule, snap, now, uuid.NewString())
		select {
		case s.jobs <- event:
		default:
			// 队列满时独立协程兜底，触发事件不丢
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.deliver(ctx, event)
			}()
		}
	}
	s.reschedule(ctx, rule, ent)
}

// reschedule 把评估结果写回存储并释放租约
func (s *Scheduler) reschedule(ctx context.Context, rule *model.AlertRule, ent *entity.AlertRule) {
	if rule == nil {
		// 解码失败的规则仍要推进时间，避免死循环占用批次
		now := s.now()
		ent.LastCheckedAt = &now
		interval := ent.CheckIntervalMinutes
		if interval <= 0 {
			interval = 1
		}
		ent.NextCheckAt = now.Add(time.Duration(interval) * time.Minute)
		if err := s.rules.Reschedule(ctx, ent); err != nil {
			logger.Error("reschedule failed", logger.Pair("rule_id", ent.ID), logger.Pair("err", err.Error()))
		}
		return
	}

	ent.LastCheckedAt = rule.LastCheckedAt
	ent.NextCheckAt = rule.NextCheckAt
	ent.TriggeredCount = rule.TriggeredCount
	ent.LastTriggeredAt = rule.LastTriggeredAt
	ent.IsActive = rule.IsActive
	if err := s.rules.Reschedule(ctx, ent); err != nil {
		logger.Error("reschedule failed", logger.Pair("rule_id", ent.ID), logger.Pair("err", err.Error()))
	}
}

func (s *Scheduler) dispatchWorker(ctx context.Context) {
	defer s.workerWg.Done()
	for event := range s.jobs {
		s.deliver(ctx, event)
	}
}

func (s *Scheduler) deliver(ctx context.Context, event *model.TriggerEvent) {
	outcomes, err := s.dispatcher.Dispatch(ctx, event)
	if err != nil {
		logger.Warn("dispatch finished with failures",
			logger.Pair("rule_id", event.RuleID), logger.Pair("err", err.Error()))
	}
	logger.Info("trigger dispatched",
		logger.Pair("rule_id", event.RuleID),
		logger.Pair("targets", len(outcomes)))
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.rules.SweepExpired(ctx, s.now())
			if err != nil {
				logger.Warn("sweep expired failed", logger.Pair("err", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("expired rules removed", logger.Pair("count", n))
			}
		}
	}
}
