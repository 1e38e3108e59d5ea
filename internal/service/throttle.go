package service

import (
	"context"
	"sync"
	"time"

	"alertflow/internal/consts"
	"alertflow/internal/model"
)

// ThrottleTracker 投递目标级节流。
// Allow 只读判断，Record 记录一次尝试（失败也计入）
type ThrottleTracker interface {
	Allow(ctx context.Context, key string, cfg model.ThrottleConfig, now time.Time) (bool, error)
	Record(ctx context.Context, key string, now time.Time) error
}

// ThrottleKey 目标的节流主键：同一规则下按通道+地址区分
func ThrottleKey(ruleID string, target *model.DeliveryTarget) string {
	return ruleID + ":" + string(target.Method) + ":" + target.Destination
}

// MemoryThrottle 进程内节流器，单机部署和测试用
type MemoryThrottle struct {
	mu      sync.Mutex
	lastAt  map[string]time.Time
	windows map[string][]time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{
		lastAt:  make(map[string]time.Time),
		windows: make(map[string][]time.Time),
	}
}

func (m *MemoryThrottle) Allow(_ context.Context, key string, cfg model.ThrottleConfig, now time.Time) (bool, error) {
	if !cfg.Enabled {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.IntervalMinutes > 0 {
		if last, ok := m.lastAt[key]; ok {
			if now.Sub(last) < time.Duration(cfg.IntervalMinutes)*time.Minute {
				return false, nil
			}
		}
	}
	if cfg.MaxPerDay > 0 {
		window := m.trim(key, now)
		if len(window) >= cfg.MaxPerDay {
			return false, nil
		}
	}
	return true, nil
}

func (m *MemoryThrottle) Record(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAt[key] = now
	m.windows[key] = append(m.trim(key, now), now)
	return nil
}

// trim 丢弃滑动窗口外的时间戳，调用方需持锁
func (m *MemoryThrottle) trim(key string, now time.Time) []time.Time {
	cutoff := now.Add(-consts.ThrottleWindow)
	window := m.windows[key]
	i := 0
	for ; i < len(window); i++ {
		if window[i].After(cutoff) {
			break
		}
	}
	window = window[i:]
	m.windows[key] = window
	return window
}
