package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"alertflow/internal/dao"
	"alertflow/internal/model"
)

// 内存实现和Redis实现必须对同一组节流场景给出一致答案，
// Redis 端跑在内嵌实例上
func throttleTrackers(t *testing.T) map[string]ThrottleTracker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]ThrottleTracker{
		"memory": NewMemoryThrottle(),
		"redis":  dao.NewRedisThrottleRepositoryWith(rdb),
	}
}

func TestThrottleTrackersDisabled(t *testing.T) {
	for name, tr := range throttleTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			cfg := model.ThrottleConfig{Enabled: false, IntervalMinutes: 60, MaxPerDay: 1}

			for i := 0; i < 10; i++ {
				ok, err := tr.Allow(ctx, "k", cfg, now)
				if err != nil || !ok {
					t.Fatalf("disabled throttle must always allow, got ok=%v err=%v", ok, err)
				}
				if err := tr.Record(ctx, "k", now); err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}

func TestThrottleTrackersInterval(t *testing.T) {
	for name, tr := range throttleTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			cfg := model.ThrottleConfig{Enabled: true, IntervalMinutes: 60}

			if ok, err := tr.Allow(ctx, "k", cfg, base); err != nil || !ok {
				t.Fatalf("first send must be allowed, got ok=%v err=%v", ok, err)
			}
			if err := tr.Record(ctx, "k", base); err != nil {
				t.Fatal(err)
			}
			if ok, _ := tr.Allow(ctx, "k", cfg, base.Add(59*time.Minute)); ok {
				t.Error("send within interval must be suppressed")
			}
			if ok, _ := tr.Allow(ctx, "k", cfg, base.Add(60*time.Minute)); !ok {
				t.Error("send at interval boundary must be allowed")
			}
		})
	}
}

func TestThrottleTrackersMaxPerDay(t *testing.T) {
	for name, tr := range throttleTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			cfg := model.ThrottleConfig{Enabled: true, MaxPerDay: 5}

			for i := 0; i < 5; i++ {
				now := base.Add(time.Duration(i) * time.Hour)
				ok, err := tr.Allow(ctx, "k", cfg, now)
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatalf("send %d within quota must be allowed", i+1)
				}
				if err := tr.Record(ctx, "k", now); err != nil {
					t.Fatal(err)
				}
			}

			// 第6次在24小时内被压制
			if ok, _ := tr.Allow(ctx, "k", cfg, base.Add(5*time.Hour)); ok {
				t.Error("6th send within 24h must be suppressed")
			}
			// 最早一条滑出窗口后重新放行
			if ok, _ := tr.Allow(ctx, "k", cfg, base.Add(24*time.Hour+time.Second)); !ok {
				t.Error("send after oldest entry slides out must be allowed")
			}
		})
	}
}

func TestThrottleTrackersFailedAttemptsCount(t *testing.T) {
	// 失败的尝试同样Record，占用配额
	for name, tr := range throttleTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			cfg := model.ThrottleConfig{Enabled: true, MaxPerDay: 1}

			if err := tr.Record(ctx, "k", base); err != nil {
				t.Fatal(err)
			}
			if ok, _ := tr.Allow(ctx, "k", cfg, base.Add(time.Minute)); ok {
				t.Error("recorded failed attempt must consume the daily quota")
			}
		})
	}
}

func TestThrottleTrackersKeysIsolated(t *testing.T) {
	for name, tr := range throttleTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			cfg := model.ThrottleConfig{Enabled: true, IntervalMinutes: 60}

			if err := tr.Record(ctx, "rule1:email:a@b.co", now); err != nil {
				t.Fatal(err)
			}
			if ok, _ := tr.Allow(ctx, "rule1:sms:+8613800138000", cfg, now); !ok {
				t.Error("throttle state must be per-target")
			}
		})
	}
}

func TestThrottleTrackersSameMillisecondAttempts(t *testing.T) {
	// 同一毫秒内的多次尝试必须各占一条窗口配额
	for name, tr := range throttleTrackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
			cfg := model.ThrottleConfig{Enabled: true, MaxPerDay: 2}

			if err := tr.Record(ctx, "k", base); err != nil {
				t.Fatal(err)
			}
			if err := tr.Record(ctx, "k", base.Add(time.Microsecond)); err != nil {
				t.Fatal(err)
			}
			if ok, _ := tr.Allow(ctx, "k", cfg, base.Add(time.Minute)); ok {
				t.Error("two same-millisecond attempts must both count against the quota")
			}
		})
	}
}
