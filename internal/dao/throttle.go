package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"

	"alertflow/internal/consts"
	"alertflow/internal/model"
	"alertflow/pkg/cache"
)

// RedisThrottleRepository 投递目标节流状态
// lastSent 用普通 key，24 小时滑动窗口用 ZSET 存发送时间戳
type RedisThrottleRepository struct {
	rdb *redis.Client
}

func NewRedisThrottleRepository() *RedisThrottleRepository {
	return &RedisThrottleRepository{rdb: cache.GetRedisClient()}
}

func NewRedisThrottleRepositoryWith(rdb *redis.Client) *RedisThrottleRepository {
	return &RedisThrottleRepository{rdb: rdb}
}

func (r *RedisThrottleRepository) lastKey(key string) string {
	return consts.ThrottleLastSentPrefix + key
}

func (r *RedisThrottleRepository) windowKey(key string) string {
	return consts.ThrottleWindowPrefix + key
}

// Allow 判断目标当前是否允许投递；不产生副作用
func (r *RedisThrottleRepository) Allow(ctx context.Context, key string, cfg model.ThrottleConfig, now time.Time) (bool, error) {
	if !cfg.Enabled {
		return true, nil
	}

	if cfg.IntervalMinutes > 0 {
		lastStr, err := r.rdb.Get(ctx, r.lastKey(key)).Result()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if err == nil {
			last := time.UnixMilli(cast.ToInt64(lastStr))
			if now.Sub(last) < time.Duration(cfg.IntervalMinutes)*time.Minute {
				return false, nil
			}
		}
	}

	if cfg.MaxPerDay > 0 {
		wkey := r.windowKey(key)
		cutoff := now.Add(-consts.ThrottleWindow).UnixMilli()

		pipe := r.rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, wkey, "-inf", fmt.Sprintf("%d", cutoff))
		card := pipe.ZCard(ctx, wkey)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		if card.Val() >= int64(cfg.MaxPerDay) {
			return false, nil
		}
	}

	return true, nil
}

// Record 记录一次投递尝试（含失败），计入窗口
func (r *RedisThrottleRepository) Record(ctx context.Context, key string, now time.Time) error {
	ms := now.UnixMilli()

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.lastKey(key), ms, consts.ThrottleWindow)
	// member 用纳秒避免同毫秒的两次尝试互相覆盖
	pipe.ZAdd(ctx, r.windowKey(key), &redis.Z{
		Score:  float64(ms),
		Member: now.UnixNano(),
	})
	pipe.Expire(ctx, r.windowKey(key), consts.ThrottleWindow)
	_, err := pipe.Exec(ctx)
	return err
}
