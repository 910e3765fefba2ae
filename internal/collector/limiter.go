package collector

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 是请求之间的最小间隔闸门。第一次 Wait 立即返回，之后每次至少间隔 interval
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiterFunc 按间隔创建限流器，测试中替换为不依赖真实时间的实现
type NewLimiterFunc func(interval time.Duration) Limiter

// NewIntervalLimiter 基于 token bucket（容量 1）实现最小间隔；interval <= 0 时不限流
func NewIntervalLimiter(interval time.Duration) Limiter {
	if interval <= 0 {
		return noopLimiter{}
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error {
	return ctx.Err()
}
