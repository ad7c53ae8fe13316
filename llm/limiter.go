package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 每分钟调用次数限制。未启用时总是放行。
type Limiter struct {
	enabled   bool
	perMinute int
	limiter   *rate.Limiter
}

// NewLimiter 按每分钟 perMinute 次的速率构建令牌桶，桶容量同为 perMinute
func NewLimiter(cfg RateLimitConfig) *Limiter {
	l := &Limiter{enabled: cfg.Enabled, perMinute: cfg.PerMinute}
	if cfg.Enabled && cfg.PerMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.PerMinute)
	}
	return l
}

// Wait blocks until a call is allowed or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// LimiterStats 频率限制统计
type LimiterStats struct {
	Enabled           bool    `json:"enabled"`
	MaxCallsPerMinute int     `json:"max_calls_per_minute"`
	Remaining         float64 `json:"remaining_calls"`
}

func (l *Limiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	s := LimiterStats{Enabled: l.enabled, MaxCallsPerMinute: l.perMinute}
	if l.limiter != nil {
		s.Remaining = l.limiter.Tokens()
	}
	return s
}
