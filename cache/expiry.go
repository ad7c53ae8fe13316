package cache

import "time"

// 缓存类别
const (
	CategoryDaily    = "daily"
	CategoryWeekly   = "weekly"
	CategoryLongTerm = "longterm"
	CategoryQuote    = "quote"
)

// ExpiryPolicy decides the durable expiry of an entry at write time.
type ExpiryPolicy struct {
	CutoffHour   int
	CutoffMinute int
	// WeeklyTarget 周线缓存失效的星期，默认周日
	WeeklyTarget time.Weekday
	LongTerm     time.Duration
	Location     *time.Location
}

// DefaultExpiryPolicy 15:30 收盘后失效，周线到周日，其余 7 天
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		CutoffHour:   15,
		CutoffMinute: 30,
		WeeklyTarget: time.Sunday,
		LongTerm:     7 * 24 * time.Hour,
		Location:     time.Local,
	}
}

// ExpiresAt returns the expiry for an entry of category written at now.
func (p ExpiryPolicy) ExpiresAt(category string, now time.Time) time.Time {
	if p.Location != nil {
		now = now.In(p.Location)
	}

	switch category {
	case CategoryDaily:
		cutoff := time.Date(now.Year(), now.Month(), now.Day(), p.CutoffHour, p.CutoffMinute, 0, 0, now.Location())
		if !now.Before(cutoff) {
			cutoff = cutoff.AddDate(0, 0, 1)
		}
		return cutoff
	case CategoryWeekly:
		// 周一为 0 的编号，当天即目标日时顺延一整周
		days := mondayIndex(p.WeeklyTarget) - mondayIndex(now.Weekday())
		if days <= 0 {
			days += 7
		}
		return now.AddDate(0, 0, days)
	}

	ttl := p.LongTerm
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return now.Add(ttl)
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
