package cache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func utcPolicy() ExpiryPolicy {
	p := DefaultExpiryPolicy()
	p.Location = time.UTC
	return p
}

func TestDailyExpiry(t *testing.T) {
	p := utcPolicy()

	// 2024-03-06 is a Wednesday.
	assert.Equal(t, at(2024, 3, 6, 15, 30), p.ExpiresAt(CategoryDaily, at(2024, 3, 6, 10, 0)))
	assert.Equal(t, at(2024, 3, 7, 15, 30), p.ExpiresAt(CategoryDaily, at(2024, 3, 6, 16, 0)))
	assert.Equal(t, at(2024, 3, 7, 15, 30), p.ExpiresAt(CategoryDaily, at(2024, 3, 6, 15, 30)), "at the cutoff rolls over")
	assert.Equal(t, at(2024, 3, 1, 15, 30), p.ExpiresAt(CategoryDaily, at(2024, 2, 29, 23, 59)))
}

func TestWeeklyExpiry(t *testing.T) {
	p := utcPolicy()

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{at(2024, 3, 4, 9, 15), at(2024, 3, 10, 9, 15)},  // Monday -> Sunday
		{at(2024, 3, 9, 20, 0), at(2024, 3, 10, 20, 0)},  // Saturday -> next day
		{at(2024, 3, 10, 11, 0), at(2024, 3, 17, 11, 0)}, // Sunday rolls a full week
	}
	for _, c := range cases {
		assert.Equal(t, c.want, p.ExpiresAt(CategoryWeekly, c.now), "now=%s", c.now)
	}
}

func TestLongTermExpiry(t *testing.T) {
	p := utcPolicy()
	now := at(2024, 3, 6, 10, 0)
	assert.Equal(t, now.Add(7*24*time.Hour), p.ExpiresAt(CategoryLongTerm, now))
	assert.Equal(t, now.Add(7*24*time.Hour), p.ExpiresAt("analysis", now))
}

func TestExpiryUsesPolicyLocation(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	p := DefaultExpiryPolicy()
	p.Location = shanghai

	// 06:00 UTC is 14:00 in Shanghai, before the cutoff.
	got := p.ExpiresAt(CategoryDaily, at(2024, 3, 6, 6, 0))
	assert.Equal(t, time.Date(2024, 3, 6, 15, 30, 0, 0, shanghai), got)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(10.5, 12345, "2024-03-06")
	assert.Len(t, a, FingerprintLen)
	assert.Equal(t, a, Fingerprint(10.5, 12345, "2024-03-06"))
	assert.NotEqual(t, a, Fingerprint(10.51, 12345, "2024-03-06"))
	assert.NotEqual(t, a, Fingerprint(10.5, 12346, "2024-03-06"))
	assert.NotEqual(t, a, Fingerprint(10.5, 12345, "2024-03-07"))

	assert.Equal(t, "12.0", formatNumber(12))
	assert.Equal(t, "10.5", formatNumber(10.5))
	assert.Equal(t, "", FingerprintBars(nil))
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{-3, "-3.0"},
		{123456789, "123456789.0"},
		{9999999999999998, "9999999999999998.0"},
		{1e16, "1e+16"},
		{1.5e17, "1.5e+17"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{math.Inf(1), "inf"},
		{math.NaN(), "nan"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.in), "%v", tt.in)
	}
}
