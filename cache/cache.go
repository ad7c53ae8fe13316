// Package cache 实现两级诊断缓存：进程内 LRU 快速层 + 可持久化的 durable 层。
package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// 默认快速层参数
const (
	DefaultSize = 1000
	DefaultTTL  = 5 * time.Minute
)

// Entry is one durable row. At most one live entry exists per (Code, Category).
type Entry struct {
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	Fingerprint string    `json:"fingerprint"`
	Prompt      string    `json:"prompt,omitempty"`
	Result      []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store is the durable tier.
type Store interface {
	// Find returns the newest row for (code, category), or nil when absent.
	Find(ctx context.Context, code, category string) (*Entry, error)
	// DeleteAll removes rows for code; an empty category removes every category.
	DeleteAll(ctx context.Context, code, category string) error
	// Upsert replaces all rows for (e.Code, e.Category) with e atomically.
	Upsert(ctx context.Context, e Entry) error
}

// Lister is implemented by stores that can enumerate rows for a code.
type Lister interface {
	List(ctx context.Context, code string) ([]Entry, error)
}

// Options configures a Cache. Zero values fall back to defaults.
type Options struct {
	Size   int
	TTL    time.Duration
	Policy *ExpiryPolicy
	Now    func() time.Time
	Logger *zap.Logger
}

// Stats 缓存命中统计
type Stats struct {
	FastHits      int64 `json:"fast_hits"`
	DurableHits   int64 `json:"durable_hits"`
	Misses        int64 `json:"misses"`
	Writes        int64 `json:"writes"`
	DurableErrors int64 `json:"durable_errors"`
	FastEntries   int   `json:"fast_entries"`
	Durable       bool  `json:"durable"`
}

// Cache is safe for concurrent use. Durable failures are logged and degrade
// to a miss; no method returns a storage error to the caller.
type Cache struct {
	fast   *expirable.LRU[string, []byte]
	store  Store
	policy ExpiryPolicy
	now    func() time.Time
	logger *zap.Logger

	fastHits      atomic.Int64
	durableHits   atomic.Int64
	misses        atomic.Int64
	writes        atomic.Int64
	durableErrors atomic.Int64
}

// New 创建两级缓存。store 为 nil 时只有内存层。
func New(store Store, opts Options) *Cache {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	policy := DefaultExpiryPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Cache{
		fast:   expirable.NewLRU[string, []byte](opts.Size, nil, opts.TTL),
		store:  store,
		policy: policy,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

func fastKey(code, category, fp string) string {
	return code + ":" + category + ":" + fp
}

// Get looks up the fast tier by (code, category, fp) and falls back to the
// durable row for (code, category). The durable fingerprint is not compared
// with fp; a durable hit is backfilled under fp.
func (c *Cache) Get(ctx context.Context, code, category, fp string) ([]byte, bool) {
	key := fastKey(code, category, fp)
	if v, ok := c.fast.Get(key); ok {
		c.fastHits.Add(1)
		return v, true
	}

	if c.store == nil {
		c.misses.Add(1)
		return nil, false
	}

	e, err := c.store.Find(ctx, code, category)
	if err != nil {
		c.durableErrors.Add(1)
		c.misses.Add(1)
		c.logger.Warn("读取持久缓存失败",
			zap.String("code", code),
			zap.String("category", category),
			zap.Error(err))
		return nil, false
	}
	if e == nil || c.now().After(e.ExpiresAt) {
		c.misses.Add(1)
		return nil, false
	}

	c.fast.Add(key, e.Result)
	c.durableHits.Add(1)
	return e.Result, true
}

// Set writes payload to both tiers, replacing any entry for (code, category)
// whatever its fingerprint. The durable expiry comes from the category's
// ExpiryPolicy.
func (c *Cache) Set(ctx context.Context, code, category, fp string, payload []byte, prompt string) {
	c.dropFast(code + ":" + category + ":")
	c.fast.Add(fastKey(code, category, fp), payload)
	c.writes.Add(1)

	if c.store == nil {
		return
	}

	now := c.now()
	e := Entry{
		Code:        code,
		Category:    category,
		Fingerprint: fp,
		Prompt:      prompt,
		Result:      payload,
		CreatedAt:   now,
		ExpiresAt:   c.policy.ExpiresAt(category, now),
	}
	if err := c.store.Upsert(ctx, e); err != nil {
		c.durableErrors.Add(1)
		c.logger.Warn("写入持久缓存失败",
			zap.String("code", code),
			zap.String("category", category),
			zap.Error(err))
	}
}

// Invalidate removes entries for code from both tiers. An empty category
// removes every category.
func (c *Cache) Invalidate(ctx context.Context, code, category string) {
	prefix := code + ":"
	if category != "" {
		prefix += category + ":"
	}
	c.dropFast(prefix)

	if c.store == nil {
		return
	}
	if err := c.store.DeleteAll(ctx, code, category); err != nil {
		c.durableErrors.Add(1)
		c.logger.Warn("清除持久缓存失败",
			zap.String("code", code),
			zap.String("category", category),
			zap.Error(err))
	}
}

// Entries lists the durable rows for code. It returns nil when the store
// cannot enumerate.
func (c *Cache) Entries(ctx context.Context, code string) ([]Entry, error) {
	l, ok := c.store.(Lister)
	if !ok {
		return nil, nil
	}
	return l.List(ctx, code)
}

// Stats returns a snapshot of the hit counters.
func (c *Cache) Stats() Stats {
	return Stats{
		FastHits:      c.fastHits.Load(),
		DurableHits:   c.durableHits.Load(),
		Misses:        c.misses.Load(),
		Writes:        c.writes.Load(),
		DurableErrors: c.durableErrors.Load(),
		FastEntries:   c.fast.Len(),
		Durable:       c.store != nil,
	}
}

// Purge drops the fast tier only.
func (c *Cache) Purge() {
	c.fast.Purge()
}

func (c *Cache) dropFast(prefix string) {
	for _, k := range c.fast.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.fast.Remove(k)
		}
	}
}
