package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]Entry
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]Entry)}
}

func (s *memStore) Find(_ context.Context, code, category string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[code+"|"+category]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *memStore) DeleteAll(_ context.Context, code, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.rows {
		if category == "" && strings.HasPrefix(k, code+"|") || k == code+"|"+category {
			delete(s.rows, k)
		}
	}
	return nil
}

func (s *memStore) Upsert(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[e.Code+"|"+e.Category] = e
	return nil
}

func (s *memStore) List(_ context.Context, code string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for k, e := range s.rows {
		if strings.HasPrefix(k, code+"|") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) Find(context.Context, string, string) (*Entry, error) { return nil, errDown }
func (failingStore) DeleteAll(context.Context, string, string) error     { return errDown }
func (failingStore) Upsert(context.Context, Entry) error                 { return errDown }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestCache(store Store, clk *clock) *Cache {
	p := utcPolicy()
	return New(store, Options{Policy: &p, Now: clk.Now})
}

func TestSetThenGetFastTier(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	c := newTestCache(newMemStore(), clk)

	c.Set(ctx, "600000", CategoryDaily, "abc", []byte(`{"summary":"ok"}`), "prompt")

	v, ok := c.Get(ctx, "600000", CategoryDaily, "abc")
	require.True(t, ok)
	assert.JSONEq(t, `{"summary":"ok"}`, string(v))
	assert.EqualValues(t, 1, c.Stats().FastHits)
}

func TestDurableHitBackfillsFastTier(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	store := newMemStore()
	c := newTestCache(store, clk)

	c.Set(ctx, "600000", CategoryDaily, "abc", []byte(`{"a":1}`), "p")
	c.Purge()

	v, ok := c.Get(ctx, "600000", CategoryDaily, "abc")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))

	_, ok = c.Get(ctx, "600000", CategoryDaily, "abc")
	require.True(t, ok)

	s := c.Stats()
	assert.EqualValues(t, 1, s.DurableHits)
	assert.EqualValues(t, 1, s.FastHits)
}

func TestDurableHitIgnoresFingerprint(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	c := newTestCache(newMemStore(), clk)

	c.Set(ctx, "600000", CategoryDaily, "old", []byte(`{"v":"old"}`), "")
	c.Purge()

	v, ok := c.Get(ctx, "600000", CategoryDaily, "new")
	require.True(t, ok)
	assert.Equal(t, `{"v":"old"}`, string(v))
}

func TestDurableEntryExpires(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	store := newMemStore()
	c := newTestCache(store, clk)

	c.Set(ctx, "600000", CategoryDaily, "abc", []byte(`{}`), "")
	e, err := store.Find(ctx, "600000", CategoryDaily)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, at(2024, 3, 6, 15, 30), e.ExpiresAt)

	c.Purge()
	clk.Set(at(2024, 3, 6, 15, 30))
	_, ok := c.Get(ctx, "600000", CategoryDaily, "abc")
	assert.True(t, ok, "now == expiry is still valid")

	c.Purge()
	clk.Set(at(2024, 3, 6, 15, 31))
	_, ok = c.Get(ctx, "600000", CategoryDaily, "abc")
	assert.False(t, ok)
}

func TestSecondSetReplacesDurableRow(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	store := newMemStore()
	c := newTestCache(store, clk)

	c.Set(ctx, "600000", CategoryDaily, "one", []byte(`1`), "")
	c.Set(ctx, "600000", CategoryDaily, "two", []byte(`2`), "")

	rows, err := c.Entries(ctx, "600000")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "two", rows[0].Fingerprint)

	// 旧指纹只能命中持久层的新结果
	v, ok := c.Get(ctx, "600000", CategoryDaily, "one")
	require.True(t, ok)
	assert.Equal(t, []byte(`2`), v)
}

func TestSecondSetReplacesFastEntry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(nil, &clock{t: at(2024, 3, 6, 10, 0)})

	c.Set(ctx, "600000", CategoryDaily, "one", []byte(`1`), "")
	c.Set(ctx, "600000", CategoryWeekly, "one", []byte(`w`), "")
	c.Set(ctx, "600000", CategoryDaily, "two", []byte(`2`), "")

	_, ok := c.Get(ctx, "600000", CategoryDaily, "one")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "600000", CategoryDaily, "two")
	require.True(t, ok)
	assert.Equal(t, []byte(`2`), v)
	v, ok = c.Get(ctx, "600000", CategoryWeekly, "one")
	require.True(t, ok)
	assert.Equal(t, []byte(`w`), v)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	store := newMemStore()
	c := newTestCache(store, clk)

	c.Set(ctx, "600000", CategoryDaily, "a", []byte(`1`), "")
	c.Set(ctx, "600000", CategoryWeekly, "a", []byte(`2`), "")
	c.Set(ctx, "600001", CategoryDaily, "a", []byte(`3`), "")

	c.Invalidate(ctx, "600000", CategoryWeekly)
	_, ok := c.Get(ctx, "600000", CategoryWeekly, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "600000", CategoryDaily, "a")
	assert.True(t, ok)

	c.Invalidate(ctx, "600000", "")
	_, ok = c.Get(ctx, "600000", CategoryDaily, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "600001", CategoryDaily, "a")
	assert.True(t, ok, "other codes are untouched")
	assert.Equal(t, 1, store.len())
}

func TestFailingStoreDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: at(2024, 3, 6, 10, 0)}
	c := newTestCache(failingStore{}, clk)

	c.Set(ctx, "600000", CategoryDaily, "a", []byte(`1`), "")
	v, ok := c.Get(ctx, "600000", CategoryDaily, "a")
	require.True(t, ok, "fast tier still serves")
	assert.Equal(t, "1", string(v))

	c.Purge()
	_, ok = c.Get(ctx, "600000", CategoryDaily, "a")
	assert.False(t, ok)

	c.Invalidate(ctx, "600000", "")
	assert.EqualValues(t, 3, c.Stats().DurableErrors)
}

func TestMemoryOnlyCache(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{Size: 2, TTL: time.Minute})

	c.Set(ctx, "600000", CategoryQuote, "", []byte(`1`), "")
	_, ok := c.Get(ctx, "600000", CategoryQuote, "")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "600001", CategoryQuote, "")
	assert.False(t, ok)

	entries, err := c.Entries(ctx, "600000")
	assert.NoError(t, err)
	assert.Nil(t, entries)
	assert.False(t, c.Stats().Durable)
}

func TestFastTierTTL(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{TTL: 20 * time.Millisecond})

	c.Set(ctx, "600000", CategoryQuote, "", []byte(`1`), "")
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "600000", CategoryQuote, "")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestFastTierEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{Size: 2})

	c.Set(ctx, "a", CategoryDaily, "1", []byte(`a`), "")
	c.Set(ctx, "b", CategoryDaily, "1", []byte(`b`), "")
	_, _ = c.Get(ctx, "a", CategoryDaily, "1")
	c.Set(ctx, "c", CategoryDaily, "1", []byte(`c`), "")

	_, ok := c.Get(ctx, "b", CategoryDaily, "1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "a", CategoryDaily, "1")
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), Options{Size: 16})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := string(rune('a' + i))
			for j := 0; j < 100; j++ {
				c.Set(ctx, code, CategoryDaily, "fp", []byte(`{}`), "")
				c.Get(ctx, code, CategoryDaily, "fp")
				if j%10 == 0 {
					c.Invalidate(ctx, code, "")
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().FastEntries, 16)
}
