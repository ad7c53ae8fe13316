package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
)

const redisKeyPrefix = "stock_analysis"

// RedisStore keeps one key per (code, category). Keys carry no Redis TTL;
// validity is decided by the entry's expires_at like the SQLite store.
type RedisStore struct {
	client *redis.Client
}

var _ cache.Store = (*RedisStore)(nil)
var _ cache.Lister = (*RedisStore)(nil)

type redisRecord struct {
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	Fingerprint string    `json:"data_hash"`
	Prompt      string    `json:"prompt,omitempty"`
	Result      string    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expire_at"`
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr, password string, dbIndex int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbIndex,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败 (%s): %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(code, category string) string {
	return redisKeyPrefix + ":" + code + ":" + category
}

func (s *RedisStore) Find(ctx context.Context, code, category string) (*cache.Entry, error) {
	raw, err := s.client.Get(ctx, redisKey(code, category)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, code, category string) error {
	if category != "" {
		return s.client.Del(ctx, redisKey(code, category)).Err()
	}

	keys, err := s.scan(ctx, code)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Upsert overwrites the single key for (code, category); SET is atomic.
func (s *RedisStore) Upsert(ctx context.Context, e cache.Entry) error {
	raw, err := json.Marshal(redisRecord{
		Code:        e.Code,
		Category:    e.Category,
		Fingerprint: e.Fingerprint,
		Prompt:      e.Prompt,
		Result:      string(e.Result),
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKey(e.Code, e.Category), raw, 0).Err()
}

func (s *RedisStore) List(ctx context.Context, code string) ([]cache.Entry, error) {
	keys, err := s.scan(ctx, code)
	if err != nil {
		return nil, err
	}

	entries := make([]cache.Entry, 0, len(keys))
	if len(keys) == 0 {
		return entries, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *RedisStore) scan(ctx context.Context, code string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKey(code, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecord(raw []byte) (cache.Entry, error) {
	var r redisRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return cache.Entry{}, fmt.Errorf("解析缓存记录失败: %w", err)
	}
	return cache.Entry{
		Code:        r.Code,
		Category:    r.Category,
		Fingerprint: r.Fingerprint,
		Prompt:      r.Prompt,
		Result:      []byte(r.Result),
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}, nil
}
