package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const audioKeyPrefix = "tts:audio:"

// AudioCache 合成音频缓存，精确键查找
type AudioCache struct {
	rdb        *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewAudioCache 创建音频缓存。rdb 为 nil 时缓存整体降级为未命中。
func NewAudioCache(rdb *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *AudioCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &AudioCache{
		rdb:        rdb,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "audio_cache")),
	}
}

// Get 精确键查找，未命中或后端不可用时返回 (nil, false)
func (c *AudioCache) Get(ctx context.Context, key string) (*AudioEntry, bool) {
	if c.rdb == nil {
		return nil, false
	}

	val, err := c.rdb.Get(ctx, audioKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("audio cache get failed, treating as miss", zap.Error(err))
		return nil, false
	}

	var entry AudioEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		c.logger.Warn("audio cache entry corrupted, treating as miss", zap.Error(err))
		return nil, false
	}
	return &entry, true
}

// Set 写入音频缓存。TTL 由调用方按优化级别给定，0 使用默认值。
// 后端不可用时静默跳过。
func (c *AudioCache) Set(ctx context.Context, key string, entry *AudioEntry, ttl time.Duration) {
	if c.rdb == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("audio cache entry marshal failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, audioKeyPrefix+key, data, ttl).Err(); err != nil {
		c.logger.Warn("audio cache set failed, skipping", zap.Error(err))
	}
}
