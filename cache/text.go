package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/config"
)

const (
	exactKeyPrefix    = "llm:exact:"
	semanticKeyPrefix = "llm:semantic:"
	queryIndexKey     = "llm:query_index"

	// semanticScanWindow 每次语义查找扫描的最近查询数
	semanticScanWindow = 100
	// queryIndexLimit 查询索引保留的条目上限
	queryIndexLimit = 1000
)

// TextCache 模型回复缓存：精确匹配 + 语义相似度匹配
type TextCache struct {
	rdb        *redis.Client
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewTextCache 创建文本缓存。rdb 为 nil 时缓存整体降级为未命中。
func NewTextCache(rdb *redis.Client, defaultTTL time.Duration, logger *zap.Logger) *TextCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &TextCache{
		rdb:        rdb,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "text_cache")),
	}
}

// GetExact 按 (归一化查询, 优化级别) 哈希做精确查找
func (c *TextCache) GetExact(ctx context.Context, query, optimizationLevel string) (*TextEntry, bool) {
	if c.rdb == nil {
		return nil, false
	}

	key := exactKeyPrefix + hashQuery(query, optimizationLevel)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("text cache get failed, treating as miss", zap.Error(err))
		return nil, false
	}
	return decodeTextEntry(val, c.logger)
}

// GetSemantic 语义相似度查找
//
// 仅最高两档优化级别启用；其余档位直接返回未命中，
// 因为略微过期的答案抵不上搜索成本。算法：归一化查询，
// 取索引中最近 100 条已缓存查询，逐条计算词集 Jaccard 相似度，
// 返回达到阈值的最高分候选（平分时取更新的那条）。
func (c *TextCache) GetSemantic(ctx context.Context, query, optimizationLevel string, threshold float64) (*TextEntry, bool) {
	if !config.ProfileFor(optimizationLevel).SemanticCacheEnabled {
		return nil, false
	}
	if c.rdb == nil {
		return nil, false
	}

	normalized := normalizeQuery(query)

	// ZRevRange 返回按时间降序的最近查询，先出现的候选更新
	recent, err := c.rdb.ZRevRange(ctx, queryIndexKey, 0, semanticScanWindow-1).Result()
	if err != nil {
		c.logger.Warn("semantic index scan failed, treating as miss", zap.Error(err))
		return nil, false
	}

	bestMatch := ""
	bestScore := 0.0
	for _, candidate := range recent {
		score := jaccardSimilarity(normalized, candidate)
		if score >= threshold && score > bestScore {
			bestScore = score
			bestMatch = candidate
		}
	}
	if bestMatch == "" {
		return nil, false
	}

	val, err := c.rdb.Get(ctx, semanticKeyPrefix+bestMatch).Result()
	if err != nil {
		return nil, false
	}
	return decodeTextEntry(val, c.logger)
}

// Set 写入文本缓存
//
// 精确键始终写入；语义键与查询索引只为最高两档写入，
// 索引修剪到最近 1000 条以约束语义扫描的候选集。
func (c *TextCache) Set(ctx context.Context, query string, entry *TextEntry, ttl time.Duration) {
	if c.rdb == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("text cache entry marshal failed", zap.Error(err))
		return
	}

	exactKey := exactKeyPrefix + hashQuery(query, entry.OptimizationLevel)
	if err := c.rdb.Set(ctx, exactKey, data, ttl).Err(); err != nil {
		c.logger.Warn("text cache set failed, skipping", zap.Error(err))
		return
	}

	if !config.ProfileFor(entry.OptimizationLevel).SemanticCacheEnabled {
		return
	}

	normalized := normalizeQuery(query)
	if err := c.rdb.Set(ctx, semanticKeyPrefix+normalized, data, ttl).Err(); err != nil {
		c.logger.Warn("semantic cache set failed, skipping", zap.Error(err))
		return
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	if err := c.rdb.ZAdd(ctx, queryIndexKey, redis.Z{Score: now, Member: normalized}).Err(); err != nil {
		c.logger.Warn("query index update failed, skipping", zap.Error(err))
		return
	}
	// 修剪：只保留分数最高（最新）的 queryIndexLimit 条
	if err := c.rdb.ZRemRangeByRank(ctx, queryIndexKey, 0, int64(-queryIndexLimit-1)).Err(); err != nil {
		c.logger.Warn("query index trim failed, skipping", zap.Error(err))
	}
}

// Invalidate 作废一条缓存（精确键、语义键与索引项）
func (c *TextCache) Invalidate(ctx context.Context, query, optimizationLevel string) {
	if c.rdb == nil {
		return
	}
	normalized := normalizeQuery(query)
	c.rdb.Del(ctx, exactKeyPrefix+hashQuery(query, optimizationLevel))
	c.rdb.Del(ctx, semanticKeyPrefix+normalized)
	c.rdb.ZRem(ctx, queryIndexKey, normalized)
}

func decodeTextEntry(val string, logger *zap.Logger) (*TextEntry, bool) {
	var entry TextEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		logger.Warn("text cache entry corrupted, treating as miss", zap.Error(err))
		return nil, false
	}
	return &entry, true
}
