package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/voiceflow/config"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// =============================================================================
// 🧪 AudioCache
// =============================================================================

func TestAudioCache_RoundTrip(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewAudioCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	key := AudioKey("hello there", "hi-IN", "anushka", "wav", 22050)
	entry := &AudioEntry{AudioB64: "UklGRg==", Codec: "wav", SampleRateHz: 22050}
	c.Set(ctx, key, entry, time.Minute)

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestAudioCache_MissOnUnknownKey(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewAudioCache(rdb, time.Minute, zap.NewNop())

	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
}

func TestAudioCache_TTLExpiry(t *testing.T) {
	mr, rdb := setupRedis(t)
	c := NewAudioCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", &AudioEntry{AudioB64: "AA==", Codec: "mp3", SampleRateHz: 8000}, 30*time.Second)

	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	mr.FastForward(31 * time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestAudioCache_NilClientDegradesToMiss(t *testing.T) {
	c := NewAudioCache(nil, time.Minute, zap.NewNop())
	ctx := context.Background()

	// 未配置后端：写是空操作，读永远未命中
	c.Set(ctx, "k", &AudioEntry{AudioB64: "AA=="}, time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestAudioCache_UnreachableBackendDegradesToMiss(t *testing.T) {
	mr, rdb := setupRedis(t)
	c := NewAudioCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	mr.Close()
	assert.NotPanics(t, func() {
		c.Set(ctx, "k", &AudioEntry{AudioB64: "AA=="}, time.Minute)
	})
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

// =============================================================================
// 🧪 TextCache
// =============================================================================

func TestTextCache_ExactRoundTrip(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	entry := &TextEntry{
		ResponseText:      "we are open nine to five",
		GuardrailSafe:     true,
		TokenCount:        7,
		OptimizationLevel: config.LevelBalanced,
	}
	c.Set(ctx, "What are your opening hours?", entry, time.Minute)

	got, ok := c.GetExact(ctx, "What are your opening hours?", config.LevelBalanced)
	require.True(t, ok)
	assert.Equal(t, entry, got)

	// 不同优化级别是不同的精确键
	_, ok = c.GetExact(ctx, "What are your opening hours?", config.LevelSpeed)
	assert.False(t, ok)
}

func TestTextCache_ExactKeyNormalizesCaseAndSpace(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "what are your hours", &TextEntry{ResponseText: "r", OptimizationLevel: config.LevelBalanced}, 0)

	_, ok := c.GetExact(ctx, "  WHAT ARE YOUR HOURS  ", config.LevelBalanced)
	assert.True(t, ok)
}

func TestTextCache_SemanticMatch(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	entry := &TextEntry{
		ResponseText:      "our return policy is thirty days",
		GuardrailSafe:     true,
		OptimizationLevel: config.LevelQuality,
	}
	c.Set(ctx, "what is your return policy", entry, time.Minute)

	// 高度重叠的变体应命中
	got, ok := c.GetSemantic(ctx, "what is your return policy please", config.LevelQuality, 0.7)
	require.True(t, ok)
	assert.Equal(t, entry.ResponseText, got.ResponseText)

	// 低于阈值的查询不命中
	_, ok = c.GetSemantic(ctx, "tell me about shipping costs", config.LevelQuality, 0.7)
	assert.False(t, ok)
}

func TestTextCache_SemanticDisabledForSpeedTiers(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	// 即使完全相同的归一化查询已在 quality 档缓存，
	// 速度档位的语义查找也必须永远未命中
	c.Set(ctx, "what is your return policy", &TextEntry{
		ResponseText:      "thirty days",
		OptimizationLevel: config.LevelQuality,
	}, time.Minute)

	for _, level := range []string{config.LevelSpeed, config.LevelBalancedSpeed, config.LevelBalanced} {
		_, ok := c.GetSemantic(ctx, "what is your return policy", level, 0.7)
		assert.False(t, ok, "semantic lookup must be inert for level %s", level)
	}
}

func TestTextCache_SemanticIndexOnlyForQualityTiers(t *testing.T) {
	mr, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "cheap query", &TextEntry{ResponseText: "r", OptimizationLevel: config.LevelSpeed}, time.Minute)
	assert.False(t, mr.Exists(queryIndexKey))

	c.Set(ctx, "expensive query", &TextEntry{ResponseText: "r", OptimizationLevel: config.LevelQuality}, time.Minute)
	assert.True(t, mr.Exists(queryIndexKey))
}

func TestTextCache_SemanticTieBrokenByRecency(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "alpha beta gamma", &TextEntry{ResponseText: "older", OptimizationLevel: config.LevelQuality}, time.Minute)
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "alpha beta delta", &TextEntry{ResponseText: "newer", OptimizationLevel: config.LevelQuality}, time.Minute)

	// 两个候选对查询 "alpha beta" 同分，取更新写入的那条
	got, ok := c.GetSemantic(ctx, "alpha beta", config.LevelQuality, 0.5)
	require.True(t, ok)
	assert.Equal(t, "newer", got.ResponseText)
}

func TestTextCache_Invalidate(t *testing.T) {
	_, rdb := setupRedis(t)
	c := NewTextCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "q", &TextEntry{ResponseText: "r", OptimizationLevel: config.LevelQuality}, time.Minute)
	c.Invalidate(ctx, "q", config.LevelQuality)

	_, ok := c.GetExact(ctx, "q", config.LevelQuality)
	assert.False(t, ok)
	_, ok = c.GetSemantic(ctx, "q", config.LevelQuality, 0.9)
	assert.False(t, ok)
}

func TestTextCache_NilClientDegradesToMiss(t *testing.T) {
	c := NewTextCache(nil, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "q", &TextEntry{ResponseText: "r", OptimizationLevel: config.LevelQuality}, time.Minute)
	_, ok := c.GetExact(ctx, "q", config.LevelQuality)
	assert.False(t, ok)
	_, ok = c.GetSemantic(ctx, "q", config.LevelQuality, 0.5)
	assert.False(t, ok)
}

// =============================================================================
// 🧪 相似度性质
// =============================================================================

func TestJaccardSimilarity_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 12)
		a := joinWords(words.Draw(t, "a"))
		b := joinWords(words.Draw(t, "b"))

		sab := jaccardSimilarity(a, b)
		sba := jaccardSimilarity(b, a)

		// 对称且有界
		assert.InDelta(t, sab, sba, 1e-12)
		assert.GreaterOrEqual(t, sab, 0.0)
		assert.LessOrEqual(t, sab, 1.0)

		// 非空串与自身相似度为 1
		if len(wordSet(a)) > 0 {
			assert.InDelta(t, 1.0, jaccardSimilarity(a, a), 1e-12)
		}
	})
}

func TestJaccardSimilarity_EmptyInputs(t *testing.T) {
	assert.Zero(t, jaccardSimilarity("", ""))
	assert.Zero(t, jaccardSimilarity("hello", ""))
	assert.Zero(t, jaccardSimilarity("", "hello"))
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}
