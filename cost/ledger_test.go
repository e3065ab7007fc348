package cost

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLocalLedger() *Ledger {
	return NewLedger(nil, DefaultPricing(), zap.NewNop())
}

func TestTrackASR_UnitsAndCost(t *testing.T) {
	l := newLocalLedger()

	entry := l.TrackASR(context.Background(), "sarvam", 15500*time.Millisecond, "s1", "t1", nil)

	assert.Equal(t, ServiceASR, entry.Service)
	assert.Equal(t, int64(15500), entry.Units)
	assert.Equal(t, "audio_ms", entry.UnitType)
	// 15.5 秒 × $0.0001/秒
	assert.True(t, entry.CostUSD.Equal(decimal.RequireFromString("0.00155")),
		"got %s", entry.CostUSD)
}

func TestTrackLLM_SplitTokenPricing(t *testing.T) {
	l := newLocalLedger()

	entry := l.TrackLLM(context.Background(), "sarvam", 100, 50, "s1", "t1", nil)

	assert.Equal(t, int64(150), entry.Units)
	// 100×$0.000001 + 50×$0.000002
	assert.True(t, entry.CostUSD.Equal(decimal.RequireFromString("0.0002")),
		"got %s", entry.CostUSD)
	assert.Equal(t, "100", entry.Metadata["input_tokens"])
	assert.Equal(t, "50", entry.Metadata["output_tokens"])
}

func TestTrackUnknownProviderCostsZero(t *testing.T) {
	l := newLocalLedger()

	entry := l.TrackTTS(context.Background(), "nonexistent", 500, "s1", "t1", nil)
	assert.True(t, entry.CostUSD.IsZero())
}

func TestSessionSummary_Additivity(t *testing.T) {
	l := newLocalLedger()
	ctx := context.Background()

	entries := []*Entry{
		l.TrackASR(ctx, "sarvam", 10*time.Second, "s1", "t1", nil),
		l.TrackLLM(ctx, "sarvam", 120, 80, "s1", "t1", nil),
		l.TrackTranslation(ctx, "sarvam", 240, "s1", "t1", nil),
		l.TrackTTS(ctx, "elevenlabs", 240, "s1", "t1", nil),
		l.TrackTTS(ctx, "sarvam", 100, "s1", "t2", nil),
	}
	// 其他会话的条目不得混入
	l.TrackLLM(ctx, "openai", 10, 10, "s2", "t9", nil)

	summary := l.SessionSummary(ctx, "s1")

	expected := decimal.Zero
	for _, e := range entries {
		expected = expected.Add(e.CostUSD)
	}
	assert.True(t, summary.TotalCostUSD.Equal(expected),
		"total %s != sum of entries %s", summary.TotalCostUSD, expected)
	assert.Equal(t, 5, summary.EntriesCount)

	// 按服务的拆分必须重新加总回总额
	byService := decimal.Zero
	for _, v := range summary.ByService {
		byService = byService.Add(v)
	}
	assert.True(t, summary.TotalCostUSD.Equal(byService))

	byProvider := decimal.Zero
	for _, v := range summary.ByProvider {
		byProvider = byProvider.Add(v)
	}
	assert.True(t, summary.TotalCostUSD.Equal(byProvider))

	assert.False(t, summary.StartTime.IsZero())
	assert.False(t, summary.EndTime.Before(summary.StartTime))
}

func TestSessionSummary_EmptySession(t *testing.T) {
	l := newLocalLedger()

	summary := l.SessionSummary(context.Background(), "missing")
	assert.True(t, summary.TotalCostUSD.IsZero())
	assert.Zero(t, summary.EntriesCount)
	assert.Empty(t, summary.ByService)
}

func TestTurnCost(t *testing.T) {
	l := newLocalLedger()
	ctx := context.Background()

	l.TrackTTS(ctx, "sarvam", 100, "s1", "t1", nil)
	l.TrackTTS(ctx, "sarvam", 100, "s1", "t2", nil)

	cost := l.TurnCost(ctx, "s1", "t1")
	assert.True(t, cost.Equal(decimal.RequireFromString("0.0015")), "got %s", cost)
}

func TestLocalBufferBounded(t *testing.T) {
	l := newLocalLedger()
	ctx := context.Background()

	for i := 0; i < maxLocalEntries+50; i++ {
		l.TrackTTS(ctx, "sarvam", 1, "s-bound", "t", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.entries, maxLocalEntries)
}

// =============================================================================
// 🧪 Redis 镜像
// =============================================================================

func setupRedisLedger(t *testing.T) (*miniredis.Miniredis, *Ledger) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewLedger(rdb, DefaultPricing(), zap.NewNop())
}

func TestSessionSummary_PrefersDurableStore(t *testing.T) {
	_, l := setupRedisLedger(t)
	ctx := context.Background()

	l.TrackASR(ctx, "sarvam", 5*time.Second, "s1", "t1", nil)
	l.TrackLLM(ctx, "sarvam", 10, 10, "s1", "t1", nil)

	// 清空本地环，数据仍能从持久索引读回
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()

	summary := l.SessionSummary(ctx, "s1")
	assert.Equal(t, 2, summary.EntriesCount)
	assert.False(t, summary.TotalCostUSD.IsZero())
}

func TestSessionSummary_FallsBackWhenStoreUnreachable(t *testing.T) {
	mr, l := setupRedisLedger(t)
	ctx := context.Background()

	l.TrackTTS(ctx, "sarvam", 100, "s1", "t1", nil)
	mr.Close()

	// 持久端不可达：回落到进程内环，条目仍可汇总
	summary := l.SessionSummary(ctx, "s1")
	assert.Equal(t, 1, summary.EntriesCount)
}
