// =============================================================================
// 💰 成本账本
// =============================================================================
// 追加式的按服务成本归因：ASR 按音频时长、LLM 按 token、
// 翻译与 TTS 按字符计价。货币运算全程使用定点 decimal，
// 浮点累加货币是正确性缺陷而不是风格问题。
//
// 条目写入进程内有界环（最近 1000 条）做快速汇总查询，
// 配置了 Redis 时同步镜像到持久索引；汇总优先读持久端，
// 不可用时回落到进程内环。
// =============================================================================
package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 服务名
const (
	ServiceASR         = "asr"
	ServiceLLM         = "llm"
	ServiceTranslation = "translation"
	ServiceTTS         = "tts"
)

// maxLocalEntries 进程内环保留的最近条目数
const maxLocalEntries = 1000

// Entry 单次服务调用的成本条目，写入后不可变
type Entry struct {
	Service   string            `json:"service"`   // asr, llm, translation, tts
	Provider  string            `json:"provider"`  // sarvam, elevenlabs, ...
	Operation string            `json:"operation"` // transcribe, generate, translate, synthesize
	Units     int64             `json:"units"`     // 毫秒、token、字符
	UnitType  string            `json:"unit_type"` // audio_ms, tokens, characters
	CostUSD   decimal.Decimal   `json:"cost_usd"`
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id,omitempty"`
	TurnID    string            `json:"turn_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary 会话或时间段的成本汇总，由条目聚合派生
type Summary struct {
	TotalCostUSD decimal.Decimal            `json:"total_cost_usd"`
	TotalUnits   int64                      `json:"total_units"`
	EntriesCount int                        `json:"entries_count"`
	ByService    map[string]decimal.Decimal `json:"breakdown_by_service"`
	ByProvider   map[string]decimal.Decimal `json:"breakdown_by_provider"`
	StartTime    time.Time                  `json:"start_time,omitzero"`
	EndTime      time.Time                  `json:"end_time,omitzero"`
}

// TokenPrice LLM 按 token 的单价（输入/输出分开计）
type TokenPrice struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// Pricing 按供应商的单价表，可在构造时覆盖
type Pricing struct {
	ASR         map[string]decimal.Decimal // 每音频秒
	LLM         map[string]TokenPrice      // 每 token
	Translation map[string]decimal.Decimal // 每字符
	TTS         map[string]decimal.Decimal // 每字符
}

// DefaultPricing 返回内置单价表
func DefaultPricing() Pricing {
	return Pricing{
		ASR: map[string]decimal.Decimal{
			"sarvam": decimal.RequireFromString("0.0001"),
		},
		LLM: map[string]TokenPrice{
			"sarvam": {
				Input:  decimal.RequireFromString("0.000001"),
				Output: decimal.RequireFromString("0.000002"),
			},
			"openai": {
				Input:  decimal.RequireFromString("0.00001"),
				Output: decimal.RequireFromString("0.00003"),
			},
		},
		Translation: map[string]decimal.Decimal{
			"sarvam": decimal.RequireFromString("0.000001"),
		},
		TTS: map[string]decimal.Decimal{
			"sarvam":     decimal.RequireFromString("0.000015"),
			"elevenlabs": decimal.RequireFromString("0.00003"),
		},
	}
}

// Ledger 成本账本
type Ledger struct {
	mu      sync.Mutex
	entries []Entry // 有界环，最近 maxLocalEntries 条

	rdb     *redis.Client // nil 时仅进程内记账
	pricing Pricing
	logger  *zap.Logger
}

// NewLedger 创建成本账本。rdb 为 nil 时不做持久镜像。
func NewLedger(rdb *redis.Client, pricing Pricing, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		rdb:     rdb,
		pricing: pricing,
		logger:  logger.With(zap.String("component", "cost_ledger")),
	}
}

// TrackASR 记录语音识别成本，按音频时长计价，单位存毫秒
func (l *Ledger) TrackASR(ctx context.Context, provider string, audio time.Duration, sessionID, turnID string, metadata map[string]string) *Entry {
	seconds := decimal.NewFromFloat(audio.Seconds())
	price := l.pricing.ASR[provider] // 未知供应商单价为零值，成本记零

	entry := l.record(ctx, Entry{
		Service:   ServiceASR,
		Provider:  provider,
		Operation: "transcribe",
		Units:     audio.Milliseconds(),
		UnitType:  "audio_ms",
		CostUSD:   seconds.Mul(price),
		SessionID: sessionID,
		TurnID:    turnID,
		Metadata:  metadata,
	})
	return entry
}

// TrackLLM 记录模型生成成本，输入/输出 token 分开计价
func (l *Ledger) TrackLLM(ctx context.Context, provider string, inputTokens, outputTokens int, sessionID, turnID string, metadata map[string]string) *Entry {
	price := l.pricing.LLM[provider]
	cost := decimal.NewFromInt(int64(inputTokens)).Mul(price.Input).
		Add(decimal.NewFromInt(int64(outputTokens)).Mul(price.Output))

	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["input_tokens"] = fmt.Sprintf("%d", inputTokens)
	metadata["output_tokens"] = fmt.Sprintf("%d", outputTokens)

	return l.record(ctx, Entry{
		Service:   ServiceLLM,
		Provider:  provider,
		Operation: "generate",
		Units:     int64(inputTokens + outputTokens),
		UnitType:  "tokens",
		CostUSD:   cost,
		SessionID: sessionID,
		TurnID:    turnID,
		Metadata:  metadata,
	})
}

// TrackTranslation 记录翻译成本，按字符计价
func (l *Ledger) TrackTranslation(ctx context.Context, provider string, characters int, sessionID, turnID string, metadata map[string]string) *Entry {
	price := l.pricing.Translation[provider]
	return l.record(ctx, Entry{
		Service:   ServiceTranslation,
		Provider:  provider,
		Operation: "translate",
		Units:     int64(characters),
		UnitType:  "characters",
		CostUSD:   decimal.NewFromInt(int64(characters)).Mul(price),
		SessionID: sessionID,
		TurnID:    turnID,
		Metadata:  metadata,
	})
}

// TrackTTS 记录语音合成成本，按字符计价
func (l *Ledger) TrackTTS(ctx context.Context, provider string, characters int, sessionID, turnID string, metadata map[string]string) *Entry {
	price := l.pricing.TTS[provider]
	return l.record(ctx, Entry{
		Service:   ServiceTTS,
		Provider:  provider,
		Operation: "synthesize",
		Units:     int64(characters),
		UnitType:  "characters",
		CostUSD:   decimal.NewFromInt(int64(characters)).Mul(price),
		SessionID: sessionID,
		TurnID:    turnID,
		Metadata:  metadata,
	})
}

// record 写入进程内环并镜像到 Redis
func (l *Ledger) record(ctx context.Context, entry Entry) *Entry {
	entry.Timestamp = time.Now().UTC()

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > maxLocalEntries {
		l.entries = l.entries[len(l.entries)-maxLocalEntries:]
	}
	l.mu.Unlock()

	l.persist(ctx, entry)

	l.logger.Debug("cost tracked",
		zap.String("service", entry.Service),
		zap.String("provider", entry.Provider),
		zap.String("cost_usd", entry.CostUSD.String()),
		zap.String("session_id", entry.SessionID))
	return &entry
}

// persist 镜像条目到 Redis：string 存 JSON 内容，zset 做会话/全局时间索引
func (l *Ledger) persist(ctx context.Context, entry Entry) {
	if l.rdb == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Warn("cost entry marshal failed", zap.Error(err))
		return
	}

	score := float64(entry.Timestamp.UnixNano()) / float64(time.Second)
	entryKey := fmt.Sprintf("cost:entry:%s:%s:%d", entry.SessionID, entry.TurnID, entry.Timestamp.UnixNano())

	if err := l.rdb.Set(ctx, entryKey, data, 0).Err(); err != nil {
		l.logger.Warn("cost entry persist failed, keeping local copy", zap.Error(err))
		return
	}
	if entry.SessionID != "" {
		sessionKey := "cost:session:" + entry.SessionID
		if err := l.rdb.ZAdd(ctx, sessionKey, redis.Z{Score: score, Member: entryKey}).Err(); err != nil {
			l.logger.Warn("cost session index update failed", zap.Error(err))
		}
	}
	if err := l.rdb.ZAdd(ctx, "cost:global", redis.Z{Score: score, Member: entryKey}).Err(); err != nil {
		l.logger.Warn("cost global index update failed", zap.Error(err))
	}
}

// SessionSummary 线性扫描聚合一个会话的全部条目
// 每会话条目数是几十的量级，线性扫描足够
func (l *Ledger) SessionSummary(ctx context.Context, sessionID string) *Summary {
	entries := l.sessionEntries(ctx, sessionID)

	summary := &Summary{
		TotalCostUSD: decimal.Zero,
		ByService:    make(map[string]decimal.Decimal),
		ByProvider:   make(map[string]decimal.Decimal),
	}
	for _, e := range entries {
		summary.TotalCostUSD = summary.TotalCostUSD.Add(e.CostUSD)
		summary.TotalUnits += e.Units
		summary.EntriesCount++

		svc := summary.ByService[e.Service]
		summary.ByService[e.Service] = svc.Add(e.CostUSD)
		prov := summary.ByProvider[e.Provider]
		summary.ByProvider[e.Provider] = prov.Add(e.CostUSD)

		if summary.StartTime.IsZero() || e.Timestamp.Before(summary.StartTime) {
			summary.StartTime = e.Timestamp
		}
		if e.Timestamp.After(summary.EndTime) {
			summary.EndTime = e.Timestamp
		}
	}
	return summary
}

// TurnCost 返回单个轮次的总成本
func (l *Ledger) TurnCost(ctx context.Context, sessionID, turnID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.sessionEntries(ctx, sessionID) {
		if e.TurnID == turnID {
			total = total.Add(e.CostUSD)
		}
	}
	return total
}

// sessionEntries 优先从 Redis 读取，不可用时回落到进程内环
func (l *Ledger) sessionEntries(ctx context.Context, sessionID string) []Entry {
	if l.rdb != nil {
		if entries, ok := l.sessionEntriesFromRedis(ctx, sessionID); ok {
			return entries
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []Entry
	for _, e := range l.entries {
		if e.SessionID == sessionID {
			entries = append(entries, e)
		}
	}
	return entries
}

func (l *Ledger) sessionEntriesFromRedis(ctx context.Context, sessionID string) ([]Entry, bool) {
	keys, err := l.rdb.ZRange(ctx, "cost:session:"+sessionID, 0, -1).Result()
	if err != nil {
		l.logger.Warn("cost session index read failed, falling back to local buffer", zap.Error(err))
		return nil, false
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := l.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			l.logger.Warn("cost entry decode failed, skipping", zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, true
}

// Close 关闭 Redis 连接
func (l *Ledger) Close() error {
	if l.rdb != nil {
		return l.rdb.Close()
	}
	return nil
}
