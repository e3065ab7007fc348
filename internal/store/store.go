// Package store provides session persistence backed by GORM.
// This package is internal and should not be imported by external projects.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/voiceflow/guardrail"
	"github.com/BaSui01/voiceflow/types"
)

// =============================================================================
// 🗄️ 持久化模型
// =============================================================================

// Session 一次语音会话
type Session struct {
	ID                string `gorm:"primaryKey"`
	LanguageCode      string `gorm:"size:10;default:en-IN"`
	OptimizationLevel string `gorm:"size:32;default:balanced"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message 会话中的一条消息（用户转写或助手回复）
type Message struct {
	ID             string `gorm:"primaryKey"`
	SessionID      string `gorm:"index"`
	TurnID         string `gorm:"index"`
	Role           string `gorm:"size:20"` // user, assistant
	Transcript     string `gorm:"type:text"`
	TranslatedText string `gorm:"type:text"`
	CreatedAt      time.Time
}

// SessionMetrics 会话级聚合指标
type SessionMetrics struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex"`

	TotalTurns            int
	SuccessfulTurns       int
	FailedTurns           int
	InterruptedTurns      int
	GuardrailBlockedTurns int

	AvgASRLatencyMs         *float64
	AvgLLMLatencyMs         *float64
	AvgTranslationLatencyMs *float64
	AvgTTSLatencyMs         *float64
	AvgTotalLatencyMs       *float64

	LLMCacheHits   int
	LLMCacheMisses int
	TTSCacheHits   int
	TTSCacheMisses int
	CacheHitRate   *float64

	GuardrailViolations int

	TotalCostUSD decimal.Decimal `gorm:"type:decimal(10,6)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ViolationRecord 护栏违规留痕
type ViolationRecord struct {
	ID           string `gorm:"primaryKey"`
	SessionID    string `gorm:"index"`
	TurnID       string
	Layer        string `gorm:"size:20"`
	RuleType     string `gorm:"size:100"`
	Severity     string `gorm:"size:20"`
	Message      string `gorm:"type:text"`
	Blocked      bool
	SafeResponse string `gorm:"type:text"`
	CreatedAt    time.Time
}

// StageLatencies 一个轮次各阶段的耗时（毫秒），nil 表示阶段未运行
type StageLatencies struct {
	ASRMs         *float64
	LLMMs         *float64
	TranslationMs *float64
	TTSMs         *float64
	TotalMs       *float64
}

// =============================================================================
// 📦 Store
// =============================================================================

// Store GORM 持久化层
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开 SQLite 数据库并迁移表结构
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}, &SessionMetrics{}, &ViolationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// EnsureSession 确保会话存在，已存在时更新语言/级别
func (s *Store) EnsureSession(ctx context.Context, sessionID, languageCode, optimizationLevel string) error {
	session := Session{
		ID:                sessionID,
		LanguageCode:      languageCode,
		OptimizationLevel: optimizationLevel,
	}
	err := s.db.WithContext(ctx).
		Where(Session{ID: sessionID}).
		Assign(Session{LanguageCode: languageCode, OptimizationLevel: optimizationLevel}).
		FirstOrCreate(&session).Error
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// SaveMessage 保存一条会话消息
func (s *Store) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Messages 按时间顺序返回会话消息
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	var msgs []Message
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

// getOrCreateMetrics 读取或初始化会话指标行
func (s *Store) getOrCreateMetrics(ctx context.Context, sessionID string) (*SessionMetrics, error) {
	var m SessionMetrics
	err := s.db.WithContext(ctx).
		Where(SessionMetrics{SessionID: sessionID}).
		Attrs(SessionMetrics{ID: uuid.NewString(), TotalCostUSD: decimal.Zero}).
		FirstOrCreate(&m).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load session metrics: %w", err)
	}
	return &m, nil
}

// RecordTurn 记录一个已结束轮次：计数 + 增量平均延迟
func (s *Store) RecordTurn(ctx context.Context, sessionID string, outcome types.Outcome, latencies StageLatencies, costUSD decimal.Decimal) error {
	m, err := s.getOrCreateMetrics(ctx, sessionID)
	if err != nil {
		return err
	}

	m.TotalTurns++
	switch outcome {
	case types.OutcomeCompleted:
		m.SuccessfulTurns++
	case types.OutcomeGuardrailBlocked:
		m.GuardrailBlockedTurns++
	case types.OutcomeInterrupted:
		m.InterruptedTurns++
	case types.OutcomeFailed:
		m.FailedTurns++
	}

	n := m.TotalTurns
	m.AvgASRLatencyMs = updateAvg(m.AvgASRLatencyMs, latencies.ASRMs, n)
	m.AvgLLMLatencyMs = updateAvg(m.AvgLLMLatencyMs, latencies.LLMMs, n)
	m.AvgTranslationLatencyMs = updateAvg(m.AvgTranslationLatencyMs, latencies.TranslationMs, n)
	m.AvgTTSLatencyMs = updateAvg(m.AvgTTSLatencyMs, latencies.TTSMs, n)
	m.AvgTotalLatencyMs = updateAvg(m.AvgTotalLatencyMs, latencies.TotalMs, n)

	m.TotalCostUSD = m.TotalCostUSD.Add(costUSD)

	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save session metrics: %w", err)
	}
	return nil
}

// RecordCacheStats 记录一个轮次的缓存命中情况并重算命中率
func (s *Store) RecordCacheStats(ctx context.Context, sessionID string, llmHit, ttsHit bool) error {
	m, err := s.getOrCreateMetrics(ctx, sessionID)
	if err != nil {
		return err
	}

	if llmHit {
		m.LLMCacheHits++
	} else {
		m.LLMCacheMisses++
	}
	if ttsHit {
		m.TTSCacheHits++
	} else {
		m.TTSCacheMisses++
	}

	total := m.LLMCacheHits + m.LLMCacheMisses + m.TTSCacheHits + m.TTSCacheMisses
	if total > 0 {
		rate := float64(m.LLMCacheHits+m.TTSCacheHits) / float64(total)
		m.CacheHitRate = &rate
	}

	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save cache stats: %w", err)
	}
	return nil
}

// Metrics 读取会话指标，不存在时返回 nil
func (s *Store) Metrics(ctx context.Context, sessionID string) (*SessionMetrics, error) {
	var m SessionMetrics
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session metrics: %w", err)
	}
	return &m, nil
}

// updateAvg 增量平均：new_avg = (old_avg*(n-1) + value) / n
func updateAvg(current *float64, value *float64, count int) *float64 {
	if value == nil {
		return current
	}
	if current == nil || count <= 1 {
		v := *value
		return &v
	}
	v := (*current*float64(count-1) + *value) / float64(count)
	return &v
}

// =============================================================================
// 🛡️ 护栏违规落库
// =============================================================================

// RecordViolation 实现 guardrail.ViolationSink，把违规写入数据库并累加会话计数
func (s *Store) RecordViolation(ctx context.Context, v guardrail.Violation, context map[string]string) error {
	rec := ViolationRecord{
		ID:           uuid.NewString(),
		SessionID:    context["session_id"],
		TurnID:       context["turn_id"],
		Layer:        v.Layer,
		RuleType:     v.RuleType,
		Severity:     v.Severity,
		Message:      v.Message,
		Blocked:      v.Blocked,
		SafeResponse: context["safe_response"],
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record violation: %w", err)
	}

	if rec.SessionID != "" {
		m, err := s.getOrCreateMetrics(ctx, rec.SessionID)
		if err != nil {
			return err
		}
		m.GuardrailViolations++
		if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
			return fmt.Errorf("failed to update violation count: %w", err)
		}
	}
	return nil
}

// Violations 返回会话的违规记录
func (s *Store) Violations(ctx context.Context, sessionID string) ([]ViolationRecord, error) {
	var recs []ViolationRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}
	return recs, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
