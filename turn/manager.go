package turn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

// Reason 中断原因
type Reason string

const (
	ReasonUserBargeIn Reason = "user_barge_in" // 用户开始说话
	ReasonTimeout     Reason = "timeout"       // 超过时间限制
	ReasonError       Reason = "error"         // 处理出错
	ReasonManual      Reason = "manual"        // 手动取消
	ReasonReplaced    Reason = "replaced"      // 被更新的请求取代
)

// Event 描述一次轮次中断
type Event struct {
	SessionID string            `json:"session_id"`
	TurnID    string            `json:"turn_id"`
	Reason    Reason            `json:"reason"`
	Timestamp time.Time         `json:"timestamp"`
	Stage     types.Stage       `json:"stage,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CleanupFunc 中断时执行的资源清理动作
type CleanupFunc func() error

// CancelFunc 中断时调用的在途操作取消句柄
type CancelFunc func()

// state 单个轮次的内部状态
// interrupted 使用原子标志，各阶段轮询时无需持有表锁
type state struct {
	interrupted atomic.Bool
	event       *Event
	cancels     []CancelFunc
	cleanups    []CleanupFunc
}

// Manager 管理所有会话的活动轮次
//
// 活动轮次表是核心里唯一被多个并发调用点修改的状态，
// 全部变更串行在一把互斥锁之后；IsInterrupted 走原子快路径。
type Manager struct {
	mu     sync.Mutex
	active map[string]map[string]*state // session_id → turn_id → state
	logger *zap.Logger
}

// NewManager 创建轮次管理器
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		active: make(map[string]map[string]*state),
		logger: logger.With(zap.String("component", "turn_manager")),
	}
}

// StartTurn 登记一个新的活动轮次并返回轮次 ID
// turnID 为空时自动生成；同一 (session, turn) 已活动时返回 DuplicateTurn
func (m *Manager) StartTurn(sessionID, turnID string) (string, error) {
	if turnID == "" {
		turnID = fmt.Sprintf("%s_%d_%s", sessionID, time.Now().UnixMilli(), uuid.NewString()[:8])
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	turns, ok := m.active[sessionID]
	if !ok {
		turns = make(map[string]*state)
		m.active[sessionID] = turns
	}
	if _, exists := turns[turnID]; exists {
		return "", types.NewError(types.ErrDuplicateTurn,
			fmt.Sprintf("turn %s already active for session %s", turnID, sessionID))
	}
	turns[turnID] = &state{}

	m.logger.Debug("turn started",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID))
	return turnID, nil
}

// IsInterrupted 非阻塞查询轮次是否已被中断
// 未知轮次返回 false。允许微秒级的陈旧读，阶段只需最终观察到中断。
func (m *Manager) IsInterrupted(sessionID, turnID string) bool {
	st := m.get(sessionID, turnID)
	if st == nil {
		return false
	}
	return st.interrupted.Load()
}

// InterruptEvent 返回轮次的中断事件详情，未中断返回 nil
func (m *Manager) InterruptEvent(sessionID, turnID string) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turns, ok := m.active[sessionID]; ok {
		if st, ok := turns[turnID]; ok {
			return st.event
		}
	}
	return nil
}

// Interrupt 中断活动轮次，幂等：
// 已中断或未知的轮次静默忽略。首次中断时记录事件、
// 取消所有已登记的在途操作句柄，并按登记顺序同步执行清理动作，
// 单个清理失败只记日志，不阻断其余清理。
func (m *Manager) Interrupt(sessionID, turnID string, reason Reason, stage types.Stage) {
	m.mu.Lock()

	st := m.getLocked(sessionID, turnID)
	if st == nil {
		m.mu.Unlock()
		m.logger.Warn("interrupt for unknown turn ignored",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID))
		return
	}
	if st.interrupted.Load() {
		m.mu.Unlock()
		m.logger.Debug("turn already interrupted",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID))
		return
	}

	st.event = &Event{
		SessionID: sessionID,
		TurnID:    turnID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
		Stage:     stage,
	}
	st.interrupted.Store(true)

	// 快照后立即放锁：取消与清理可能耗时，不能在持锁状态下执行
	cancels := st.cancels
	cleanups := st.cleanups
	m.mu.Unlock()

	m.logger.Info("turn interrupted",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("reason", string(reason)),
		zap.String("stage", string(stage)))

	for _, cancel := range cancels {
		cancel()
	}
	for _, cleanup := range cleanups {
		m.runCleanup(sessionID, turnID, cleanup)
	}
}

// runCleanup 隔离执行单个清理动作，失败或 panic 只记日志
func (m *Manager) runCleanup(sessionID, turnID string, cleanup CleanupFunc) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("cleanup callback panicked",
				zap.String("session_id", sessionID),
				zap.String("turn_id", turnID),
				zap.Any("panic", r))
		}
	}()
	if err := cleanup(); err != nil {
		m.logger.Error("cleanup callback failed",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID),
			zap.Error(err))
	}
}

// RegisterCleanup 为轮次登记清理动作，可多次调用累加
func (m *Manager) RegisterCleanup(sessionID, turnID string, cleanup CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.getLocked(sessionID, turnID); st != nil {
		st.cleanups = append(st.cleanups, cleanup)
	}
}

// RegisterCancel 为轮次登记在途操作的取消句柄，可多次调用累加
func (m *Manager) RegisterCancel(sessionID, turnID string, cancel CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.getLocked(sessionID, turnID); st != nil {
		st.cancels = append(st.cancels, cancel)
	}
}

// FinishTurn 无条件将轮次移出活动表
// 必须从 defer 路径调用，保证成功/失败/中断任何结局下轮次都不泄漏
func (m *Manager) FinishTurn(sessionID, turnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns, ok := m.active[sessionID]
	if !ok {
		return
	}
	if _, ok := turns[turnID]; ok {
		delete(turns, turnID)
		m.logger.Debug("turn finished",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID))
	}
	if len(turns) == 0 {
		delete(m.active, sessionID)
	}
}

// InterruptAll 中断一个会话的所有活动轮次
func (m *Manager) InterruptAll(sessionID string, reason Reason) {
	for _, turnID := range m.ActiveTurns(sessionID) {
		m.Interrupt(sessionID, turnID, reason, "")
	}
}

// ActiveTurns 返回会话当前活动轮次 ID 列表
func (m *Manager) ActiveTurns(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns, ok := m.active[sessionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(turns))
	for id := range turns {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) get(sessionID, turnID string) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(sessionID, turnID)
}

func (m *Manager) getLocked(sessionID, turnID string) *state {
	if turns, ok := m.active[sessionID]; ok {
		return turns[turnID]
	}
	return nil
}
