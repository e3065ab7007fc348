// =============================================================================
// 🔁 对话流水线编排器
// =============================================================================
// 一个轮次的完整生命周期：登记 → ASR → 知识召回 → 护栏 L1 →
// LLM（带精确/语义缓存与护栏 L2/L3） → 翻译 → 合成 → 持久化 → 注销。
//
// 打断语义：每个阶段边界轮询打断标志；检测到打断立即丢弃部分结果，
// 轮次以 interrupted 结束，不向用户播放任何音频。
// =============================================================================
package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/cache"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/cost"
	"github.com/BaSui01/voiceflow/guardrail"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/internal/retry"
	"github.com/BaSui01/voiceflow/internal/store"
	"github.com/BaSui01/voiceflow/llm"
	"github.com/BaSui01/voiceflow/rag"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/translation"
	"github.com/BaSui01/voiceflow/tts"
	"github.com/BaSui01/voiceflow/turn"
	"github.com/BaSui01/voiceflow/types"
)

// semanticThreshold 语义缓存命中的最低词集合相似度
const semanticThreshold = 0.7

// defaultSystemPrompt 未指定系统提示词时的默认值
const defaultSystemPrompt = "You are a helpful AI assistant."

// Store 流水线所需的持久化协作方
type Store interface {
	EnsureSession(ctx context.Context, sessionID, languageCode, optimizationLevel string) error
	SaveMessage(ctx context.Context, msg *store.Message) error
	RecordTurn(ctx context.Context, sessionID string, outcome types.Outcome, latencies store.StageLatencies, costUSD decimal.Decimal) error
	RecordCacheStats(ctx context.Context, sessionID string, llmHit, ttsHit bool) error
}

// ProcessRequest 一次语音轮次请求
type ProcessRequest struct {
	SessionID         string `json:"session_id"`
	TurnID            string `json:"turn_id,omitempty"` // 空则自动生成
	AudioB64          string `json:"audio_b64,omitempty"`
	AudioURL          string `json:"audio_url,omitempty"`
	TargetLanguage    string `json:"target_language"`
	OptimizationLevel string `json:"optimization_level,omitempty"`
	SystemPrompt      string `json:"system_prompt,omitempty"`
	VoiceProvider     string `json:"voice_provider,omitempty"`
	VoiceID           string `json:"voice_id,omitempty"`
}

// TurnResult 一次轮次的最终产物
type TurnResult struct {
	SessionID          string                 `json:"session_id"`
	TurnID             string                 `json:"turn_id"`
	OptimizationLevel  string                 `json:"optimization_level"`
	Outcome            types.Outcome          `json:"outcome"`
	Transcript         *types.Transcript      `json:"transcript,omitempty"`
	ResponseText       string                 `json:"response_text,omitempty"`
	TranslatedText     string                 `json:"translated_text,omitempty"`
	Audio              *tts.SynthesisResponse `json:"audio,omitempty"`
	LLMCached          bool                   `json:"llm_cached"`
	TTSCached          bool                   `json:"tts_cached"`
	GuardrailTriggered bool                   `json:"guardrail_triggered"`
	StageLatencies     []types.StageLatency   `json:"stage_latencies,omitempty"`
	TotalLatency       time.Duration          `json:"-"`
	CostUSD            decimal.Decimal        `json:"cost_usd"`
}

// Orchestrator 串联各阶段服务完成一个对话轮次
type Orchestrator struct {
	stt        speech.STTClient
	chat       llm.ChatClient
	translator translation.Translator
	synth      *tts.Orchestrator
	retriever  rag.Retriever
	guard      *guardrail.Engine
	textCache  *cache.TextCache
	ledger     *cost.Ledger
	turns      *turn.Manager
	store      Store
	metrics    *metrics.Collector
	cacheCfg   config.CacheConfig
	retryPol   retry.Policy
	defaultLvl string
	logger     *zap.Logger
}

// Deps 编排器依赖集合
type Deps struct {
	STT                      speech.STTClient
	Chat                     llm.ChatClient
	Translator               translation.Translator
	Synthesis                *tts.Orchestrator
	Retriever                rag.Retriever      // 为空时跳过知识召回
	Guardrails               *guardrail.Engine  // 为空时创建默认引擎
	TextCache                *cache.TextCache   // 为空时不走回复缓存
	Ledger                   *cost.Ledger       // 为空时不记账
	Turns                    *turn.Manager      // 为空时创建新管理器
	Store                    Store              // 为空时跳过持久化
	Metrics                  *metrics.Collector // 为空时不记指标
	CacheCfg                 config.CacheConfig
	RetryPol                 *retry.Policy // 为空时用默认策略
	DefaultOptimizationLevel string
	Logger                   *zap.Logger
}

// NewOrchestrator 创建流水线编排器
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	turns := deps.Turns
	if turns == nil {
		turns = turn.NewManager(logger)
	}
	guard := deps.Guardrails
	if guard == nil {
		guard = guardrail.NewEngine(logger)
	}
	pol := retry.DefaultPolicy()
	if deps.RetryPol != nil {
		pol = *deps.RetryPol
	}
	lvl := deps.DefaultOptimizationLevel
	if lvl == "" {
		lvl = config.LevelBalanced
	}
	return &Orchestrator{
		stt:        deps.STT,
		chat:       deps.Chat,
		translator: deps.Translator,
		synth:      deps.Synthesis,
		retriever:  deps.Retriever,
		guard:      guard,
		textCache:  deps.TextCache,
		ledger:     deps.Ledger,
		turns:      turns,
		store:      deps.Store,
		metrics:    deps.Metrics,
		cacheCfg:   deps.CacheCfg,
		retryPol:   pol,
		defaultLvl: lvl,
		logger:     logger.With(zap.String("component", "pipeline")),
	}
}

// Turns 返回底层轮次管理器，供传输层注册打断入口
func (o *Orchestrator) Turns() *turn.Manager { return o.turns }

// ProcessAudio 处理一段用户语音并返回合成的回复音频.
//
// 阶段失败耗尽重试时轮次以 failed 结束并返回错误；
// 被打断的轮次返回 interrupted 结果且 err 为 nil。
func (o *Orchestrator) ProcessAudio(ctx context.Context, req *ProcessRequest) (*TurnResult, error) {
	level := req.OptimizationLevel
	if level == "" {
		level = o.defaultLvl
	}
	profile := config.ProfileFor(level)

	turnID, err := o.turns.StartTurn(req.SessionID, req.TurnID)
	if err != nil {
		return nil, err
	}
	defer o.turns.FinishTurn(req.SessionID, turnID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.turns.RegisterCancel(req.SessionID, turnID, turn.CancelFunc(cancel))

	started := time.Now()
	result := &TurnResult{
		SessionID:         req.SessionID,
		TurnID:            turnID,
		OptimizationLevel: level,
		Outcome:           types.OutcomeCompleted,
		CostUSD:           decimal.Zero,
	}

	if o.store != nil {
		if err := o.store.EnsureSession(ctx, req.SessionID, req.TargetLanguage, level); err != nil {
			o.logger.Warn("failed to persist session, continuing", zap.Error(err))
		}
	}

	lat := store.StageLatencies{}

	// ---- ASR ----
	transcript, asrDur, err := o.runASR(ctx, req, turnID)
	if err != nil {
		return o.finishStage(ctx, req, result, started, lat, err)
	}
	result.Transcript = transcript
	o.recordStage(result, &lat, types.StageASR, asrDur, started)

	if o.interrupted(req.SessionID, turnID) {
		return o.finishInterrupted(ctx, req, result, started, lat), nil
	}

	// ---- 知识召回 ----
	knowledge := ""
	if profile.RAGTopK > 0 && o.retriever != nil {
		chunks, rerr := o.retriever.Retrieve(ctx, transcript.Text, profile.RAGTopK)
		if rerr != nil {
			// 召回失败只降级，不让轮次失败
			o.logger.Warn("knowledge retrieval failed, continuing without context", zap.Error(rerr))
		} else {
			knowledge = rag.JoinContext(chunks)
		}
	}

	// ---- 护栏 L1：输入检查 ----
	responseText := ""
	llmCached := false
	if inputCheck := o.guard.CheckInput(transcript.Text); !inputCheck.Passed {
		o.reportViolations(ctx, req.SessionID, turnID, inputCheck)
		responseText = inputCheck.SafeResponse
		result.GuardrailTriggered = true
		result.Outcome = types.OutcomeGuardrailBlocked
	} else {
		responseText, llmCached, err = o.runLLM(ctx, req, transcript.Text, knowledge, level, profile, result, &lat, started)
		if err != nil {
			return o.finishStage(ctx, req, result, started, lat, err)
		}
	}
	result.ResponseText = responseText
	result.LLMCached = llmCached

	if o.interrupted(req.SessionID, turnID) {
		return o.finishInterrupted(ctx, req, result, started, lat), nil
	}

	// ---- 翻译 ----
	translated, trDur, err := o.runTranslation(ctx, req, turnID, responseText)
	if err != nil {
		return o.finishStage(ctx, req, result, started, lat, err)
	}
	result.TranslatedText = translated
	if trDur > 0 {
		o.recordStage(result, &lat, types.StageTranslation, trDur, started)
	}

	if o.interrupted(req.SessionID, turnID) {
		return o.finishInterrupted(ctx, req, result, started, lat), nil
	}

	// ---- 合成 ----
	ttsStart := time.Now()
	audio, err := o.synth.Synthesize(ctx, &tts.SynthesisRequest{
		Text:              translated,
		LanguageCode:      req.TargetLanguage,
		Provider:          req.VoiceProvider,
		VoiceID:           req.VoiceID,
		OptimizationLevel: level,
		SessionID:         req.SessionID,
		TurnID:            turnID,
	})
	if err != nil {
		return o.finishStage(ctx, req, result, started, lat, err)
	}
	result.Audio = audio
	result.TTSCached = audio.Metadata.Cached
	o.recordStage(result, &lat, types.StageTTS, time.Since(ttsStart), started)

	if o.interrupted(req.SessionID, turnID) {
		// 音频已生成但用户已打断：不播放
		result.Audio = nil
		return o.finishInterrupted(ctx, req, result, started, lat), nil
	}

	o.persistTurn(ctx, req, result, lat, started)
	result.TotalLatency = time.Since(started)
	o.metrics.RecordTurn(string(result.Outcome), level, result.TotalLatency)

	o.logger.Info("turn completed",
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", turnID),
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("llm_cached", result.LLMCached),
		zap.Bool("tts_cached", result.TTSCached),
		zap.Duration("total_latency", result.TotalLatency))

	return result, nil
}

// runASR 执行语音识别并记录成本
func (o *Orchestrator) runASR(ctx context.Context, req *ProcessRequest, turnID string) (*types.Transcript, time.Duration, error) {
	start := time.Now()
	transcript, err := retry.Do(ctx, o.retryPol, o.logger, func() (*types.Transcript, error) {
		return o.stt.Transcribe(ctx, &speech.TranscribeRequest{
			AudioB64: req.AudioB64,
			AudioURL: req.AudioURL,
		})
	})
	if err != nil {
		return nil, 0, err
	}

	if o.ledger != nil {
		if audioDur := transcriptDuration(transcript); audioDur > 0 {
			entry := o.ledger.TrackASR(ctx, "sarvam", audioDur, req.SessionID, turnID, nil)
			if entry != nil {
				o.metrics.RecordCost(cost.ServiceASR, "sarvam", entry.CostUSD.InexactFloat64())
			}
		}
	}
	return transcript, time.Since(start), nil
}

// runLLM 带两级缓存与护栏 L2/L3 的回复生成
func (o *Orchestrator) runLLM(
	ctx context.Context,
	req *ProcessRequest,
	userText, knowledge, level string,
	profile config.OptimizationProfile,
	result *TurnResult,
	lat *store.StageLatencies,
	turnStart time.Time,
) (string, bool, error) {
	start := time.Now()

	if o.textCache != nil {
		if entry, ok := o.textCache.GetExact(ctx, userText, level); ok {
			o.metrics.RecordCacheHit("llm_exact")
			o.recordStage(result, lat, types.StageLLM, time.Since(start), turnStart)
			return entry.ResponseText, true, nil
		}
		o.metrics.RecordCacheMiss("llm_exact")

		if profile.SemanticCacheEnabled {
			if entry, ok := o.textCache.GetSemantic(ctx, userText, level, semanticThreshold); ok {
				o.metrics.RecordCacheHit("llm_semantic")
				o.recordStage(result, lat, types.StageLLM, time.Since(start), turnStart)
				return entry.ResponseText, true, nil
			}
			o.metrics.RecordCacheMiss("llm_semantic")
		}
	}

	// 护栏 L2：系统提示词注入
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	systemPrompt += "\n" + o.guard.PromptInstructions()
	if knowledge != "" {
		systemPrompt += "\nKNOWLEDGE:\n" + knowledge
	}

	resp, err := retry.Do(ctx, o.retryPol, o.logger, func() (*llm.GenerateResponse, error) {
		return o.chat.Generate(ctx, &llm.GenerateRequest{
			SystemPrompt: systemPrompt,
			UserText:     userText,
			Temperature:  profile.LLMTemperature,
			MaxTokens:    profile.ResponseMaxTokens,
		})
	})
	if err != nil {
		return "", false, err
	}

	if o.ledger != nil {
		entry := o.ledger.TrackLLM(ctx, "sarvam", int(resp.InputTokens), int(resp.OutputTokens), req.SessionID, result.TurnID, map[string]string{"model": resp.Model})
		if entry != nil {
			o.metrics.RecordCost(cost.ServiceLLM, "sarvam", entry.CostUSD.InexactFloat64())
		}
	}

	// 护栏 L3：输出检查
	responseText := resp.Text
	if outputCheck := o.guard.CheckOutput(responseText); !outputCheck.Passed {
		o.reportViolations(ctx, req.SessionID, result.TurnID, outputCheck)
		result.GuardrailTriggered = true
		result.Outcome = types.OutcomeGuardrailBlocked
		o.recordStage(result, lat, types.StageLLM, time.Since(start), turnStart)
		// 不安全的回复绝不进缓存
		return outputCheck.SafeResponse, false, nil
	}

	if o.textCache != nil {
		o.textCache.Set(ctx, userText, &cache.TextEntry{
			ResponseText:      responseText,
			GuardrailSafe:     true,
			TokenCount:        int(resp.OutputTokens),
			OptimizationLevel: level,
		}, o.cacheCfg.TTLForLevel(level))
	}

	o.recordStage(result, lat, types.StageLLM, time.Since(start), turnStart)
	return responseText, false, nil
}

// runTranslation 生成目标语言文本，源语言与目标语言一致时为恒等
func (o *Orchestrator) runTranslation(ctx context.Context, req *ProcessRequest, turnID, text string) (string, time.Duration, error) {
	// 模型输出按英文处理，再落到用户的目标语言
	const sourceLang = "en-IN"
	if o.translator == nil || req.TargetLanguage == sourceLang || req.TargetLanguage == "" {
		return text, 0, nil
	}

	start := time.Now()
	translated, err := retry.Do(ctx, o.retryPol, o.logger, func() (string, error) {
		return o.translator.Translate(ctx, text, sourceLang, req.TargetLanguage)
	})
	if err != nil {
		return "", 0, err
	}

	if o.ledger != nil && translated != text {
		entry := o.ledger.TrackTranslation(ctx, "sarvam", len(text), req.SessionID, turnID, nil)
		if entry != nil {
			o.metrics.RecordCost(cost.ServiceTranslation, "sarvam", entry.CostUSD.InexactFloat64())
		}
	}
	return translated, time.Since(start), nil
}

// InterruptTurn 打断一个在途轮次（用户抢话或手动取消）
func (o *Orchestrator) InterruptTurn(sessionID, turnID string, reason turn.Reason) {
	o.turns.Interrupt(sessionID, turnID, reason, "")
}

// InterruptSession 打断会话的全部在途轮次
func (o *Orchestrator) InterruptSession(sessionID string, reason turn.Reason) {
	o.turns.InterruptAll(sessionID, reason)
}

// SessionCost 返回会话成本汇总
func (o *Orchestrator) SessionCost(ctx context.Context, sessionID string) *cost.Summary {
	if o.ledger == nil {
		return &cost.Summary{
			TotalCostUSD: decimal.Zero,
			ByService:    map[string]decimal.Decimal{},
			ByProvider:   map[string]decimal.Decimal{},
		}
	}
	return o.ledger.SessionSummary(ctx, sessionID)
}

// =============================================================================
// 内部辅助
// =============================================================================

func (o *Orchestrator) interrupted(sessionID, turnID string) bool {
	return o.turns.IsInterrupted(sessionID, turnID)
}

func (o *Orchestrator) recordStage(result *TurnResult, lat *store.StageLatencies, stage types.Stage, d time.Duration, turnStart time.Time) {
	result.StageLatencies = append(result.StageLatencies, types.StageLatency{
		Stage:     stage,
		Duration:  d,
		StartedAt: turnStart,
	})
	ms := float64(d.Milliseconds())
	switch stage {
	case types.StageASR:
		lat.ASRMs = &ms
	case types.StageLLM:
		lat.LLMMs = &ms
	case types.StageTranslation:
		lat.TranslationMs = &ms
	case types.StageTTS:
		lat.TTSMs = &ms
	}
	o.metrics.RecordStage(string(stage), d)
}

func (o *Orchestrator) reportViolations(ctx context.Context, sessionID, turnID string, res guardrail.Result) {
	for _, v := range res.Violations {
		o.metrics.RecordGuardrailViolation(v.Layer, v.RuleType)
	}
	o.guard.Report(ctx, res.Violations, map[string]string{
		"session_id":    sessionID,
		"turn_id":       turnID,
		"safe_response": res.SafeResponse,
	})
}

// finishStage 收尾一个出错的阶段.
// 供应商调用被打断取消时会以错误形式冒出来；此时轮次按打断收尾，
// 不把用户抢话错记成失败。其余错误按 failed 收尾。
func (o *Orchestrator) finishStage(ctx context.Context, req *ProcessRequest, result *TurnResult, started time.Time, lat store.StageLatencies, err error) (*TurnResult, error) {
	if types.IsCode(err, types.ErrInterrupted) || o.interrupted(req.SessionID, result.TurnID) {
		return o.finishInterrupted(ctx, req, result, started, lat), nil
	}
	return o.finishFailed(ctx, req, result, started, lat, err)
}

// finishInterrupted 以 interrupted 收尾：丢弃部分结果，只留转写用于排障
func (o *Orchestrator) finishInterrupted(ctx context.Context, req *ProcessRequest, result *TurnResult, started time.Time, lat store.StageLatencies) *TurnResult {
	result.Outcome = types.OutcomeInterrupted
	result.ResponseText = ""
	result.TranslatedText = ""
	result.Audio = nil
	result.TotalLatency = time.Since(started)

	o.persistTurn(ctx, req, result, lat, started)
	o.metrics.RecordTurn(string(types.OutcomeInterrupted), result.OptimizationLevel, result.TotalLatency)
	o.logger.Info("turn interrupted",
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", result.TurnID))
	return result
}

// finishFailed 以 failed 收尾并返回原始错误
func (o *Orchestrator) finishFailed(ctx context.Context, req *ProcessRequest, result *TurnResult, started time.Time, lat store.StageLatencies, err error) (*TurnResult, error) {
	result.Outcome = types.OutcomeFailed
	result.TotalLatency = time.Since(started)

	o.persistTurn(ctx, req, result, lat, started)
	o.metrics.RecordTurn(string(types.OutcomeFailed), result.OptimizationLevel, result.TotalLatency)
	o.logger.Error("turn failed",
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", result.TurnID),
		zap.Error(err))
	return result, err
}

// persistTurn 把轮次落库；持久化失败只告警，不影响已产出的结果
func (o *Orchestrator) persistTurn(ctx context.Context, req *ProcessRequest, result *TurnResult, lat store.StageLatencies, started time.Time) {
	// 打断会取消轮次上下文，但落库仍须完成
	ctx = context.WithoutCancel(ctx)
	if o.ledger != nil {
		result.CostUSD = o.ledger.TurnCost(ctx, req.SessionID, result.TurnID)
	}
	if o.store == nil {
		return
	}

	if result.Transcript != nil {
		if err := o.store.SaveMessage(ctx, &store.Message{
			SessionID:  req.SessionID,
			TurnID:     result.TurnID,
			Role:       "user",
			Transcript: result.Transcript.Text,
		}); err != nil {
			o.logger.Warn("failed to persist user message", zap.Error(err))
		}
	}
	if result.ResponseText != "" {
		if err := o.store.SaveMessage(ctx, &store.Message{
			SessionID:      req.SessionID,
			TurnID:         result.TurnID,
			Role:           "assistant",
			Transcript:     result.ResponseText,
			TranslatedText: result.TranslatedText,
		}); err != nil {
			o.logger.Warn("failed to persist assistant message", zap.Error(err))
		}
	}

	if result.Outcome == types.OutcomeCompleted || result.Outcome == types.OutcomeGuardrailBlocked {
		if err := o.store.RecordCacheStats(ctx, req.SessionID, result.LLMCached, result.TTSCached); err != nil {
			o.logger.Warn("failed to persist cache stats", zap.Error(err))
		}
	}

	totalMs := float64(time.Since(started).Milliseconds())
	lat.TotalMs = &totalMs
	if err := o.store.RecordTurn(ctx, req.SessionID, result.Outcome, lat, result.CostUSD); err != nil {
		o.logger.Warn("failed to persist turn metrics", zap.Error(err))
	}
}

// transcriptDuration 依据最后一个分段的结束时间估算音频时长
func transcriptDuration(t *types.Transcript) time.Duration {
	if t == nil || len(t.Segments) == 0 {
		return 0
	}
	last := t.Segments[len(t.Segments)-1]
	return time.Duration(last.EndMs) * time.Millisecond
}
