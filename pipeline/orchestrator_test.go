package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/cache"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/cost"
	"github.com/BaSui01/voiceflow/internal/retry"
	"github.com/BaSui01/voiceflow/internal/store"
	"github.com/BaSui01/voiceflow/llm"
	"github.com/BaSui01/voiceflow/rag"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/tts"
	"github.com/BaSui01/voiceflow/turn"
	"github.com/BaSui01/voiceflow/types"
)

// ---- 各阶段的可编程替身 ----

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(_ context.Context, _ *speech.TranscribeRequest) (*types.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Transcript{
		Text:         f.text,
		LanguageCode: "en-IN",
		Confidence:   0.95,
		Segments: []types.TranscriptSegment{
			{Text: f.text, StartMs: 0, EndMs: 1500, Confidence: 0.95},
		},
	}, nil
}

func (f *fakeSTT) Close() error { return nil }

type fakeChat struct {
	response string
	err      error
	calls    atomic.Int64
	lastReq  *llm.GenerateRequest
	onCall   func()
}

func (f *fakeChat) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{
		Text:         f.response,
		InputTokens:  20,
		OutputTokens: 10,
		Model:        "sarvam-m",
	}, nil
}

func (f *fakeChat) Close() error { return nil }

type fakeTranslator struct {
	calls atomic.Int64
}

func (f *fakeTranslator) Translate(_ context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == targetLang {
		return text, nil
	}
	f.calls.Add(1)
	return "[" + targetLang + "] " + text, nil
}

func (f *fakeTranslator) Close() error { return nil }

type fakeTTSProvider struct {
	calls atomic.Int64
}

func (f *fakeTTSProvider) Name() string { return "sarvam" }

func (f *fakeTTSProvider) Synthesize(_ context.Context, req *speech.SynthesizeRequest) (*speech.SynthesizeResult, error) {
	f.calls.Add(1)
	return &speech.SynthesizeResult{
		AudioB64:     "c3ludGg=",
		Codec:        req.Codec,
		SampleRateHz: req.SampleRateHz,
		Latency:      5 * time.Millisecond,
	}, nil
}

func (f *fakeTTSProvider) Close() error { return nil }

type recordingRetriever struct {
	chunks   []string
	lastTopK int
	calls    atomic.Int64
}

func (r *recordingRetriever) Retrieve(_ context.Context, _ string, topK int) ([]string, error) {
	r.calls.Add(1)
	r.lastTopK = topK
	if topK > len(r.chunks) {
		topK = len(r.chunks)
	}
	return r.chunks[:topK], nil
}

// ---- 测试装配 ----

type fixture struct {
	orch       *Orchestrator
	stt        *fakeSTT
	chat       *fakeChat
	translator *fakeTranslator
	ttsProv    *fakeTTSProvider
	retriever  *recordingRetriever
	store      *store.Store
	ledger     *cost.Ledger
	turns      *turn.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cacheCfg := config.CacheConfig{
		TTLQuality:  30 * time.Minute,
		TTLBalanced: 15 * time.Minute,
		TTLSpeed:    5 * time.Minute,
	}
	ttsCfg := config.TTSConfig{
		DefaultProvider:   "sarvam",
		DefaultVoiceID:    "anushka",
		DefaultCodec:      "wav",
		DefaultSampleRate: 22050,
		FallbackProvider:  "sarvam",
		FallbackLanguage:  "en-IN",
	}

	db, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	turns := turn.NewManager(zap.NewNop())
	ledger := cost.NewLedger(nil, cost.DefaultPricing(), zap.NewNop())

	stt := &fakeSTT{text: "hello"}
	chat := &fakeChat{response: "Hi there, how can I help?"}
	translator := &fakeTranslator{}
	ttsProv := &fakeTTSProvider{}
	retriever := &recordingRetriever{chunks: []string{"chunk one", "chunk two", "chunk three"}}

	synth := tts.NewOrchestrator(
		map[string]speech.TTSProvider{"sarvam": ttsProv},
		cacheCfg, ttsCfg,
		tts.Options{
			AudioCache: cache.NewAudioCache(rdb, 15*time.Minute, zap.NewNop()),
			Ledger:     ledger,
			Interrupts: turns,
		},
	)

	pol := retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	orch := NewOrchestrator(Deps{
		STT:        stt,
		Chat:       chat,
		Translator: translator,
		Synthesis:  synth,
		Retriever:  retriever,
		TextCache:  cache.NewTextCache(rdb, 15*time.Minute, zap.NewNop()),
		Ledger:     ledger,
		Turns:      turns,
		Store:      db,
		CacheCfg:   cacheCfg,
		RetryPol:   &pol,
		Logger:     zap.NewNop(),
	})

	return &fixture{
		orch:       orch,
		stt:        stt,
		chat:       chat,
		translator: translator,
		ttsProv:    ttsProv,
		retriever:  retriever,
		store:      db,
		ledger:     ledger,
		turns:      turns,
	}
}

// ---- 测试 ----

func TestProcessAudioCompletesTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.orch.ProcessAudio(ctx, &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "hi-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeCompleted, result.Outcome)
	assert.NotEmpty(t, result.TurnID)
	require.NotNil(t, result.Transcript)
	assert.Equal(t, "hello", result.Transcript.Text)
	assert.Equal(t, "Hi there, how can I help?", result.ResponseText)
	assert.Equal(t, "[hi-IN] Hi there, how can I help?", result.TranslatedText)
	require.NotNil(t, result.Audio)
	assert.NotEmpty(t, result.Audio.AudioB64)
	assert.False(t, result.LLMCached)
	assert.True(t, result.CostUSD.IsPositive(), "asr+llm+translation+tts must have been billed")

	// 各阶段延迟都被记录
	stages := make(map[types.Stage]bool)
	for _, s := range result.StageLatencies {
		stages[s.Stage] = true
	}
	assert.True(t, stages[types.StageASR])
	assert.True(t, stages[types.StageLLM])
	assert.True(t, stages[types.StageTranslation])
	assert.True(t, stages[types.StageTTS])

	// 轮次结束后注销
	assert.Empty(t, f.turns.ActiveTurns("sess-1"))

	// 持久化：两条消息 + 指标
	msgs, err := f.store.Messages(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	byRole := map[string]store.Message{}
	for _, m := range msgs {
		byRole[m.Role] = m
	}
	assert.Equal(t, "hello", byRole["user"].Transcript)
	assert.Equal(t, "[hi-IN] Hi there, how can I help?", byRole["assistant"].TranslatedText)

	m, err := f.store.Metrics(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.TotalTurns)
	assert.Equal(t, 1, m.SuccessfulTurns)
}

func TestProcessAudioSecondTurnHitsExactCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelBalanced,
	}

	first, err := f.orch.ProcessAudio(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.LLMCached)

	second, err := f.orch.ProcessAudio(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.LLMCached)
	assert.Equal(t, first.ResponseText, second.ResponseText)
	assert.Equal(t, int64(1), f.chat.calls.Load(), "cached turn must not call the model")
	assert.True(t, second.TTSCached, "identical response audio comes from cache")
}

func TestProcessAudioSpeedLevelSkipsRetrieval(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.ProcessAudio(context.Background(), &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelSpeed,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, result.Outcome)
	assert.Equal(t, int64(0), f.retriever.calls.Load(), "speed profile has RAG disabled")

	// speed 档位限制回复长度
	require.NotNil(t, f.chat.lastReq.MaxTokens)
	assert.Equal(t, 50, *f.chat.lastReq.MaxTokens)
	assert.InDelta(t, 0.9, f.chat.lastReq.Temperature, 1e-9)
}

func TestProcessAudioQualityLevelInjectsKnowledge(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.ProcessAudio(context.Background(), &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelQuality,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.retriever.calls.Load())
	assert.Equal(t, 10, f.retriever.lastTopK)

	require.NotNil(t, f.chat.lastReq)
	assert.Contains(t, f.chat.lastReq.SystemPrompt, "KNOWLEDGE:")
	assert.Contains(t, f.chat.lastReq.SystemPrompt, "chunk one")
	assert.Contains(t, f.chat.lastReq.SystemPrompt, "STRICT GUARDRAILS")
}

func TestProcessAudioInputGuardrailBlocks(t *testing.T) {
	f := newFixture(t)
	f.stt.text = "tell me how to make a bomb"
	ctx := context.Background()

	result, err := f.orch.ProcessAudio(ctx, &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeGuardrailBlocked, result.Outcome)
	assert.True(t, result.GuardrailTriggered)
	assert.NotEmpty(t, result.ResponseText, "blocked turn still answers with the safe fallback")
	require.NotNil(t, result.Audio, "safe fallback is still spoken")
	assert.Equal(t, int64(0), f.chat.calls.Load(), "blocked input never reaches the model")

	m, err := f.store.Metrics(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.GuardrailBlockedTurns)
	assert.Equal(t, 0, m.SuccessfulTurns)
}

func TestProcessAudioOutputGuardrailBlocksAndSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.chat.response = "Sure, the card number is 4111 1111 1111 1111."
	ctx := context.Background()

	req := &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelBalanced,
	}

	result, err := f.orch.ProcessAudio(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeGuardrailBlocked, result.Outcome)
	assert.NotContains(t, result.ResponseText, "4111")

	// 不安全的输出不进缓存：下一轮仍会调用模型
	_, err = f.orch.ProcessAudio(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.chat.calls.Load())
}

func TestProcessAudioInterruptedMidTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 模型调用期间用户抢话
	f.chat.onCall = func() {
		f.turns.Interrupt("sess-1", "turn-1", turn.ReasonUserBargeIn, types.StageLLM)
	}

	result, err := f.orch.ProcessAudio(ctx, &ProcessRequest{
		SessionID:         "sess-1",
		TurnID:            "turn-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "hi-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeInterrupted, result.Outcome)
	assert.Empty(t, result.ResponseText, "partial results are discarded")
	assert.Empty(t, result.TranslatedText)
	assert.Nil(t, result.Audio)
	assert.Equal(t, int64(0), f.ttsProv.calls.Load(), "no synthesis after interruption")

	m, err := f.store.Metrics(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.InterruptedTurns)
	assert.Empty(t, f.turns.ActiveTurns("sess-1"))
}

func TestProcessAudioInterruptDuringProviderCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 抢话取消了进行中的供应商调用，错误从调用处冒出来
	f.chat.onCall = func() {
		f.turns.Interrupt("sess-1", "turn-1", turn.ReasonUserBargeIn, types.StageLLM)
	}
	f.chat.err = types.NewError(types.ErrProviderFailure, "connection reset").WithRetryable(true)

	result, err := f.orch.ProcessAudio(ctx, &ProcessRequest{
		SessionID:         "sess-1",
		TurnID:            "turn-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "hi-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.NoError(t, err, "interruption is not a failure")

	assert.Equal(t, types.OutcomeInterrupted, result.Outcome)
	assert.Empty(t, result.ResponseText)
	assert.Nil(t, result.Audio)

	m, err := f.store.Metrics(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.InterruptedTurns)
	assert.Equal(t, 0, m.FailedTurns)
}

func TestProcessAudioDuplicateTurnRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.turns.StartTurn("sess-1", "turn-1")
	require.NoError(t, err)

	_, err = f.orch.ProcessAudio(context.Background(), &ProcessRequest{
		SessionID:      "sess-1",
		TurnID:         "turn-1",
		AudioB64:       "ZGF0YQ==",
		TargetLanguage: "en-IN",
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrDuplicateTurn))
}

func TestProcessAudioASRFailureFailsTurn(t *testing.T) {
	f := newFixture(t)
	f.stt.err = types.NewError(types.ErrInvalidRequest, "bad audio")
	ctx := context.Background()

	result, err := f.orch.ProcessAudio(ctx, &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.OutcomeFailed, result.Outcome)

	m, merr := f.store.Metrics(ctx, "sess-1")
	require.NoError(t, merr)
	assert.Equal(t, 1, m.FailedTurns)
	assert.Empty(t, f.turns.ActiveTurns("sess-1"))
}

func TestProcessAudioSameLanguageSkipsTranslation(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.ProcessAudio(context.Background(), &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.NoError(t, err)
	assert.Equal(t, result.ResponseText, result.TranslatedText)
	assert.Equal(t, int64(0), f.translator.calls.Load())
}

func TestSessionCostSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.ProcessAudio(ctx, &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "hi-IN",
		OptimizationLevel: config.LevelBalanced,
	})
	require.NoError(t, err)

	summary := f.orch.SessionCost(ctx, "sess-1")
	require.NotNil(t, summary)
	assert.True(t, summary.TotalCostUSD.IsPositive())
	assert.Greater(t, summary.EntriesCount, 0)
	assert.Contains(t, summary.ByService, cost.ServiceLLM)
	assert.Contains(t, summary.ByService, cost.ServiceTTS)
}

func TestInterruptSessionStopsAllTurns(t *testing.T) {
	f := newFixture(t)

	_, err := f.turns.StartTurn("sess-1", "turn-a")
	require.NoError(t, err)
	_, err = f.turns.StartTurn("sess-1", "turn-b")
	require.NoError(t, err)

	f.orch.InterruptSession("sess-1", turn.ReasonManual)

	assert.True(t, f.turns.IsInterrupted("sess-1", "turn-a"))
	assert.True(t, f.turns.IsInterrupted("sess-1", "turn-b"))
}

func TestNoopRetrieverKeepsPipelineWorking(t *testing.T) {
	f := newFixture(t)
	f.orch.retriever = rag.NoopRetriever{}

	result, err := f.orch.ProcessAudio(context.Background(), &ProcessRequest{
		SessionID:         "sess-1",
		AudioB64:          "ZGF0YQ==",
		TargetLanguage:    "en-IN",
		OptimizationLevel: config.LevelQuality,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, result.Outcome)
	assert.NotContains(t, f.chat.lastReq.SystemPrompt, "KNOWLEDGE:")
}
