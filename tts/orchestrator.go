package tts

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/cache"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/cost"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/turn"
	"github.com/BaSui01/voiceflow/types"
)

// SynthesisRequest 一次合成请求
type SynthesisRequest struct {
	Text              string `json:"text"`
	LanguageCode      string `json:"language_code"`
	Provider          string `json:"provider,omitempty"` // 期望的供应商，空用默认
	VoiceID           string `json:"voice_id,omitempty"` // 期望的声音，空用默认
	Codec             string `json:"codec,omitempty"`
	SampleRateHz      int    `json:"sample_rate_hz,omitempty"`
	OptimizationLevel string `json:"optimization_level,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	TurnID            string `json:"turn_id,omitempty"`
}

// Metadata 合成结果元数据
type Metadata struct {
	Provider             string `json:"provider"`
	VoiceID              string `json:"voice_id"`
	LanguageCode         string `json:"language_code"`
	OptimizationLevel    string `json:"optimization_level,omitempty"`
	Codec                string `json:"codec"`
	SampleRateHz         int    `json:"sample_rate_hz"`
	Cached               bool   `json:"cached"`
	LatencyMs            int64  `json:"latency_ms,omitempty"`
	RequestID            string `json:"request_id,omitempty"`
	FallbackFromProvider string `json:"fallback_from_provider,omitempty"`
	FallbackFromVoiceID  string `json:"fallback_from_voice_id,omitempty"`
}

// SynthesisResponse 合成结果
type SynthesisResponse struct {
	AudioB64 string   `json:"audio_b64"`
	MimeType string   `json:"mime_type"`
	Metadata Metadata `json:"metadata"`
}

// Orchestrator 协调多供应商语音合成.
// 解析声音 → 查音频缓存 → 调用供应商（失败时回退） → 回写缓存与成本账本。
type Orchestrator struct {
	providers  map[string]speech.TTSProvider
	registry   *Registry
	audioCache *cache.AudioCache
	cacheCfg   config.CacheConfig
	defaults   config.TTSConfig
	ledger     *cost.Ledger
	interrupts *turn.Manager
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// Options 编排器的可选依赖
type Options struct {
	Registry   *Registry          // 为空时使用 DefaultRegistry
	AudioCache *cache.AudioCache  // 为空时不缓存
	Ledger     *cost.Ledger       // 为空时不记账
	Interrupts *turn.Manager      // 为空时不做打断检查
	Metrics    *metrics.Collector // 为空时不记指标
	Logger     *zap.Logger
}

// NewOrchestrator 创建合成编排器.
// providers 以供应商名索引，至少要包含回退供应商。
func NewOrchestrator(providers map[string]speech.TTSProvider, cacheCfg config.CacheConfig, defaults config.TTSConfig, opts Options) *Orchestrator {
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		providers:  providers,
		registry:   registry,
		audioCache: opts.AudioCache,
		cacheCfg:   cacheCfg,
		defaults:   defaults,
		ledger:     opts.Ledger,
		interrupts: opts.Interrupts,
		metrics:    opts.Metrics,
		logger:     logger.With(zap.String("component", "tts_orchestrator")),
	}
}

// Synthesize 为文本生成语音.
//
// 打断检查发生在缓存查找前、供应商调用前后；一旦检测到打断，
// 丢弃任何部分结果并返回 ErrInterrupted。
func (o *Orchestrator) Synthesize(ctx context.Context, req *SynthesisRequest) (*SynthesisResponse, error) {
	if req.Text == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "synthesis request needs text")
	}
	if err := o.checkInterrupt(req); err != nil {
		return nil, err
	}

	voice, fallbackFromProvider, fallbackFromVoice, err := o.resolveVoice(req)
	if err != nil {
		return nil, err
	}

	codec := req.Codec
	if codec == "" {
		codec = o.defaults.DefaultCodec
	}
	sampleRate := req.SampleRateHz
	if sampleRate == 0 {
		sampleRate = o.defaults.DefaultSampleRate
	}

	cacheKey := cache.AudioKey(req.Text, req.LanguageCode, voice.VoiceID, codec, sampleRate)
	if o.audioCache != nil {
		if entry, ok := o.audioCache.Get(ctx, cacheKey); ok {
			o.metrics.RecordCacheHit("tts_audio")
			o.metrics.RecordTTSRequest(voice.Provider, true)
			return &SynthesisResponse{
				AudioB64: entry.AudioB64,
				MimeType: inferMimeType(entry.Codec),
				Metadata: Metadata{
					Provider:             voice.Provider,
					VoiceID:              voice.VoiceID,
					LanguageCode:         req.LanguageCode,
					OptimizationLevel:    req.OptimizationLevel,
					Codec:                entry.Codec,
					SampleRateHz:         entry.SampleRateHz,
					Cached:               true,
					FallbackFromProvider: fallbackFromProvider,
					FallbackFromVoiceID:  fallbackFromVoice,
				},
			}, nil
		}
		o.metrics.RecordCacheMiss("tts_audio")
	}

	if err := o.checkInterrupt(req); err != nil {
		return nil, err
	}

	result, voice, err := o.synthesizeWithFallback(ctx, req, voice, codec, sampleRate, &fallbackFromProvider, &fallbackFromVoice)
	if err != nil {
		return nil, err
	}

	if err := o.checkInterrupt(req); err != nil {
		return nil, err
	}

	o.metrics.RecordTTSRequest(voice.Provider, false)

	if o.audioCache != nil {
		o.audioCache.Set(ctx, cacheKey, &cache.AudioEntry{
			AudioB64:     result.AudioB64,
			Codec:        result.Codec,
			SampleRateHz: result.SampleRateHz,
		}, o.cacheCfg.TTLForLevel(req.OptimizationLevel))
	}

	if o.ledger != nil {
		entry := o.ledger.TrackTTS(ctx, voice.Provider, len(req.Text), req.SessionID, req.TurnID, map[string]string{
			"voice_id":           voice.VoiceID,
			"language_code":      req.LanguageCode,
			"optimization_level": req.OptimizationLevel,
		})
		if entry != nil {
			o.metrics.RecordCost("tts", voice.Provider, entry.CostUSD.InexactFloat64())
		}
	}

	return &SynthesisResponse{
		AudioB64: result.AudioB64,
		MimeType: inferMimeType(result.Codec),
		Metadata: Metadata{
			Provider:             voice.Provider,
			VoiceID:              voice.VoiceID,
			LanguageCode:         req.LanguageCode,
			OptimizationLevel:    req.OptimizationLevel,
			Codec:                result.Codec,
			SampleRateHz:         result.SampleRateHz,
			Cached:               false,
			LatencyMs:            result.Latency.Milliseconds(),
			RequestID:            result.RequestID,
			FallbackFromProvider: fallbackFromProvider,
			FallbackFromVoiceID:  fallbackFromVoice,
		},
	}, nil
}

// synthesizeWithFallback 调用解析出的供应商；失败且不在回退供应商上时，
// 换到回退供应商再试恰好一次。
func (o *Orchestrator) synthesizeWithFallback(
	ctx context.Context,
	req *SynthesisRequest,
	voice Voice,
	codec string,
	sampleRate int,
	fallbackFromProvider, fallbackFromVoice *string,
) (*speech.SynthesizeResult, Voice, error) {
	result, err := o.callProvider(ctx, voice, req, codec, sampleRate)
	if err == nil {
		return result, voice, nil
	}

	fallbackProvider := o.fallbackProviderName()
	if voice.Provider == fallbackProvider {
		return nil, voice, err
	}

	fallbackVoice, ok := o.findFallbackVoice(req.LanguageCode)
	if !ok {
		return nil, voice, err
	}

	o.logger.Warn("tts provider failed, falling back",
		zap.String("from_provider", voice.Provider),
		zap.String("to_provider", fallbackVoice.Provider),
		zap.Error(err))
	o.metrics.RecordTTSFallback(voice.Provider, fallbackVoice.Provider)

	*fallbackFromProvider = voice.Provider
	*fallbackFromVoice = voice.VoiceID

	result, err = o.callProvider(ctx, fallbackVoice, req, codec, sampleRate)
	if err != nil {
		return nil, fallbackVoice, err
	}
	return result, fallbackVoice, nil
}

func (o *Orchestrator) callProvider(ctx context.Context, voice Voice, req *SynthesisRequest, codec string, sampleRate int) (*speech.SynthesizeResult, error) {
	provider, ok := o.providers[voice.Provider]
	if !ok {
		return nil, types.NewError(types.ErrProviderFailure, "tts provider not configured: "+voice.Provider).
			WithProvider(voice.Provider)
	}
	return provider.Synthesize(ctx, &speech.SynthesizeRequest{
		Text:         req.Text,
		LanguageCode: req.LanguageCode,
		VoiceID:      voice.VoiceID,
		Codec:        codec,
		SampleRateHz: sampleRate,
	})
}

// resolveVoice 解析最终使用的声音.
//
// 解析顺序：请求的声音支持该语言 → 回退供应商中支持该语言的首个声音
// （记录 fallback 来源） → 回退供应商的默认语言声音 → 无声音可用错误。
func (o *Orchestrator) resolveVoice(req *SynthesisRequest) (Voice, string, string, error) {
	provider := req.Provider
	if provider == "" {
		provider = o.defaults.DefaultProvider
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = o.defaults.DefaultVoiceID
	}

	if v, ok := o.registry.Get(provider, voiceID); ok && v.SupportsLanguage(req.LanguageCode) {
		return v, "", "", nil
	}

	if v, ok := o.findFallbackVoice(req.LanguageCode); ok {
		return v, provider, voiceID, nil
	}

	return Voice{}, "", "", types.NewError(types.ErrNoVoiceAvailable,
		"no available TTS voice for language "+req.LanguageCode)
}

func (o *Orchestrator) findFallbackVoice(languageCode string) (Voice, bool) {
	fallbackProvider := o.fallbackProviderName()

	if candidates := o.registry.VoicesForLanguage(fallbackProvider, languageCode); len(candidates) > 0 {
		return candidates[0], true
	}

	fallbackLang := o.defaults.FallbackLanguage
	if fallbackLang == "" {
		fallbackLang = "en-IN"
	}
	if candidates := o.registry.VoicesForLanguage(fallbackProvider, fallbackLang); len(candidates) > 0 {
		return candidates[0], true
	}
	return Voice{}, false
}

func (o *Orchestrator) fallbackProviderName() string {
	if o.defaults.FallbackProvider != "" {
		return o.defaults.FallbackProvider
	}
	return "sarvam"
}

func (o *Orchestrator) checkInterrupt(req *SynthesisRequest) error {
	if o.interrupts == nil || req.SessionID == "" || req.TurnID == "" {
		return nil
	}
	if o.interrupts.IsInterrupted(req.SessionID, req.TurnID) {
		return types.NewError(types.ErrInterrupted, "turn interrupted during synthesis")
	}
	return nil
}

func inferMimeType(codec string) string {
	switch codec {
	case "mp3":
		return "audio/mpeg"
	case "linear16":
		return "audio/L16"
	case "mulaw", "alaw":
		return "audio/basic"
	case "opus":
		return "audio/opus"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	default:
		return "audio/wav"
	}
}
