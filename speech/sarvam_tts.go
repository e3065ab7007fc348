package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

const sarvamTTSModel = "bulbul:v2"

// SarvamTTS 使用 Sarvam Text-to-Speech API 执行语音合成.
type SarvamTTS struct {
	baseURL           string
	apiKey            string
	client            *http.Client
	logger            *zap.Logger
	defaultCodec      string
	defaultSampleRate int
}

// NewSarvamTTS 创建 Sarvam 语音合成客户端.
func NewSarvamTTS(cfg SarvamConfig, defaultCodec string, defaultSampleRate int) *SarvamTTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sarvam.ai"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCodec == "" {
		defaultCodec = "wav"
	}
	if defaultSampleRate == 0 {
		defaultSampleRate = 22050
	}

	return &SarvamTTS{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:            cfg.APIKey,
		client:            &http.Client{Timeout: timeout},
		logger:            logger,
		defaultCodec:      defaultCodec,
		defaultSampleRate: defaultSampleRate,
	}
}

func (s *SarvamTTS) Name() string { return "sarvam" }

type sarvamTTSRequest struct {
	Text                string  `json:"text"`
	TargetLanguageCode  string  `json:"target_language_code"`
	Speaker             string  `json:"speaker"`
	Pitch               float64 `json:"pitch"`
	Pace                float64 `json:"pace"`
	Loudness            float64 `json:"loudness"`
	SpeechSampleRate    int     `json:"speech_sample_rate"`
	EnablePreprocessing bool    `json:"enable_preprocessing"`
	Model               string  `json:"model"`
	OutputAudioCodec    string  `json:"output_audio_codec"`
}

type sarvamTTSResponse struct {
	Audios    []string `json:"audios"`
	RequestID string   `json:"request_id"`
}

// Synthesize 调用 /text-to-speech 接口生成语音.
func (s *SarvamTTS) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	codec := req.Codec
	if codec == "" {
		codec = s.defaultCodec
	}
	sampleRate := req.SampleRateHz
	if sampleRate == 0 {
		sampleRate = s.defaultSampleRate
	}

	body := sarvamTTSRequest{
		Text:                req.Text,
		TargetLanguageCode:  req.LanguageCode,
		Speaker:             req.VoiceID,
		Pitch:               req.Pitch,
		Pace:                req.Pace,
		Loudness:            req.Loudness,
		SpeechSampleRate:    sampleRate,
		EnablePreprocessing: true,
		Model:               sarvamTTSModel,
		OutputAudioCodec:    codec,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/text-to-speech", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("api-subscription-key", s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam tts request failed").
			WithProvider("sarvam").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, sarvamStatusError("tts", resp.StatusCode, errBody)
	}

	var parsed sarvamTTSResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam tts returned malformed JSON").
			WithProvider("sarvam").WithCause(err)
	}
	if len(parsed.Audios) == 0 {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam tts response did not include audio data").
			WithProvider("sarvam")
	}
	audioB64 := parsed.Audios[0]
	if _, err := base64.StdEncoding.DecodeString(audioB64); err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam tts returned invalid base64 audio").
			WithProvider("sarvam").WithCause(err)
	}

	return &SynthesizeResult{
		AudioB64:     audioB64,
		Codec:        codec,
		SampleRateHz: sampleRate,
		Latency:      time.Since(start),
		RequestID:    parsed.RequestID,
	}, nil
}

func (s *SarvamTTS) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
