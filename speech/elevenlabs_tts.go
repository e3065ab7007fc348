package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

const elevenLabsModel = "eleven_multilingual_v2"

// ElevenLabsTTS 使用 ElevenLabs API 执行语音合成.
type ElevenLabsTTS struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	logger       *zap.Logger
	defaultCodec string
}

// ElevenLabsConfig ElevenLabs 客户端配置
type ElevenLabsConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	DefaultCodec string
	Logger       *zap.Logger
}

// NewElevenLabsTTS 创建 ElevenLabs 语音合成客户端.
func NewElevenLabsTTS(cfg ElevenLabsConfig) (*ElevenLabsTTS, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "elevenlabs API key must be configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := cfg.DefaultCodec
	if codec == "" {
		codec = "mp3"
	}

	return &ElevenLabsTTS{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		defaultCodec: codec,
	}, nil
}

func (p *ElevenLabsTTS) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text          string `json:"text"`
	ModelID       string `json:"model_id"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
		Style           float64 `json:"style"`
		UseSpeakerBoost bool    `json:"use_speaker_boost"`
	} `json:"voice_settings"`
	OutputFormat string `json:"output_format"`
}

type elevenLabsResponse struct {
	Audio     string `json:"audio"`
	RequestID string `json:"request_id"`
}

// Synthesize 调用 /v1/text-to-speech/{voice_id} 接口生成语音.
func (p *ElevenLabsTTS) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	codec := req.Codec
	if codec == "" {
		codec = p.defaultCodec
	}

	body := elevenLabsRequest{
		Text:         req.Text,
		ModelID:      elevenLabsModel,
		OutputFormat: codec,
	}
	body.VoiceSettings.Stability = 0.5
	body.VoiceSettings.SimilarityBoost = 0.5
	body.VoiceSettings.UseSpeakerBoost = true

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", p.baseURL, req.VoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "elevenlabs request failed").
			WithProvider("elevenlabs").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("elevenlabs error: status=%d body=%s", resp.StatusCode, string(errBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, types.NewError(types.ErrProviderFailure, msg).
				WithProvider("elevenlabs").WithHTTPStatus(resp.StatusCode).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrInvalidRequest, msg).
			WithProvider("elevenlabs").WithHTTPStatus(resp.StatusCode)
	}

	var parsed elevenLabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "elevenlabs returned malformed JSON").
			WithProvider("elevenlabs").WithCause(err)
	}
	if parsed.Audio == "" {
		return nil, types.NewError(types.ErrProviderFailure, "elevenlabs response missing audio field").
			WithProvider("elevenlabs")
	}

	return &SynthesizeResult{
		AudioB64:     parsed.Audio,
		Codec:        codec,
		SampleRateHz: req.SampleRateHz,
		Latency:      time.Since(start),
		RequestID:    parsed.RequestID,
	}, nil
}

func (p *ElevenLabsTTS) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
