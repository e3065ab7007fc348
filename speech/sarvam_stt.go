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

// SarvamSTT 使用 Sarvam Speech-to-Text API 执行语音识别.
type SarvamSTT struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// SarvamConfig Sarvam 客户端配置（STT/TTS/翻译共用）
type SarvamConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewSarvamSTT 创建 Sarvam 语音识别客户端.
func NewSarvamSTT(cfg SarvamConfig) *SarvamSTT {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sarvam.ai"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SarvamSTT{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type sarvamSTTRequest struct {
	Audio             string `json:"audio,omitempty"`
	AudioURL          string `json:"audio_url,omitempty"`
	LanguageDetection bool   `json:"language_detection"`
	OutputFormat      string `json:"output_format"`
}

type sarvamSTTResponse struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	Confidence   float64 `json:"confidence"`
	Segments     []struct {
		Text       string  `json:"text"`
		StartMs    int     `json:"start_ms"`
		EndMs      int     `json:"end_ms"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// Transcribe 调用 /speech-to-text 接口转写音频.
func (s *SarvamSTT) Transcribe(ctx context.Context, req *TranscribeRequest) (*types.Transcript, error) {
	if req.AudioB64 == "" && req.AudioURL == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "transcribe request needs audio data or an audio URL")
	}

	body := sarvamSTTRequest{
		Audio:             req.AudioB64,
		AudioURL:          req.AudioURL,
		LanguageDetection: true,
		OutputFormat:      "segments",
	}

	var parsed sarvamSTTResponse
	if err := s.postJSON(ctx, "/speech-to-text", body, &parsed); err != nil {
		return nil, err
	}

	lang := parsed.LanguageCode
	if lang == "" {
		lang = "en-IN"
	}
	transcript := &types.Transcript{
		Text:         parsed.Text,
		LanguageCode: lang,
		Confidence:   parsed.Confidence,
	}
	for _, seg := range parsed.Segments {
		transcript.Segments = append(transcript.Segments, types.TranscriptSegment{
			Text:       seg.Text,
			StartMs:    seg.StartMs,
			EndMs:      seg.EndMs,
			Confidence: seg.Confidence,
		})
	}
	return transcript, nil
}

func (s *SarvamSTT) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("api-subscription-key", s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrProviderFailure, "sarvam stt request failed").
			WithProvider("sarvam").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return sarvamStatusError("stt", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrProviderFailure, "sarvam stt returned malformed JSON").
			WithProvider("sarvam").WithCause(err)
	}
	return nil
}

// sarvamStatusError 把 HTTP 状态码映射为分类错误（5xx 可重试，4xx 不可）
func sarvamStatusError(op string, status int, body []byte) *types.Error {
	msg := fmt.Sprintf("sarvam %s error: status=%d body=%s", op, status, string(body))
	if status >= 500 || status == http.StatusTooManyRequests {
		return types.NewError(types.ErrProviderFailure, msg).
			WithProvider("sarvam").WithHTTPStatus(status).WithRetryable(true)
	}
	return types.NewError(types.ErrInvalidRequest, msg).
		WithProvider("sarvam").WithHTTPStatus(status)
}

func (s *SarvamSTT) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
