package translation

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

// Translator 文本翻译接口
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Close() error
}

// Config 翻译风格配置
type Config struct {
	Colloquial     bool `yaml:"colloquial"`      // 口语化输出
	FormalityLevel int  `yaml:"formality_level"` // 正式程度 0-100
	CodeMixing     bool `yaml:"code_mixing"`     // 允许混入英文
	EnglishRatio   int  `yaml:"english_ratio"`   // 混英比例 0-100
}

// DefaultConfig 返回默认翻译风格
func DefaultConfig() Config {
	return Config{
		Colloquial:     false,
		FormalityLevel: 50,
		CodeMixing:     false,
		EnglishRatio:   30,
	}
}

// SarvamTranslator 调用 Sarvam /text/translate 接口.
type SarvamTranslator struct {
	baseURL string
	apiKey  string
	style   Config
	client  *http.Client
	logger  *zap.Logger
}

// NewSarvamTranslator 创建 Sarvam 翻译客户端.
func NewSarvamTranslator(baseURL, apiKey string, style Config, logger *zap.Logger) *SarvamTranslator {
	if baseURL == "" {
		baseURL = "https://api.sarvam.ai"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SarvamTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		style:   style,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type translateRequest struct {
	Text               string `json:"text"`
	SourceLanguageCode string `json:"source_language_code"`
	TargetLanguageCode string `json:"target_language_code"`
	Colloquial         bool   `json:"colloquial"`
	FormalityLevel     int    `json:"formality_level"`
	CodeMixing         bool   `json:"code_mixing"`
	EnglishRatio       int    `json:"english_ratio"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// Translate 翻译文本.
// 源语言与目标语言相同时直接原样返回，不发起请求。
// 供应商未返回译文时退回原文。
func (t *SarvamTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if text == "" || sourceLang == targetLang {
		return text, nil
	}

	body := translateRequest{
		Text:               text,
		SourceLanguageCode: sourceLang,
		TargetLanguageCode: targetLang,
		Colloquial:         t.style.Colloquial,
		FormalityLevel:     t.style.FormalityLevel,
		CodeMixing:         t.style.CodeMixing,
		EnglishRatio:       t.style.EnglishRatio,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/text/translate", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("api-subscription-key", t.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrProviderFailure, "sarvam translate request failed").
			WithProvider("sarvam").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("sarvam translate error: status=%d body=%s", resp.StatusCode, string(errBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", types.NewError(types.ErrProviderFailure, msg).
				WithProvider("sarvam").WithHTTPStatus(resp.StatusCode).WithRetryable(true)
		}
		return "", types.NewError(types.ErrInvalidRequest, msg).
			WithProvider("sarvam").WithHTTPStatus(resp.StatusCode)
	}

	var parsed translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewError(types.ErrProviderFailure, "sarvam translate returned malformed JSON").
			WithProvider("sarvam").WithCause(err)
	}
	if parsed.TranslatedText == "" {
		return text, nil
	}
	return parsed.TranslatedText, nil
}

func (t *SarvamTranslator) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
