package llm

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

const defaultSarvamModel = "sarvam-m"

// SarvamClient 调用 Sarvam 的 OpenAI 兼容对话接口.
type SarvamClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// SarvamOption 配置 SarvamClient
type SarvamOption func(*SarvamClient)

// WithModel 覆盖默认模型
func WithModel(model string) SarvamOption {
	return func(c *SarvamClient) { c.model = model }
}

// WithTimeout 覆盖默认超时
func WithTimeout(d time.Duration) SarvamOption {
	return func(c *SarvamClient) { c.client.Timeout = d }
}

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) SarvamOption {
	return func(c *SarvamClient) { c.logger = logger }
}

// NewSarvamClient 创建 Sarvam 对话客户端.
func NewSarvamClient(baseURL, apiKey string, opts ...SarvamOption) *SarvamClient {
	if baseURL == "" {
		baseURL = "https://api.sarvam.ai"
	}
	c := &SarvamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   defaultSarvamModel,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Generate 调用 /v1/chat/completions 生成回复.
//
// 供应商未返回 usage 时用 tiktoken 估算 token 数，保证成本账本始终有数据。
func (c *SarvamClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.UserText == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "generate request needs user text")
	}

	body := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserText},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("api-subscription-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam chat request failed").
			WithProvider("sarvam").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("sarvam chat error: status=%d body=%s", resp.StatusCode, string(errBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, types.NewError(types.ErrProviderFailure, msg).
				WithProvider("sarvam").WithHTTPStatus(resp.StatusCode).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrInvalidRequest, msg).
			WithProvider("sarvam").WithHTTPStatus(resp.StatusCode)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam chat returned malformed JSON").
			WithProvider("sarvam").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.ErrProviderFailure, "sarvam chat response has no choices").
			WithProvider("sarvam")
	}

	text := parsed.Choices[0].Message.Content
	inputTokens := parsed.Usage.PromptTokens
	outputTokens := parsed.Usage.CompletionTokens
	if inputTokens == 0 {
		inputTokens = int64(EstimateTokens(req.SystemPrompt) + EstimateTokens(req.UserText))
	}
	if outputTokens == 0 {
		outputTokens = int64(EstimateTokens(text))
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return &GenerateResponse{
		Text:         text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        model,
	}, nil
}

func (c *SarvamClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
