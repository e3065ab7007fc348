package llm

import (
	"context"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ChatClient 对话生成客户端接口
type ChatClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	Close() error
}

// GenerateRequest 一次对话补全请求
type GenerateRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	UserText     string  `json:"user_text"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    *int    `json:"max_tokens,omitempty"` // nil 表示不限制
}

// GenerateResponse 一次对话补全结果
type GenerateResponse struct {
	Text         string `json:"text"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Model        string `json:"model"`
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens 估算文本的 token 数.
// 优先使用 cl100k_base 编码精确计数；编码数据不可用时退化为
// 每 4 字符 1 token 的粗略估算。
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
