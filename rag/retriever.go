package rag

import (
	"context"
	"strings"
)

// Retriever 知识检索接口
type Retriever interface {
	// Retrieve 为查询召回至多 topK 条知识片段.
	// topK <= 0 时应立即返回空结果。
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}

// JoinContext 将召回片段拼装成注入提示词的知识块.
// 没有片段时返回空串。
func JoinContext(chunks []string) string {
	filtered := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, "\n\n")
}

// NoopRetriever 永远返回空结果，用于未接入知识库的部署.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(_ context.Context, _ string, _ int) ([]string, error) {
	return nil, nil
}

// StaticRetriever 从固定片段池里返回前 topK 条，主要用于测试与演示.
type StaticRetriever struct {
	Chunks []string
}

func (s *StaticRetriever) Retrieve(_ context.Context, _ string, topK int) ([]string, error) {
	if topK <= 0 || len(s.Chunks) == 0 {
		return nil, nil
	}
	if topK > len(s.Chunks) {
		topK = len(s.Chunks)
	}
	out := make([]string, topK)
	copy(out, s.Chunks[:topK])
	return out, nil
}
