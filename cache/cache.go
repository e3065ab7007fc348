// =============================================================================
// 💾 自适应缓存层
// =============================================================================
// 两个逻辑缓存共用一套设计：
//   AudioCache — 已合成音频的精确键缓存
//   TextCache  — 已生成回复的精确键 + 语义相似度缓存
//
// 失败语义：Redis 未配置或不可达时，一切读操作返回未命中、
// 写操作静默跳过。缓存只是优化项，绝不是正确性依赖。
// =============================================================================
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AudioEntry 缓存的合成音频
type AudioEntry struct {
	AudioB64     string `json:"audio"`
	Codec        string `json:"codec"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

// TextEntry 缓存的模型回复及其元数据
type TextEntry struct {
	ResponseText      string `json:"response_text"`
	GuardrailSafe     bool   `json:"guardrail_safe"`
	TokenCount        int    `json:"token_count"`
	OptimizationLevel string `json:"optimization_level"`
}

// AudioKey 组装音频缓存键：文本 + 语言 + 已解析声音 + 编码 + 采样率
func AudioKey(text, languageCode, voiceID, codec string, sampleRateHz int) string {
	return strings.Join([]string{
		text, languageCode, voiceID, codec, fmt.Sprintf("%d", sampleRateHz),
	}, "|")
}

// hashQuery 生成精确缓存键的哈希：归一化查询 + 优化级别
func hashQuery(query, optimizationLevel string) string {
	content := strings.ToLower(strings.TrimSpace(query)) + ":" + optimizationLevel
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// normalizeQuery 语义匹配前的归一化：小写、折叠空白
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// jaccardSimilarity 词集合 Jaccard 相似度 |A∩B| / |A∪B|，范围 0.0-1.0
// 刻意的廉价近似匹配：用召回率换取零额外网络调用
func jaccardSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
