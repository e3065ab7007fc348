package config

// =============================================================================
// ⚡ 优化级别配置
// =============================================================================
// 五档延迟/质量权衡。每档决定检索深度、模型温度、输出上限、
// 流式/投机标志与缓存分层。未知级别回退到 balanced。
// =============================================================================

// 优化级别名称
const (
	LevelQuality         = "quality"
	LevelBalancedQuality = "balanced_quality"
	LevelBalanced        = "balanced"
	LevelBalancedSpeed   = "balanced_speed"
	LevelSpeed           = "speed"
)

// OptimizationProfile 单个优化级别的不可变配置
type OptimizationProfile struct {
	// Level 级别名称
	Level string `json:"level"`

	// TargetLatencyMinMs / TargetLatencyMaxMs 目标延迟区间（毫秒）
	TargetLatencyMinMs int `json:"target_latency_min_ms"`
	TargetLatencyMaxMs int `json:"target_latency_max_ms"`

	// RAGTopK 检索深度，0 表示完全跳过检索
	RAGTopK int `json:"rag_top_k"`

	// LLMTemperature 模型温度
	LLMTemperature float64 `json:"llm_temperature"`

	// ResponseMaxTokens 输出 token 上限，nil 表示不限
	ResponseMaxTokens *int `json:"response_max_tokens,omitempty"`

	// StreamingEnabled / SpeculationEnabled 流式与投机标志
	// （由外部流式子系统消费，此处仅作为策略输入透传）
	StreamingEnabled   bool `json:"streaming_enabled"`
	SpeculationEnabled bool `json:"speculation_enabled"`

	// SemanticCacheEnabled 是否启用语义缓存查找
	// 只有最高两档开启：略微过期的答案抵不上搜索成本时关闭
	SemanticCacheEnabled bool `json:"semantic_cache_enabled"`
}

var speedMaxTokens = 50

var profiles = map[string]OptimizationProfile{
	LevelQuality: {
		Level:                LevelQuality,
		TargetLatencyMinMs:   3000,
		TargetLatencyMaxMs:   4000,
		RAGTopK:              10,
		LLMTemperature:       0.3,
		ResponseMaxTokens:    nil,
		StreamingEnabled:     false,
		SpeculationEnabled:   false,
		SemanticCacheEnabled: true,
	},
	LevelBalancedQuality: {
		Level:                LevelBalancedQuality,
		TargetLatencyMinMs:   2000,
		TargetLatencyMaxMs:   3000,
		RAGTopK:              5,
		LLMTemperature:       0.5,
		ResponseMaxTokens:    nil,
		StreamingEnabled:     false,
		SpeculationEnabled:   false,
		SemanticCacheEnabled: true,
	},
	LevelBalanced: {
		Level:                LevelBalanced,
		TargetLatencyMinMs:   1500,
		TargetLatencyMaxMs:   2000,
		RAGTopK:              3,
		LLMTemperature:       0.7,
		ResponseMaxTokens:    nil,
		StreamingEnabled:     true,
		SpeculationEnabled:   true,
		SemanticCacheEnabled: false,
	},
	LevelBalancedSpeed: {
		Level:                LevelBalancedSpeed,
		TargetLatencyMinMs:   1000,
		TargetLatencyMaxMs:   1500,
		RAGTopK:              2,
		LLMTemperature:       0.8,
		ResponseMaxTokens:    nil,
		StreamingEnabled:     true,
		SpeculationEnabled:   true,
		SemanticCacheEnabled: false,
	},
	LevelSpeed: {
		Level:                LevelSpeed,
		TargetLatencyMinMs:   700,
		TargetLatencyMaxMs:   1000,
		RAGTopK:              0, // 跳过检索
		LLMTemperature:       0.9,
		ResponseMaxTokens:    &speedMaxTokens,
		StreamingEnabled:     true,
		SpeculationEnabled:   true,
		SemanticCacheEnabled: false,
	},
}

// ProfileFor 返回指定级别的优化配置，未知级别回退到 balanced
func ProfileFor(level string) OptimizationProfile {
	if p, ok := profiles[level]; ok {
		return p
	}
	return profiles[LevelBalanced]
}

// Levels 返回所有已知级别名称
func Levels() []string {
	return []string{
		LevelQuality,
		LevelBalancedQuality,
		LevelBalanced,
		LevelBalancedSpeed,
		LevelSpeed,
	}
}
