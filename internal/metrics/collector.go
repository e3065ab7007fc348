// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 轮次指标
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// 流水线阶段指标
	stageDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 护栏指标
	guardrailViolations *prometheus.CounterVec

	// TTS 指标
	ttsRequestsTotal *prometheus.CounterVec
	ttsFallbackTotal *prometheus.CounterVec

	// 成本指标
	costTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 轮次指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by outcome",
		},
		[]string{"outcome", "optimization_level"},
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.8, 1.2, 2, 3.5, 5, 10},
		},
		[]string{"optimization_level"},
	)

	// 流水线阶段指标
	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"}, // llm_exact, llm_semantic, tts_audio
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 护栏指标
	c.guardrailViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_violations_total",
			Help:      "Total number of guardrail violations",
		},
		[]string{"layer", "rule"},
	)

	// TTS 指标
	c.ttsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_requests_total",
			Help:      "Total number of TTS synthesis requests",
		},
		[]string{"provider", "cache"}, // cache: hit, miss
	)

	c.ttsFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_fallback_total",
			Help:      "Total number of TTS provider fallbacks",
		},
		[]string{"from_provider", "to_provider"},
	)

	// 成本指标
	c.costTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Accumulated provider cost in USD",
		},
		[]string{"service", "provider"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 轮次指标记录
// =============================================================================

// RecordTurn 记录轮次结束
func (c *Collector) RecordTurn(outcome, optimizationLevel string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome, optimizationLevel).Inc()
	c.turnDuration.WithLabelValues(optimizationLevel).Observe(duration.Seconds())
}

// RecordStage 记录流水线阶段耗时
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🛡️ 护栏与 TTS 指标记录
// =============================================================================

// RecordGuardrailViolation 记录护栏违规
func (c *Collector) RecordGuardrailViolation(layer, rule string) {
	if c == nil {
		return
	}
	c.guardrailViolations.WithLabelValues(layer, rule).Inc()
}

// RecordTTSRequest 记录 TTS 合成请求
func (c *Collector) RecordTTSRequest(provider string, cached bool) {
	if c == nil {
		return
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	c.ttsRequestsTotal.WithLabelValues(provider, cache).Inc()
}

// RecordTTSFallback 记录 TTS 供应商回退
func (c *Collector) RecordTTSFallback(fromProvider, toProvider string) {
	if c == nil {
		return
	}
	c.ttsFallbackTotal.WithLabelValues(fromProvider, toProvider).Inc()
}

// RecordCost 记录供应商成本
func (c *Collector) RecordCost(service, provider string, usd float64) {
	if c == nil {
		return
	}
	c.costTotal.WithLabelValues(service, provider).Add(usd)
}
