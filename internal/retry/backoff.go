// Package retry 提供供应商调用的指数退避重试能力.
// This package is internal and should not be imported by external projects.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/types"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 延迟时间倍增因子（指数退避）
	Jitter       bool          // 是否添加随机抖动（防止雪崩）
}

// DefaultPolicy 返回默认重试策略
// 适用于语音/LLM/翻译供应商调用：3 次尝试，延迟逐次翻倍
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do 执行 fn，失败时按策略重试
//
// 只重试标记为可重试的错误（5xx/网络类）；4xx 客户端错误立即返回。
// 延迟等待期间监听 context 取消，中断信号能即时终止重试循环。
func Do[T any](ctx context.Context, policy Policy, logger *zap.Logger, fn func() (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateDelay(policy, attempt)
			logger.Debug("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return zero, types.NewError(types.ErrInterrupted, "retry cancelled").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("provider call succeeded after retry", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			break
		}
	}

	logger.Warn("provider call retries exhausted",
		zap.Int("attempts", policy.MaxRetries+1),
		zap.Error(lastErr))
	return zero, fmt.Errorf("failed after %d retries: %w", policy.MaxRetries, lastErr)
}

// calculateDelay 计算延迟时间：指数退避 + 可选随机抖动（±25%）
func calculateDelay(policy Policy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}
	if delay < float64(policy.InitialDelay) {
		delay = float64(policy.InitialDelay)
	}
	return time.Duration(delay)
}
