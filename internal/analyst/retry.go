package analyst

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/roles"
)

// 重试配置常量
const (
	MaxAgentRetries = 2                // 单次发言最大重试次数
	RetryBaseDelay  = 2 * time.Second  // 指数退避基础延迟
	RetryMaxDelay   = 15 * time.Second // 指数退避最大延迟
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: MaxAgentRetries, BaseDelay: RetryBaseDelay, MaxDelay: RetryMaxDelay}
}

// delay 第 i 次重试前的等待时长：BaseDelay * 2^(i-1)，上限 MaxDelay
func (p RetryPolicy) delay(i int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<(i-1))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// isRetryableError 判断错误是否可重试
// 超时、主动取消、配置错误、结构化输出不合规不重试；网络错误、API 临时错误可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var schemaErr *adk.SchemaValidationError
	if errors.As(err, &schemaErr) {
		return false
	}
	var roleErr *roles.UnknownRoleError
	if errors.As(err, &roleErr) {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "config") || strings.Contains(msg, "not found") {
		return false
	}
	return true
}

// retryRun 带指数退避的重试包装
// 在父 ctx 未取消的前提下，最多重试 MaxRetries 次
func retryRun[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	result, err := fn()
	if err == nil || !isRetryableError(err) {
		return result, err
	}

	lastErr := err
	for i := 1; i <= p.MaxRetries; i++ {
		delay := p.delay(i)
		log.Warn("retry %d/%d after %v, last error: %v", i, p.MaxRetries, delay, lastErr)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			log.Info("retry %d/%d succeeded", i, p.MaxRetries)
			return result, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("重试 %d 次后仍失败: %w", p.MaxRetries, lastErr)
}
