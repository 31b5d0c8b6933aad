package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
)

// Policy 描述一次带指数退避的重试策略。
type Policy struct {
	// MaxRetries 是首次调用之后允许的额外尝试次数。
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	// MaxDelay 为零时不限制单次等待时长。
	MaxDelay time.Duration
	// RetryIf 决定错误是否值得重试；为 nil 时所有错误都会重试。
	RetryIf func(error) bool
	// OnRetry 在每次等待之前被调用，attempt 从 1 开始。
	OnRetry func(attempt, maxRetries int, err error)
}

// DefaultPolicy 返回三次尝试、1s 起步、倍数 2 的策略。
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, InitialDelay: time.Second, BackoffFactor: 2}
}

// Delay 计算第 attempt 次重试之前的等待时间。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryOn 返回一个只对指定错误码放行重试的判定函数。
func RetryOn(codes ...xerrors.Code) func(error) bool {
	return func(err error) bool {
		for _, code := range codes {
			if xerrors.HasCode(err, code) {
				return true
			}
		}
		return false
	}
}

// Retry 按策略执行 op，直到成功、遇到不可重试的错误或重试次数耗尽。
// 耗尽时返回包裹最后一次错误的 RETRIES_EXHAUSTED 错误。
func Retry[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, maxRetries, lastErr)
			}
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, err
			}
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr,
		fmt.Sprintf("重试 %d 次后仍然失败", maxRetries))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
