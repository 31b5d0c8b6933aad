package resilience

import (
	"context"
	"sync"
	"time"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
)

// State 是熔断器的状态。
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 在熔断器打开期间直接返回，不会调用被保护的操作。
var ErrCircuitOpen = xerrors.New(xerrors.CodeCircuitOpen, "circuit open")

// Breaker 是一个按连续失败次数触发的熔断器，可安全地并发使用。
type Breaker struct {
	mu              sync.Mutex
	name            string
	threshold       int
	recoveryTimeout time.Duration
	state           State
	failures        int
	lastFailure     time.Time
	countable       func(error) bool
	now             func() time.Time
	onStateChange   func(name string, from, to State)
}

// BreakerOption 定义熔断器的可选配置。
type BreakerOption func(*Breaker)

// WithBreakerName 为熔断器命名，便于日志与指标区分。
func WithBreakerName(name string) BreakerOption {
	return func(b *Breaker) {
		b.name = name
	}
}

// WithFailurePredicate 限定哪些错误计入失败次数，其余错误原样返回但不影响状态。
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *Breaker) {
		b.countable = fn
	}
}

// WithStateChangeHook 在状态迁移时回调。
func WithStateChangeHook(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

// NewBreaker 创建熔断器。
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration, opts ...BreakerOption) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = time.Minute
	}
	b := &Breaker{
		name:            "default",
		threshold:       failureThreshold,
		recoveryTimeout: recoveryTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name 返回熔断器名称。
func (b *Breaker) Name() string {
	return b.name
}

// State 返回当前状态。打开状态不会因为读取而自动迁移到半开。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures 返回当前累计的连续失败次数。
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset 强制关闭熔断器并清零失败计数。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.transition(StateClosed)
}

// allow 判断本次调用是否放行，必要时把打开状态迁移到半开。
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		b.transition(StateHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}
	if b.countable != nil && !b.countable(err) {
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.transition(StateOpen)
	}
}

// transition 需在持有锁时调用。
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Execute 在熔断器保护下执行 op。
func Execute[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	value, err := op(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return value, nil
}
