package tools

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/resilience"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

type invokerFunc func(ctx context.Context, service Service, tool Name, params map[string]any) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, service Service, tool Name, params map[string]any) (any, error) {
	return f(ctx, service, tool, params)
}

func TestExecutePreservesOrderWithPartialFailure(t *testing.T) {
	invoker := invokerFunc(func(_ context.Context, service Service, tool Name, params map[string]any) (any, error) {
		if tool == ReadEmail {
			return nil, stdErrors.New("mailbox locked")
		}
		return map[string]any{"service": string(service), "tool": string(tool)}, nil
	})
	exec := NewExecutor(invoker, WithExecutorLogger(logger.Discard()))

	results, err := exec.Execute(context.Background(), []Call{
		{Name: ListEmails, Parameters: map[string]any{"query": "is:unread"}},
		{Name: ReadEmail, Parameters: map[string]any{"email_id": "1"}},
		{Name: OpenApplication, Parameters: map[string]any{"app_name": "notepad"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Equal(t, ListEmails, results[0].Tool)
	assert.Equal(t, ReadEmail, results[1].Tool)
	assert.Equal(t, OpenApplication, results[2].Tool)
	assert.Contains(t, results[1].Error, "TOOL_EXECUTION_FAILED")
	assert.Nil(t, results[1].Result)
	assert.Equal(t, "os_automation", results[2].Result.(map[string]any)["service"])
}

func TestExecuteRunsCallsConcurrently(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		release  = make(chan struct{})
		once     sync.Once
	)
	invoker := invokerFunc(func(context.Context, Service, Name, map[string]any) (any, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		if n == 3 {
			once.Do(func() { close(release) })
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		inFlight.Add(-1)
		return "ok", nil
	})
	exec := NewExecutor(invoker, WithExecutorLogger(logger.Discard()))

	calls := []Call{{Name: GetTelegramUpdates}, {Name: GetTelegramUpdates}, {Name: GetTelegramUpdates}}
	results, err := exec.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, int32(3), peak.Load())
}

func TestExecuteUnroutedToolFailsOnlyThatCall(t *testing.T) {
	exec := NewExecutor(invokerFunc(func(context.Context, Service, Name, map[string]any) (any, error) {
		return "done", nil
	}), WithExecutorLogger(logger.Discard()))

	results, err := exec.Execute(context.Background(), []Call{{Name: "teleport"}, {Name: SendEmail}})
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "no route")
	assert.True(t, results[1].Success)
}

func TestExecuteRecoversPanics(t *testing.T) {
	exec := NewExecutor(invokerFunc(func(context.Context, Service, Name, map[string]any) (any, error) {
		panic("nil map")
	}), WithExecutorLogger(logger.Discard()))

	results, err := exec.Execute(context.Background(), []Call{{Name: RunPowerShell}})
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "nil map")
}

func TestExecuteWithoutInvoker(t *testing.T) {
	_, err := NewExecutor(nil).Execute(context.Background(), []Call{{Name: SendEmail}})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestGuardedInvokerOpens(t *testing.T) {
	calls := 0
	inner := invokerFunc(func(context.Context, Service, Name, map[string]any) (any, error) {
		calls++
		return nil, stdErrors.New("gateway down")
	})
	invoker := Guard(inner, resilience.NewBreaker(1, time.Hour))

	_, err := invoker.Invoke(context.Background(), ServiceMail, SendEmail, nil)
	require.Error(t, err)
	_, err = invoker.Invoke(context.Background(), ServiceMail, SendEmail, nil)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}
