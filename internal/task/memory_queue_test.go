package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ardavaa/jarvis-agent/internal/agent"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
)

// capturingRunner 记录收到的请求并回显为回复。
type capturingRunner struct {
	mu   sync.Mutex
	seen []agent.Request
}

func (r *capturingRunner) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	r.mu.Lock()
	r.seen = append(r.seen, req)
	r.mu.Unlock()
	return &agent.Response{
		Response:       "done: " + req.Message,
		ConversationID: req.ConversationID,
		Iterations:     2,
		Observations:   []string{"calendar checked"},
	}, nil
}

func (r *capturingRunner) requests() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Request(nil), r.seen...)
}

func TestMemoryQueueDeliversRunRequest(t *testing.T) {
	runner := &capturingRunner{}
	h := startHarness(t, runner, 3)
	ctx := context.Background()

	disabled := false
	req := agent.Request{
		ConversationID:    "conv-42",
		UserID:            "tony",
		Message:           "what is on my calendar tomorrow?",
		History:           []llm.Turn{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}},
		UseSemanticMemory: &disabled,
	}
	submitted, err := h.service.Submit(ctx, "", req)
	require.NoError(t, err)
	assert.NotEmpty(t, submitted.ID)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done, err := h.service.WaitUntilCompleted(waitCtx, submitted.ID, 5*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, 1, done.Attempts)
	require.NotNil(t, done.Result)
	assert.Equal(t, "done: what is on my calendar tomorrow?", done.Result.Response)
	assert.Equal(t, "conv-42", done.Result.ConversationID)
	assert.Equal(t, []string{"calendar checked"}, done.Result.Observations)

	seen := runner.requests()
	require.Len(t, seen, 1)
	assert.Equal(t, req, seen[0])
}

func TestMemoryQueueConsumesBufferedTasksAfterClose(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Publish(ctx, "a"))
	require.NoError(t, q.Publish(ctx, "b"))
	require.NoError(t, q.Close())
	assert.Equal(t, 2, q.Len())

	var mu sync.Mutex
	var got []string
	go q.Consume(ctx, 1, func(_ context.Context, taskID string) error {
		mu.Lock()
		got = append(got, taskID)
		mu.Unlock()
		return nil
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, got)
	mu.Unlock()
	assert.Zero(t, q.Len())
}
