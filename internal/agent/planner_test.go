package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Ardavaa/jarvis-agent/internal/errors"
	"github.com/Ardavaa/jarvis-agent/internal/llm"
	"github.com/Ardavaa/jarvis-agent/internal/tools"
	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

type fixedGenerator struct {
	out    string
	err    error
	prompt llm.Prompt
}

func (g *fixedGenerator) Generate(_ context.Context, p llm.Prompt) (string, error) {
	g.prompt = p
	return g.out, g.err
}

func TestPlannerDefaultsMissingFields(t *testing.T) {
	gen := &fixedGenerator{out: `{"response":"hmm"}`}
	p := NewPlanner(gen, 0, nil, nil, logger.Discard())

	plan, err := p.Plan(context.Background(), PlanInput{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "No plan provided", plan.Plan)
	assert.False(t, plan.IsComplete)
	assert.Equal(t, []any{}, plan.ToolCalls)
	assert.False(t, plan.Fallback)
	assert.Equal(t, 0.7, gen.prompt.Temperature)
}

func TestPlannerPromptSections(t *testing.T) {
	gen := &fixedGenerator{out: `{"plan":"p","is_complete":true}`}
	p := NewPlanner(gen, 0.7, nil, nil, logger.Discard())

	turns := make([]llm.Turn, 7)
	for i := range turns {
		turns[i] = llm.Turn{Role: llm.RoleUser, Content: string(rune('a' + i))}
	}
	_, err := p.Plan(context.Background(), PlanInput{Message: "do it", Context: turns, Observations: []string{"one", "two"}})
	require.NoError(t, err)

	user := gen.prompt.User
	assert.Contains(t, user, "User Request: do it")
	assert.NotContains(t, user, "user: b\n", "只保留最近 5 条上下文")
	assert.Contains(t, user, "user: c\nuser: d\nuser: e\nuser: f\nuser: g")
	assert.Contains(t, user, "Observation 1: one\nObservation 2: two")
	assert.NotContains(t, user, "Relevant Memories")
	assert.Contains(t, gen.prompt.System, "- send_email(to, subject, body)")

	_, err = p.Plan(context.Background(), PlanInput{Message: "x"})
	require.NoError(t, err)
	assert.Contains(t, gen.prompt.User, "No previous context")
	assert.Contains(t, gen.prompt.User, "No previous observations")
}

func TestPlannerTruncatesSemanticContext(t *testing.T) {
	budget, err := llm.NewTokenBudget(5)
	require.NoError(t, err)
	gen := &fixedGenerator{out: `{"plan":"p","is_complete":true}`}
	p := NewPlanner(gen, 0.7, budget, nil, logger.Discard())

	long := strings.Repeat("remember this detail ", 50)
	_, err = p.Plan(context.Background(), PlanInput{Message: "x", SemanticContext: long})
	require.NoError(t, err)
	assert.Contains(t, gen.prompt.User, "Relevant Memories:")
	assert.NotContains(t, gen.prompt.User, long)
}

func TestPlannerOracleFailureIsRetryable(t *testing.T) {
	p := NewPlanner(&fixedGenerator{err: errors.New("timeout")}, 0.7, nil, nil, logger.Discard())
	_, err := p.Plan(context.Background(), PlanInput{Message: "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeOracleFailure, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
}

func TestObserverDefaultsAndFallbacks(t *testing.T) {
	calls := []tools.Call{{Name: tools.SendEmail}}
	results := []tools.Result{{Tool: tools.SendEmail, Success: true, Result: "ok"}}

	o := NewObserver(&fixedGenerator{out: `{"next_action":"wait"}`}, 0, nil, logger.Discard())
	obs := o.Observe(context.Background(), "plan", calls, results)
	assert.Equal(t, "No observation", obs.Analysis)
	assert.True(t, obs.ShouldFinish)
	assert.Equal(t, "wait", obs.NextAction)

	o = NewObserver(&fixedGenerator{out: "not json at all"}, 0, nil, logger.Discard())
	obs = o.Observe(context.Background(), "plan", calls, results)
	assert.True(t, obs.ShouldFinish)
	assert.Equal(t, "not json at all", obs.Analysis)
	assert.Equal(t, observerErrorResponse, obs.Response)

	o = NewObserver(&fixedGenerator{err: errors.New("boom")}, 0, nil, logger.Discard())
	obs = o.Observe(context.Background(), "plan", calls, results)
	assert.True(t, obs.ShouldFinish)
	assert.Equal(t, observerErrorResponse, obs.Response)
}

func TestFormatResults(t *testing.T) {
	got := FormatResults(
		[]tools.Call{{Name: tools.SendEmail}, {Name: tools.ReadEmail}},
		[]tools.Result{
			{Tool: tools.SendEmail, Success: true, Result: map[string]any{"id": "m1"}},
			{Tool: tools.ReadEmail, Error: "not found"},
		})
	want := "1. Tool: send_email\n   Status: Success\n   Result: {\"id\":\"m1\"}\n   Error: None\n\n" +
		"2. Tool: read_email\n   Status: Failed\n   Result: No result\n   Error: not found"
	assert.Equal(t, want, got)
}
