package llm

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ardavaa/jarvis-agent/internal/resilience"
)

type countingOracle struct {
	calls int
	err   error
}

func (o *countingOracle) Generate(context.Context, Prompt) (string, error) {
	o.calls++
	return "ok", o.err
}

func (o *countingOracle) Embed(context.Context, string) ([]float32, error) {
	o.calls++
	return []float32{1}, o.err
}

func TestGuardFailsFastWhenOpen(t *testing.T) {
	inner := &countingOracle{err: stdErrors.New("connection refused")}
	oracle := Guard(inner, resilience.NewBreaker(2, time.Hour))
	ctx := context.Background()

	_, _ = oracle.Generate(ctx, Prompt{User: "a"})
	_, _ = oracle.Embed(ctx, "b")
	_, err := oracle.Generate(ctx, Prompt{User: "c"})

	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)
}

func TestGuardWithoutBreakerReturnsInner(t *testing.T) {
	inner := &countingOracle{}
	assert.Same(t, Oracle(inner), Guard(inner, nil))
}
