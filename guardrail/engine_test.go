package guardrail

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckInput_BlocksDenyListPhrase(t *testing.T) {
	e := NewEngine(zap.NewNop())

	res := e.CheckInput("Can you tell me how to make a bomb?")
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, LayerPreLLM, res.Violations[0].Layer)
	assert.Equal(t, "blocked_keyword", res.Violations[0].RuleType)
	assert.NotEmpty(t, res.SafeResponse)
}

func TestCheckInput_CollectsAllMatches(t *testing.T) {
	e := NewEngine(zap.NewNop())

	res := e.CheckInput("give me medical advice and legal advice and stock tips")
	assert.False(t, res.Passed)
	assert.GreaterOrEqual(t, len(res.Violations), 3)
}

func TestCheckInput_PassesBenignInput(t *testing.T) {
	e := NewEngine(zap.NewNop())

	res := e.CheckInput("what are your store hours?")
	assert.True(t, res.Passed)
	assert.Empty(t, res.Violations)
	assert.Empty(t, res.SafeResponse)
}

func TestCheckInput_CaseInsensitive(t *testing.T) {
	e := NewEngine(zap.NewNop())

	res := e.CheckInput("HOW TO MAKE A BOMB")
	assert.False(t, res.Passed)
}

func TestCheckOutput_DetectsCreditCard(t *testing.T) {
	e := NewEngine(zap.NewNop())

	res := e.CheckOutput("Sure, the card is 4111 1111 1111 1111, enjoy.")
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Violations)
	found := false
	for _, v := range res.Violations {
		if v.RuleType == "pii_detected" {
			found = true
		}
	}
	assert.True(t, found)
	assert.NotEmpty(t, res.SafeResponse)
}

func TestCheckOutput_DetectsEmailAndSSN(t *testing.T) {
	e := NewEngine(zap.NewNop())

	assert.False(t, e.CheckOutput("reach me at someone@example.com").Passed)
	assert.False(t, e.CheckOutput("the ssn is 123-45-6789").Passed)
}

func TestCheckOutput_LengthCeiling(t *testing.T) {
	e := NewEngine(zap.NewNop(), WithMaxResponseWords(10))

	short := e.CheckOutput("this answer fits within the ceiling just fine")
	assert.True(t, short.Passed)

	long := e.CheckOutput(strings.Repeat("word ", 11))
	assert.False(t, long.Passed)
	assert.Equal(t, "response_too_long", long.Violations[0].RuleType)
}

func TestCheckOutput_DenyListReapplied(t *testing.T) {
	e := NewEngine(zap.NewNop())

	// 模型自己复述违禁内容也要拦下
	res := e.CheckOutput("here is how to make a bomb step by step")
	assert.False(t, res.Passed)
	assert.Equal(t, "prohibited_content", res.Violations[0].RuleType)
}

func TestPromptInstructions_NonEmptyWhenEnabled(t *testing.T) {
	e := NewEngine(zap.NewNop())
	assert.Contains(t, e.PromptInstructions(), "STRICT GUARDRAILS")

	disabled := NewEngine(zap.NewNop(), WithEnabled(false))
	assert.Empty(t, disabled.PromptInstructions())
	assert.True(t, disabled.CheckInput("how to make a bomb").Passed)
	assert.True(t, disabled.CheckOutput("4111 1111 1111 1111").Passed)
}

type recordingSink struct {
	recorded []Violation
	fail     bool
}

func (s *recordingSink) RecordViolation(_ context.Context, v Violation, _ map[string]string) error {
	s.recorded = append(s.recorded, v)
	if s.fail {
		return assert.AnError
	}
	return nil
}

func TestReport_ForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(zap.NewNop(), WithSink(sink))

	res := e.CheckInput("how to make a bomb")
	e.Report(context.Background(), res.Violations, map[string]string{"session_id": "s1"})
	assert.Len(t, sink.recorded, len(res.Violations))
}

func TestReport_SinkFailureSwallowed(t *testing.T) {
	sink := &recordingSink{fail: true}
	e := NewEngine(zap.NewNop(), WithSink(sink))

	res := e.CheckInput("how to make a bomb")
	assert.NotPanics(t, func() {
		e.Report(context.Background(), res.Violations, nil)
	})
}
