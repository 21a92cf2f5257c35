package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 3, EstimateTokens("hello world"))
}

func TestEstimateMessagesTokens(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "hello"}, {Role: "assistant", Content: "world"}}
	assert.Equal(t, EstimateTokens("hello")+EstimateTokens("world"), EstimateMessagesTokens(msgs))
}

func TestCompilePromptInjectsSystemOverride(t *testing.T) {
	msgs := []Message{{Role: "USER", Content: "hi"}}
	out := compilePrompt(msgs, Options{SystemPromptOverride: "be terse"})
	assert.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be terse", out[0].Content)
	assert.Equal(t, "user", out[1].Role)
}

func TestCompilePromptNormalizesUnknownRoles(t *testing.T) {
	out := compilePrompt([]Message{{Role: "weird", Content: "x"}}, Options{})
	assert.Equal(t, "user", out[0].Role)
}

func TestNormalizeUsagePrefersProviderSource(t *testing.T) {
	u := normalizeUsage(Usage{Input: 10, Output: 5, Source: SourceProvider}, nil, "")
	assert.Equal(t, 15, u.Total)
	assert.Equal(t, SourceProvider, u.Source)
}

func TestNormalizeUsageFallsBackToEstimate(t *testing.T) {
	prompt := []Message{{Role: "user", Content: "hello"}}
	u := normalizeUsage(Usage{}, prompt, "world")
	assert.Equal(t, SourceEstimated, u.Source)
	assert.Equal(t, EstimateTokens("hello")+EstimateTokens("world"), u.Total)
}

func TestBackoffDelayCapsAndGrows(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 4 * time.Second
	assert.Equal(t, base, backoffDelay(base, cap, 0))
	assert.Equal(t, 2*base, backoffDelay(base, cap, 1))
	assert.Equal(t, cap, backoffDelay(base, cap, 10))
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	cause := assert.AnError
	e := &Error{Kind: ErrTransport, Message: "boom", Cause: cause}
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "boom")
	assert.Contains(t, e.Error(), "provider_transport")
}

func TestRouterProvidersSortedAndDefault(t *testing.T) {
	r := NewRouter([]Config{
		{ID: "z-provider", Family: FamilyOpenAI, Model: "gpt-x"},
		{ID: "a-provider", Family: FamilyAnthropic, Model: "claude-x"},
	})
	list := r.Providers()
	assert.Len(t, list, 2)
	assert.Equal(t, "a-provider", list[0].ID)
	assert.Equal(t, "a-provider", r.DefaultProviderID())
}
