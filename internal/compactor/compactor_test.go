package compactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlhalen/Nexar/internal/engine"
)

func TestTruncateMiddleLeavesShortStringsAlone(t *testing.T) {
	assert.Equal(t, "hello", truncateMiddle("hello", 100))
}

func TestTruncateMiddleSplitsLongStrings(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	out := truncateMiddle(long, 40)
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "...")
}

func TestCompactWindowsRecentTurns(t *testing.T) {
	c := New(nil)
	msgs := make([]engine.ChatMessage, 0, 5)
	for i := 0; i < 5; i++ {
		msgs = append(msgs, engine.ChatMessage{Role: "user", Content: "msg"})
	}
	cfg := engine.HistoryConfig{Turns: 2, MaxCharsPerMessage: 100, SummaryEnabled: false}
	out, summary := c.Compact(context.Background(), "run-1", "p1", msgs, cfg)
	require.Len(t, out, 2)
	assert.Empty(t, summary)
}

func TestCompactWithNoRouterProducesNoSummary(t *testing.T) {
	c := New(nil)
	msgs := []engine.ChatMessage{
		{Role: "user", Content: "old-1"},
		{Role: "assistant", Content: "old-2"},
		{Role: "user", Content: "recent"},
	}
	cfg := engine.HistoryConfig{Turns: 1, MaxCharsPerMessage: 100, SummaryEnabled: true, SummaryMaxChars: 50}
	out, summary := c.Compact(context.Background(), "run-2", "p1", msgs, cfg)
	assert.Empty(t, summary)
	require.Len(t, out, 1)
	assert.Equal(t, "recent", out[0].Content)
}

func TestHashMessagesStable(t *testing.T) {
	a := []engine.ChatMessage{{Role: "user", Content: "hi"}}
	b := []engine.ChatMessage{{Role: "user", Content: "hi"}}
	assert.Equal(t, hashMessages(a), hashMessages(b))

	c := []engine.ChatMessage{{Role: "user", Content: "bye"}}
	assert.NotEqual(t, hashMessages(a), hashMessages(c))
}

func TestForgetClearsCache(t *testing.T) {
	c := New(nil)
	c.cache["run-x"] = summaryEntry{hash: "h", text: "t"}
	c.Forget("run-x")
	_, ok := c.cache["run-x"]
	assert.False(t, ok)
}
