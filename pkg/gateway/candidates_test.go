package gateway

import (
	"testing"

	"github.com/harun/storechat/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankCandidates(t *testing.T) {
	configured := []Candidate{
		{Provider: "openai", Model: "gpt-4o-mini", Priority: 3},
		{Provider: "gemini", Model: "gemini-2.0-flash", Priority: 1},
		{Provider: "groq", Model: "llama-3.3-70b", Priority: 2},
		{Provider: "openrouter", Model: "gemini-2.0-flash", Priority: 4},
	}

	t.Run("should sort by priority", func(t *testing.T) {
		ranked := rankCandidates(configured, "", "", nil)
		require.Len(t, ranked, 4)
		assert.Equal(t, "gemini", ranked[0].Provider)
		assert.Equal(t, "groq", ranked[1].Provider)
		assert.Equal(t, "openai", ranked[2].Provider)
		assert.Equal(t, "openrouter", ranked[3].Provider)
	})

	t.Run("should promote the selected pair and drop duplicates of its model", func(t *testing.T) {
		ranked := rankCandidates(configured, "openrouter", "gemini-2.0-flash", nil)
		require.Len(t, ranked, 3)
		assert.Equal(t, Candidate{Provider: "openrouter", Model: "gemini-2.0-flash"}, ranked[0])
		assert.Equal(t, "groq", ranked[1].Provider)
		assert.Equal(t, "openai", ranked[2].Provider)
	})

	t.Run("should infer the provider from the candidate list", func(t *testing.T) {
		ranked := rankCandidates(configured, "", "gemini-2.0-flash", nil)
		assert.Equal(t, "gemini", ranked[0].Provider)
		assert.Len(t, ranked, 3)
	})

	t.Run("should infer the provider from its model catalog", func(t *testing.T) {
		keys := NewKeyRing()
		keys.Set("anthropic", []string{"k"}, []string{"claude-3-5-haiku"})

		ranked := rankCandidates(configured, "", "claude-3-5-haiku", keys)
		require.Len(t, ranked, 5)
		assert.Equal(t, Candidate{Provider: "anthropic", Model: "claude-3-5-haiku"}, ranked[0])
	})

	t.Run("should ignore an unknown model", func(t *testing.T) {
		ranked := rankCandidates(configured, "", "unknown", NewKeyRing())
		assert.Len(t, ranked, 4)
	})

	t.Run("should not modify the configured list", func(t *testing.T) {
		_ = rankCandidates(configured, "groq", "gpt-4o-mini", nil)
		assert.Equal(t, "openai", configured[0].Provider)
	})
}

func TestKeyRing(t *testing.T) {
	keys := NewKeyRing()
	keys.Set("gemini", []string{"a", "b"}, []string{"gemini-2.0-flash"})

	got := keys.Keys("gemini")
	got[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, keys.Keys("gemini"))
	assert.Empty(t, keys.Keys("missing"))

	keys.Set("gemini", []string{"c"}, nil)
	assert.Equal(t, []string{"c"}, keys.Keys("gemini"))
}

func TestChatRequestConversation(t *testing.T) {
	req := ChatRequest{
		Message: "and today?",
		History: []HistoryTurn{
			{Role: "assistant", Content: "Welcome!"},
			{Role: "user", Content: "sales yesterday?"},
			{Role: "assistant", Content: "120 units."},
			{Role: "user", Content: "   "},
		},
	}

	turns := req.Conversation()
	require.Len(t, turns, 3)
	assert.Equal(t, transport.RoleUser, turns[0].Role)
	assert.Equal(t, transport.RoleModel, turns[1].Role)
	assert.Equal(t, transport.Turn{Role: transport.RoleUser, Content: "and today?"}, turns[2])
}

func TestChatRequestValidate(t *testing.T) {
	assert.Error(t, ChatRequest{}.Validate())
	assert.Error(t, ChatRequest{Message: "x", SelectedProvider: "gemini"}.Validate())
	assert.NoError(t, ChatRequest{Message: "x", SelectedModel: "m"}.Validate())
}
