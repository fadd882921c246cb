package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPromptBuilder(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	t.Run("should personalize with name and role", func(t *testing.T) {
		prompt := NewPromptBuilder("Base prompt.")(Identity{Name: "Dana", Role: "manager"}, now)
		assert.Contains(t, prompt, "Base prompt.")
		assert.Contains(t, prompt, "Monday, 9 March 2026")
		assert.Contains(t, prompt, "You are talking to Dana (role: manager).")
	})

	t.Run("should fall back to the default prompt", func(t *testing.T) {
		prompt := NewPromptBuilder(" ")(Identity{}, now)
		assert.Contains(t, prompt, DefaultSystemPrompt)
		assert.NotContains(t, prompt, "You are talking to")
	})
}
