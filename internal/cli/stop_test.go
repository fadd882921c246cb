package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("should fail when nothing is running", func(t *testing.T) {
		path, _ := writeTestConfig(t, geminiProviders)

		_, err := runCommand(t, "stop", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})

	t.Run("should expose a timeout flag", func(t *testing.T) {
		out, err := runCommand(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "Stop a running gateway")
		assert.Contains(t, out, "timeout")
	})
}
