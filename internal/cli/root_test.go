package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("should print the version flag", func(t *testing.T) {
		out, err := runCommand(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "storechat version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("should describe the gateway in help", func(t *testing.T) {
		out, err := runCommand(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Storechat")
		assert.Contains(t, out, "failing over")
		for _, sub := range []string{"serve", "quota", "status", "stop", "configure", "version"} {
			assert.Contains(t, out, sub)
		}
	})

	t.Run("should declare global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "storechat version "+GetVersion()))
}

func TestLoadConfig(t *testing.T) {
	t.Run("should apply the log level override", func(t *testing.T) {
		path, dataDir := writeTestConfig(t, geminiProviders)
		cfgFile, logLevel = path, "debug"
		defer func() { cfgFile, logLevel = "", "" }()

		cfg, loader, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, dataDir, cfg.DataDir)
		assert.Equal(t, path, loader.GetConfigPath())
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
