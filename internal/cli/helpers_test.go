package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command with args and returns its combined
// output. Flag variables are reset so runs do not leak into each other.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel = "", ""
	quotaJSON, noWatch = false, false
	stopTimeout = 30

	cmd := GetRootCmd()
	resetBoolFlags(cmd)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// resetBoolFlags clears help and version flags left set by earlier runs.
func resetBoolFlags(c *cobra.Command) {
	_ = c.Flags().Set("help", "false")
	_ = c.Flags().Set("version", "false")
	for _, sub := range c.Commands() {
		resetBoolFlags(sub)
	}
}

// writeTestConfig writes a config whose data directory is a fresh temp dir.
// providers is the raw JSON of the providers array.
func writeTestConfig(t *testing.T, providers string) (configPath, dataDir string) {
	t.Helper()
	dataDir = t.TempDir()
	configPath = filepath.Join(dataDir, "storechat.json")

	body := fmt.Sprintf(`{
  "data_dir": %q,
  "gateway": {"port": 8099, "host": "127.0.0.1", "shared_secret": "super-secret-value"},
  "providers": %s,
  "candidates": [{"provider": "gemini", "model": "gemini-2.0-flash", "priority": 1}],
  "quota": {"buckets": [{"name": "gemini", "patterns": ["gemini"], "limit": 100}]}
}`, dataDir, providers)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0600))
	return configPath, dataDir
}

const geminiProviders = `[{"id": "gemini", "kind": "gemini", "api_keys": ["AIzaCliTestKey0001"], "models": ["gemini-2.0-flash"]}]`
