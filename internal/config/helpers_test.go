package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func sprintfConfig(dataDir string) string {
	return fmt.Sprintf(testConfigJSON, dataDir)
}

func mustJSON(t *testing.T, cfg *Config) string {
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	return string(data)
}
