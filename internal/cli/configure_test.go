package cli

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "effective configuration")
	})

	t.Run("prints masked config", func(t *testing.T) {
		cfgPath := isolatedConfig(t)
		body := `{"server":{"port":9090,"auth_secret":"hunter2"},"providers":{"openai_api_key":"sk-live-123"}}`
		require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0644))

		out, err := runCLI(t, "configure", "--config", cfgPath, "--check=false")
		require.NoError(t, err)

		assert.NotContains(t, out, "hunter2")
		assert.NotContains(t, out, "sk-live-123")

		var printed map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &printed))
		server := printed["server"].(map[string]any)
		assert.Equal(t, float64(9090), server["port"])
		assert.Equal(t, "***", server["auth_secret"])
	})

	t.Run("check only", func(t *testing.T) {
		cfgPath := isolatedConfig(t)

		out, err := runCLI(t, "configure", "--config", cfgPath, "--check")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})

	t.Run("invalid", func(t *testing.T) {
		cfgPath := isolatedConfig(t)
		require.NoError(t, os.WriteFile(cfgPath, []byte(`{"logging":{"level":"loud"}}`), 0644))

		_, err := runCLI(t, "configure", "--config", cfgPath, "--check=false")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("log level flag overrides file", func(t *testing.T) {
		cfgPath := isolatedConfig(t)

		out, err := runCLI(t, "configure", "--config", cfgPath, "--check=false", "--log-level", "debug")
		require.NoError(t, err)
		assert.Contains(t, out, `"level": "debug"`)
	})
}
