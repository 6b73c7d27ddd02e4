package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "start", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Start the agentgate daemon")
		assert.Contains(t, out, "--port")
	})

	t.Run("refuses when already running", func(t *testing.T) {
		cfgPath := isolatedConfig(t)
		pidFile := filepath.Join(filepath.Dir(cfgPath), "agentgate.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))

		_, err := runCLI(t, "start", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfgPath := isolatedConfig(t)
		require.NoError(t, os.WriteFile(cfgPath, []byte(`{"store":{"backend":"etcd"}}`), 0644))

		_, err := runCLI(t, "start", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestIsRunning(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("no pid file", func(t *testing.T) {
		assert.False(t, isRunning(filepath.Join(tmpDir, "nonexistent.pid")))
	})

	t.Run("invalid pid file", func(t *testing.T) {
		pidFile := filepath.Join(tmpDir, "invalid.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("invalid"), 0644))
		assert.False(t, isRunning(pidFile))
	})

	t.Run("live process", func(t *testing.T) {
		pidFile := filepath.Join(tmpDir, "live.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))
		assert.True(t, isRunning(pidFile))
	})
}
