package cli

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := runCLI(t, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Stop the agentgate daemon service")
		assert.Contains(t, out, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		cfgPath := isolatedConfig(t)

		_, err := runCLI(t, "stop", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})

	t.Run("stale pid file", func(t *testing.T) {
		cfgPath := isolatedConfig(t)
		pidFile := filepath.Join(filepath.Dir(cfgPath), "agentgate.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("999999999"), 0644))

		_, err := runCLI(t, "stop", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stale")

		_, statErr := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("terminates process", func(t *testing.T) {
		sleep, err := exec.LookPath("sleep")
		if err != nil {
			t.Skip("sleep not available")
		}

		child := exec.Command(sleep, "30")
		require.NoError(t, child.Start())
		// Reap the child so it does not linger as a zombie.
		go func() { _ = child.Wait() }()

		cfgPath := isolatedConfig(t)
		pidFile := filepath.Join(filepath.Dir(cfgPath), "agentgate.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(child.Process.Pid)), 0644))

		out, err := runCLI(t, "stop", "--config", cfgPath, "--timeout", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "Daemon stopped successfully")

		_, statErr := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(statErr))
	})
}
