package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadsCommand(t *testing.T) {
	cfgPath := isolatedConfig(t)
	dir := filepath.Dir(cfgPath)

	t.Run("empty index", func(t *testing.T) {
		_, err := runCLI(t, "threads", "--config", cfgPath)
		require.Error(t, err)
		assert.ErrorIs(t, err, threadindex.ErrEmpty)
	})

	store, err := threadindex.NewFileStore(filepath.Join(dir, "threads.json"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "bob", "t-1"))
	require.NoError(t, store.Append(ctx, "alice", "t-2"))
	require.NoError(t, store.Append(ctx, "alice", "t-3"))
	require.NoError(t, store.Close())

	t.Run("users", func(t *testing.T) {
		out, err := runCLI(t, "threads", "--config", cfgPath)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, strings.Fields(out))
	})

	t.Run("threads of user", func(t *testing.T) {
		out, err := runCLI(t, "threads", "alice", "--config", cfgPath)
		require.NoError(t, err)
		assert.Equal(t, []string{"t-2", "t-3"}, strings.Fields(out))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := runCLI(t, "threads", "carol", "--config", cfgPath)
		require.Error(t, err)
		assert.ErrorIs(t, err, threadindex.ErrUserNotFound)
	})

	t.Run("too many args", func(t *testing.T) {
		_, err := runCLI(t, "threads", "a", "b", "--config", cfgPath)
		assert.Error(t, err)
	})
}
