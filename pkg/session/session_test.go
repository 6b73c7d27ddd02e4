package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTestResolver(t *testing.T) (*Resolver, threadindex.Store, *agent.Registry) {
	t.Helper()
	index, err := threadindex.NewFileStore(filepath.Join(t.TempDir(), "threads.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	entries, err := agent.Builtin(agent.Deps{Logger: zerolog.Nop(), DefaultModel: "echo"})
	require.NoError(t, err)
	registry, err := agent.NewRegistry(agent.SimpleChatbot, entries...)
	require.NoError(t, err)

	return NewResolver(index, registry, "echo", zerolog.Nop()), index, registry
}

func drain(t *testing.T, turn *Turn) []agent.Envelope {
	t.Helper()
	run, err := turn.Runtime.Stream(context.Background(), turn.Input, turn.Config)
	require.NoError(t, err)

	var out []agent.Envelope
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-run.Envelopes():
			if !ok {
				require.NoError(t, run.Err())
				return out
			}
			out = append(out, env)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}
