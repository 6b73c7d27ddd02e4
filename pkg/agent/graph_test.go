package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, run *Run) []Envelope {
	t.Helper()
	var out []Envelope
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-run.Envelopes():
			if !ok {
				return out
			}
			out = append(out, env)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	entries, err := Builtin(Deps{Logger: zerolog.Nop(), DefaultModel: "echo"})
	require.NoError(t, err)
	registry, err := NewRegistry(SimpleChatbot, entries...)
	require.NoError(t, err)
	return registry
}

func tokens(envs []Envelope) []string {
	var out []string
	for _, e := range envs {
		if e.Kind == KindFragment {
			out = append(out, e.Fragment.Message.Content)
		}
	}
	return out
}

func TestSimpleChatbotRun(t *testing.T) {
	registry := setupTestRegistry(t)
	rt, err := registry.Get(SimpleChatbot)
	require.NoError(t, err)

	ctx := context.Background()
	rc := RunConfig{RunID: "r1", ThreadID: "t1", UserID: "u1", Model: "echo"}

	run, err := rt.Stream(ctx, NewTurn(HumanMessage("hello there")), rc)
	require.NoError(t, err)
	envs := collect(t, run)
	require.NoError(t, run.Err())

	// start delta, four tokens, chat delta
	require.Len(t, envs, 6)
	assert.Equal(t, KindDelta, envs[0].Kind)
	assert.Equal(t, StartNode, envs[0].Updates[0].Node)
	assert.Equal(t, []string{"You ", "said: ", "hello ", "there"}, tokens(envs))
	for _, e := range envs[1:5] {
		assert.Equal(t, "chat", e.Fragment.Node)
		assert.True(t, e.Fragment.Message.Chunk)
	}

	last := envs[len(envs)-1]
	require.Equal(t, KindDelta, last.Kind)
	assert.Equal(t, "chat", last.Updates[0].Node)
	msg := last.Updates[0].Messages[0].(Message)
	assert.Equal(t, RoleAI, msg.Role)
	assert.Equal(t, "You said: hello there", msg.Content)

	snap, err := rt.State(ctx, rc)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.False(t, snap.Interrupted())
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, RoleHuman, snap.Messages[0].Role)
	assert.Equal(t, RoleAI, snap.Messages[1].Role)
}

func TestPlannerInterruptAndResume(t *testing.T) {
	registry := setupTestRegistry(t)
	rt, err := registry.Get(WorkflowPlannerChatbot)
	require.NoError(t, err)

	ctx := context.Background()
	rc := RunConfig{ThreadID: "plan-1", Model: "echo"}

	run, err := rt.Stream(ctx, NewTurn(HumanMessage("onboard new customers")), rc)
	require.NoError(t, err)
	envs := collect(t, run)
	require.NoError(t, run.Err())

	// planner tokens are internal
	for _, e := range envs {
		if e.Kind == KindFragment {
			assert.True(t, e.Fragment.HasTag(TagSkipStream))
		}
	}

	var sawPlan bool
	for _, e := range envs {
		if e.Kind == KindCustom && e.Custom.Role == RoleWorkflowPlan {
			sawPlan = true
			assert.Equal(t, "You said: onboard new customers", e.Custom.CustomData["plan"])
		}
	}
	assert.True(t, sawPlan)

	last := envs[len(envs)-1]
	require.Equal(t, KindDelta, last.Kind)
	assert.Equal(t, InterruptNode, last.Updates[0].Node)
	require.Len(t, last.Updates[0].Interrupts, 1)
	assert.Equal(t, reviewQuestion, last.Updates[0].Interrupts[0].Value)

	snap, err := rt.State(ctx, rc)
	require.NoError(t, err)
	assert.True(t, snap.Interrupted())
	assert.Equal(t, "review", snap.Tasks[0].Name)

	t.Run("feedback redrafts and interrupts again", func(t *testing.T) {
		run, err := rt.Stream(ctx, ResumeWith("add a KYC step"), rc)
		require.NoError(t, err)
		envs := collect(t, run)
		require.NoError(t, run.Err())

		last := envs[len(envs)-1]
		assert.Equal(t, InterruptNode, last.Updates[0].Node)

		snap, err := rt.State(ctx, rc)
		require.NoError(t, err)
		assert.True(t, snap.Interrupted())
		assert.Equal(t, "You said: add a KYC step", lastAI(snap.Messages))
	})

	t.Run("approval finishes", func(t *testing.T) {
		run, err := rt.Stream(ctx, ResumeWith("yes"), rc)
		require.NoError(t, err)
		envs := collect(t, run)
		require.NoError(t, run.Err())

		require.Len(t, envs, 2)
		assert.Equal(t, KindCustom, envs[0].Kind)
		assert.Equal(t, RoleWorkflowConfig, envs[0].Custom.Role)
		assert.Equal(t, "review", envs[1].Updates[0].Node)

		snap, err := rt.State(ctx, rc)
		require.NoError(t, err)
		assert.False(t, snap.Interrupted())
		assert.Equal(t, "Plan confirmed.", lastAI(snap.Messages))
	})
}

func TestResumeWithoutPendingInterrupt(t *testing.T) {
	registry := setupTestRegistry(t)
	rt, err := registry.Get(SimpleChatbot)
	require.NoError(t, err)

	run, err := rt.Stream(context.Background(), ResumeWith("yes"), RunConfig{ThreadID: "fresh"})
	require.NoError(t, err)
	envs := collect(t, run)
	assert.Empty(t, envs)
	assert.ErrorIs(t, run.Err(), ErrNothingToResume)
}

func TestStreamRequiresThread(t *testing.T) {
	registry := setupTestRegistry(t)
	rt, err := registry.Get(SimpleChatbot)
	require.NoError(t, err)

	_, err = rt.Stream(context.Background(), NewTurn(HumanMessage("x")), RunConfig{})
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	g, err := NewGraph("slow", nil, zerolog.Nop(), Node{
		Name: "talk",
		Run: func(ctx context.Context, nc *NodeContext) (NodeResult, error) {
			for i := 0; i < 1000; i++ {
				if err := nc.Token("x"); err != nil {
					return NodeResult{}, err
				}
			}
			return NodeResult{}, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := g.Stream(ctx, NewTurn(HumanMessage("go")), RunConfig{ThreadID: "t"})
	require.NoError(t, err)

	<-run.Envelopes() // start delta
	<-run.Envelopes() // first token
	cancel()

	// the producer exits and closes the channel without a reader draining it
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-run.Envelopes():
			if !ok {
				assert.ErrorIs(t, run.Err(), context.Canceled)
				return
			}
		case <-deadline:
			t.Fatal("run did not stop after cancel")
		}
	}
}

func TestNodeErrorEndsRun(t *testing.T) {
	boom := errors.New("boom")
	g, err := NewGraph("failing", nil, zerolog.Nop(),
		Node{Name: "first", Run: func(ctx context.Context, nc *NodeContext) (NodeResult, error) {
			return NodeResult{Messages: []Message{AIMessage("partial")}}, nil
		}},
		Node{Name: "second", Run: func(ctx context.Context, nc *NodeContext) (NodeResult, error) {
			return NodeResult{}, boom
		}},
	)
	require.NoError(t, err)

	run, err := g.Stream(context.Background(), NewTurn(HumanMessage("go")), RunConfig{ThreadID: "t"})
	require.NoError(t, err)
	envs := collect(t, run)

	assert.Len(t, envs, 2)
	assert.ErrorIs(t, run.Err(), boom)
}

func TestGotoLoopIsBounded(t *testing.T) {
	g, err := NewGraph("loop", nil, zerolog.Nop(), Node{
		Name: "spin",
		Run: func(ctx context.Context, nc *NodeContext) (NodeResult, error) {
			return NodeResult{Goto: "spin"}, nil
		},
	})
	require.NoError(t, err)

	run, err := g.Stream(context.Background(), NewTurn(HumanMessage("go")), RunConfig{ThreadID: "t"})
	require.NoError(t, err)
	collect(t, run)
	assert.ErrorContains(t, run.Err(), "maximum graph steps")
}

func TestNewGraphValidation(t *testing.T) {
	_, err := NewGraph("empty", nil, zerolog.Nop())
	assert.Error(t, err)

	noop := func(ctx context.Context, nc *NodeContext) (NodeResult, error) { return NodeResult{}, nil }
	_, err = NewGraph("dup", nil, zerolog.Nop(), Node{Name: "a", Run: noop}, Node{Name: "a", Run: noop})
	assert.Error(t, err)
}

func TestStaticRun(t *testing.T) {
	boom := errors.New("upstream")
	run := NewStaticRun(context.Background(), []Envelope{
		CustomEnvelope(CustomMessage(RoleCustom, map[string]any{"a": 1})),
	}, boom)

	envs := collect(t, run)
	assert.Len(t, envs, 1)
	assert.ErrorIs(t, run.Err(), boom)
}
