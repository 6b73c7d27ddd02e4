package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// End is the Goto target that finishes a run.
const End = "__end__"

const defaultMaxSteps = 25

// NodeFunc executes one graph step.
type NodeFunc func(ctx context.Context, nc *NodeContext) (NodeResult, error)

// Node is a named step of a graph.
type Node struct {
	Name string
	Run  NodeFunc
	// Tags are attached to every fragment the node streams.
	Tags []string
}

// NodeResult is what a node commits to the thread state.
type NodeResult struct {
	Messages []Message
	// Goto names the next node. Empty continues with the following node;
	// End finishes the run.
	Goto string
}

// InterruptError pauses the run until a resume value arrives.
type InterruptError struct {
	Interrupt Interrupt
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupted: %v", e.Interrupt.Value)
}

// NodeContext is the per-step view a node gets of the run.
type NodeContext struct {
	Config   RunConfig
	Messages []Message

	node   *Node
	send   func(Envelope) error
	resume *Resume
}

// Token streams text as an assistant chunk.
func (nc *NodeContext) Token(text string) error {
	return nc.send(FragmentEnvelope(Fragment{
		Message: Message{Role: RoleAI, Content: text, Chunk: true},
		Node:    nc.node.Name,
		Tags:    nc.node.Tags,
	}))
}

// Custom sends out-of-band data to the client.
func (nc *NodeContext) Custom(role Role, data map[string]any) error {
	return nc.send(CustomEnvelope(CustomMessage(role, data)))
}

// Interrupt pauses the run and surfaces value to the client. When the node
// is re-executed on resume, Interrupt returns the resume value instead.
func (nc *NodeContext) Interrupt(value any) (any, error) {
	if nc.resume != nil {
		v := nc.resume.Value
		nc.resume = nil
		return v, nil
	}
	return nil, &InterruptError{Interrupt: Interrupt{ID: uuid.NewString(), Value: value}}
}

// Graph is a small sequential state graph with checkpointing and
// interrupt/resume support.
type Graph struct {
	name     string
	nodes    []Node
	index    map[string]int
	cp       Checkpointer
	logger   zerolog.Logger
	maxSteps int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewGraph builds a graph whose nodes run in the given order.
func NewGraph(name string, cp Checkpointer, logger zerolog.Logger, nodes ...Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("graph %s has no nodes", name)
	}
	if cp == nil {
		cp = NewMemoryCheckpointer()
	}

	g := &Graph{
		name:     name,
		nodes:    nodes,
		index:    make(map[string]int, len(nodes)),
		cp:       cp,
		logger:   logger.With().Str("agent_id", name).Logger(),
		maxSteps: defaultMaxSteps,
		locks:    make(map[string]*sync.Mutex),
	}
	for i, n := range nodes {
		if n.Name == "" || n.Run == nil {
			return nil, fmt.Errorf("graph %s: invalid node at %d", name, i)
		}
		if _, dup := g.index[n.Name]; dup {
			return nil, fmt.Errorf("graph %s: duplicate node %s", name, n.Name)
		}
		g.index[n.Name] = i
	}
	return g, nil
}

// getThreadLock gets or creates the lock serializing runs of one thread
func (g *Graph) getThreadLock(threadID string) *sync.Mutex {
	g.locksMu.Lock()
	defer g.locksMu.Unlock()

	if lock, exists := g.locks[threadID]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	g.locks[threadID] = lock
	return lock
}

// State returns the thread snapshot.
func (g *Graph) State(ctx context.Context, rc RunConfig) (Snapshot, error) {
	cp, ok, err := g.cp.Get(ctx, rc.ThreadID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	snap := Snapshot{
		ThreadID:  rc.ThreadID,
		Messages:  cp.Messages,
		UpdatedAt: cp.UpdatedAt,
		Exists:    ok,
	}
	if cp.Pending != nil {
		snap.Tasks = []Task{{
			ID:         cp.Pending.ID,
			Name:       cp.Pending.Node,
			Interrupts: []Interrupt{cp.Pending.Interrupt},
		}}
	}
	return snap, nil
}

// Stream starts a run in its own goroutine.
func (g *Graph) Stream(ctx context.Context, input Input, rc RunConfig) (*Run, error) {
	if rc.ThreadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}

	run := newRun()
	go func() {
		defer close(run.envelopes)
		run.err = g.execute(ctx, run, input, rc)
	}()
	return run, nil
}

func (g *Graph) execute(ctx context.Context, run *Run, input Input, rc RunConfig) error {
	ctx, span := tracing.StartSpan(ctx, "agentgate.agent", "agent.run",
		attribute.String("agent", g.name),
		attribute.String("thread_id", rc.ThreadID),
		attribute.Bool("resume", input.IsResume()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, g.logger)

	lock := g.getThreadLock(rc.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	send := func(env Envelope) error {
		select {
		case run.envelopes <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := g.steps(ctx, send, input, rc, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		tracing.RecordError(span, err)
		logger.Error().Err(err).Msg("Agent run failed")
	}
	return err
}

func (g *Graph) steps(ctx context.Context, send func(Envelope) error, input Input, rc RunConfig, logger zerolog.Logger) error {
	cp, _, err := g.cp.Get(ctx, rc.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	idx := 0
	var resume *Resume
	if input.IsResume() {
		if cp.Pending == nil {
			return ErrNothingToResume
		}
		idx = g.index[cp.Pending.Node]
		resume = input.Resume
		cp.Pending = nil
	} else {
		// a new turn abandons any pending interrupt
		cp.Pending = nil
		cp.Messages = append(cp.Messages, input.Messages...)
		if err := g.cp.Put(ctx, rc.ThreadID, cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if err := send(DeltaEnvelope(Update{Node: StartNode, Messages: items(input.Messages)})); err != nil {
			return err
		}
	}

	for step := 0; step < g.maxSteps; step++ {
		node := &g.nodes[idx]
		nc := &NodeContext{
			Config:   rc,
			Messages: append([]Message(nil), cp.Messages...),
			node:     node,
			send:     send,
			resume:   resume,
		}
		resume = nil

		logger.Debug().Str("node", node.Name).Int("step", step).Msg("Running node")
		result, err := g.runNode(ctx, node, nc)

		var interrupt *InterruptError
		if errors.As(err, &interrupt) {
			cp.Pending = &PendingTask{
				ID:        uuid.NewString(),
				Node:      node.Name,
				Interrupt: interrupt.Interrupt,
			}
			if err := g.cp.Put(ctx, rc.ThreadID, cp); err != nil {
				return fmt.Errorf("failed to save checkpoint: %w", err)
			}
			logger.Info().Str("node", node.Name).Msg("Run interrupted")
			return send(DeltaEnvelope(Update{Node: InterruptNode, Interrupts: []Interrupt{interrupt.Interrupt}}))
		}
		if err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}

		cp.Messages = append(cp.Messages, result.Messages...)
		if err := g.cp.Put(ctx, rc.ThreadID, cp); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		if err := send(DeltaEnvelope(Update{Node: node.Name, Messages: items(result.Messages)})); err != nil {
			return err
		}

		switch result.Goto {
		case "":
			idx++
			if idx >= len(g.nodes) {
				return nil
			}
		case End:
			return nil
		default:
			next, ok := g.index[result.Goto]
			if !ok {
				return fmt.Errorf("node %s: unknown goto target %s", node.Name, result.Goto)
			}
			idx = next
		}
	}

	return fmt.Errorf("maximum graph steps (%d) exceeded", g.maxSteps)
}

func (g *Graph) runNode(ctx context.Context, node *Node, nc *NodeContext) (NodeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "agentgate.agent", "agent.node",
		attribute.String("node", node.Name),
	)
	defer span.End()

	result, err := node.Run(ctx, nc)
	var interrupt *InterruptError
	if err != nil && !errors.As(err, &interrupt) {
		tracing.RecordError(span, err)
	}
	return result, err
}

func items(messages []Message) []any {
	out := make([]any, len(messages))
	for i, m := range messages {
		out[i] = m
	}
	return out
}
