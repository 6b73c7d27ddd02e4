package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/stream"
	"go.opentelemetry.io/otel/attribute"
)

// ErrThreadNotFound is returned when a thread has no recorded messages.
var ErrThreadNotFound = errors.New("thread not found")

// HistoryReader renders the stored conversation of a thread.
type HistoryReader struct {
	registry     *agent.Registry
	defaultAgent string
}

// NewHistoryReader creates a reader. defaultAgent is used when a request
// names no agent; when it is not registered the registry default is used.
func NewHistoryReader(registry *agent.Registry, defaultAgent string) *HistoryReader {
	if defaultAgent == "" || !registry.Has(defaultAgent) {
		defaultAgent = registry.Default()
	}
	return &HistoryReader{registry: registry, defaultAgent: defaultAgent}
}

// Read returns the messages of threadID, oldest first.
func (h *HistoryReader) Read(ctx context.Context, threadID, agentName string) ([]stream.ChatMessage, error) {
	if agentName == "" {
		agentName = h.defaultAgent
	}
	ctx, span := tracing.StartSpan(ctx, "agentgate.session", "session.history",
		attribute.String("thread_id", threadID),
		attribute.String("agent", agentName),
	)
	defer span.End()

	rt, err := h.registry.Get(agentName)
	if err != nil {
		return nil, err
	}

	snapshot, err := rt.State(ctx, agent.RunConfig{ThreadID: threadID})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to read thread state: %w", err)
	}
	if !snapshot.Exists || len(snapshot.Messages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	messages, err := stream.ToHistory(snapshot.Messages)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to render history: %w", err)
	}
	span.SetAttributes(attribute.Int("messages", len(messages)))
	return messages, nil
}
