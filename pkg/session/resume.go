package session

import (
	"context"
	"fmt"

	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Resume decisions.
const (
	DecisionNewTurn = "new_turn"
	DecisionResume  = "resume"
)

// Decide picks the run input for message. When the thread is waiting on an
// interrupt the raw message is the resume value; otherwise it starts a new
// turn as a human message. Several interrupted tasks still get a single
// resume.
func Decide(ctx context.Context, logger zerolog.Logger, agentName string, rt agent.Runtime, rc agent.RunConfig, message string) (agent.Input, error) {
	ctx, span := tracing.StartSpan(ctx, "agentgate.session", "session.decide")
	defer span.End()

	snapshot, err := rt.State(ctx, rc)
	if err != nil {
		tracing.RecordError(span, err)
		return agent.Input{}, fmt.Errorf("failed to read thread state: %w", err)
	}

	decision := DecisionNewTurn
	input := agent.NewTurn(agent.HumanMessage(message))
	if snapshot.Interrupted() {
		decision = DecisionResume
		input = agent.ResumeWith(message)
	}

	span.SetAttributes(attribute.String("decision", decision))
	observability.RecordResumeDecision(agentName, decision)
	decisionLogger := tracing.LoggerFromContext(ctx, logger)
	decisionLogger.Debug().
		Str("decision", decision).
		Msg("Run input decided")

	return input, nil
}
