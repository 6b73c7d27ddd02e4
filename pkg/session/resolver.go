package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/harun/agentgate/internal/observability"
	"github.com/harun/agentgate/internal/tracing"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrConfigConflict is returned when agent_config tries to set a reserved
// key.
var ErrConfigConflict = errors.New("agent_config contains reserved keys")

// reservedKeys are owned by the service and cannot be overridden.
var reservedKeys = []string{"thread_id", "user_id", "model"}

// Request is the body of a streaming request.
type Request struct {
	Message               string         `json:"message"`
	ThreadID              string         `json:"thread_id,omitempty"`
	UserID                string         `json:"user_id,omitempty"`
	Model                 string         `json:"model,omitempty"`
	AgentConfig           map[string]any `json:"agent_config,omitempty"`
	CategoryConfig        map[string]any `json:"category_config,omitempty"`
	WorkflowJSONData      map[string]any `json:"workflow_json_data,omitempty"`
	SchemasAnalysisConfig map[string]any `json:"schemas_analysis_config,omitempty"`
	DataCleaningConfig    map[string]any `json:"data_cleaning_config,omitempty"`
	WorkflowPlan          string         `json:"workflow_plan,omitempty"`
	StreamTokens          *bool          `json:"stream_tokens,omitempty"`
}

// TokensEnabled reports whether token frames were requested. The default is
// on.
func (r Request) TokensEnabled() bool {
	return r.StreamTokens == nil || *r.StreamTokens
}

// Identity names one run and the conversation it belongs to.
type Identity struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// Turn is everything needed to start a run.
type Turn struct {
	Agent    string
	Identity Identity
	Config   agent.RunConfig
	Input    agent.Input
	Runtime  agent.Runtime
}

// Resolver turns requests into runs.
type Resolver struct {
	index        threadindex.Store
	registry     *agent.Registry
	defaultModel string
	logger       zerolog.Logger
}

// NewResolver creates a resolver recording threads in index.
func NewResolver(index threadindex.Store, registry *agent.Registry, defaultModel string, logger zerolog.Logger) *Resolver {
	observability.EnsureRegistered()
	return &Resolver{
		index:        index,
		registry:     registry,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// Prepare resolves req for the named agent and decides whether the run
// starts a new turn or resumes an interrupted one.
func (r *Resolver) Prepare(ctx context.Context, agentName string, req Request) (*Turn, error) {
	rt, err := r.registry.Get(agentName)
	if err != nil {
		return nil, err
	}

	id, rc, err := r.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx = tracing.NewRunContext(ctx, agentName, id.RunID, id.ThreadID, id.UserID)
	input, err := Decide(ctx, r.logger, agentName, rt, rc, req.Message)
	if err != nil {
		return nil, err
	}

	return &Turn{
		Agent:    agentName,
		Identity: id,
		Config:   rc,
		Input:    input,
		Runtime:  rt,
	}, nil
}

// Resolve assigns identities, records the thread for the user and builds the
// run configuration. Nothing is recorded when the request is rejected.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Identity, agent.RunConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "agentgate.session", "session.resolve")
	defer span.End()

	if err := checkReserved(req.AgentConfig); err != nil {
		tracing.RecordError(span, err)
		return Identity{}, agent.RunConfig{}, err
	}

	id := Identity{
		RunID:    tracing.NewRunID(),
		ThreadID: req.ThreadID,
		UserID:   req.UserID,
	}
	if id.UserID == "" {
		id.UserID = uuid.New().String()
	}
	if id.ThreadID == "" {
		id.ThreadID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("run_id", id.RunID),
		attribute.String("thread_id", id.ThreadID),
		attribute.String("user_id", id.UserID),
	)

	if err := r.index.Append(ctx, id.UserID, id.ThreadID); err != nil {
		tracing.RecordError(span, err)
		observability.RecordThreadAudit(ctx, id.UserID, id.ThreadID, "failure")
		return Identity{}, agent.RunConfig{}, fmt.Errorf("failed to record thread: %w", err)
	}
	observability.RecordThreadAudit(ctx, id.UserID, id.ThreadID, "success")

	model := req.Model
	if model == "" {
		model = r.defaultModel
	}

	configurable := map[string]any{
		"thread_id": id.ThreadID,
		"user_id":   id.UserID,
		"model":     model,
	}
	for k, v := range req.AgentConfig {
		configurable[k] = v
	}

	rc := agent.RunConfig{
		RunID:        id.RunID,
		ThreadID:     id.ThreadID,
		UserID:       id.UserID,
		Model:        model,
		Configurable: configurable,
		Metadata:     MergeMetadata(req),
	}

	logger := tracing.LoggerFromContext(tracing.NewRunContext(ctx, "", id.RunID, id.ThreadID, id.UserID), r.logger)
	logger.Debug().
		Str("model", model).
		Int("metadata_keys", len(rc.Metadata)).
		Msg("Request resolved")

	return id, rc, nil
}

func checkReserved(agentConfig map[string]any) error {
	var overlap []string
	for _, k := range reservedKeys {
		if _, ok := agentConfig[k]; ok {
			overlap = append(overlap, k)
		}
	}
	if len(overlap) == 0 {
		return nil
	}
	sort.Strings(overlap)
	return fmt.Errorf("%w: %s", ErrConfigConflict, strings.Join(overlap, ", "))
}

// MergeMetadata flattens the domain maps of req into one metadata map. Later
// sources win: category_config, workflow_json_data, schemas_analysis_config,
// data_cleaning_config, then workflow_plan.
func MergeMetadata(req Request) map[string]any {
	out := make(map[string]any)
	for _, src := range []map[string]any{
		req.CategoryConfig,
		req.WorkflowJSONData,
		req.SchemasAnalysisConfig,
		req.DataCleaningConfig,
	} {
		for k, v := range src {
			out[k] = v
		}
	}
	if req.WorkflowPlan != "" {
		out["workflow_plan"] = req.WorkflowPlan
	}
	return out
}
