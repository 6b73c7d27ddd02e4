package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentgate/pkg/prompts"
	"github.com/rs/zerolog"
)

// Built-in agent names.
const (
	SimpleChatbot          = "simple_chatbot"
	WorkflowExplainChatbot = "workflow_explain_chatbot"
	WorkflowPlannerChatbot = "workflow_planner_chatbot"
)

// reviewQuestion is surfaced to the client when a drafted plan awaits approval.
const reviewQuestion = "Does this plan look right? Reply \"yes\" to confirm it, or describe what to change."

// PromptSource renders agent system prompts. Both *prompts.Set and
// *prompts.Live satisfy it.
type PromptSource interface {
	Description(agent string) string
	Render(agent string, data map[string]any) (string, error)
}

// Deps are the collaborators of the built-in agents.
type Deps struct {
	Providers    *Providers
	Prompts      PromptSource
	Checkpointer Checkpointer
	Logger       zerolog.Logger
	DefaultModel string
}

// Builtin returns the built-in agents sharing deps.
func Builtin(deps Deps) ([]Entry, error) {
	if deps.Providers == nil {
		deps.Providers = NewStaticProviders(NewEchoProvider())
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	if deps.Checkpointer == nil {
		deps.Checkpointer = NewMemoryCheckpointer()
	}

	b := &builder{deps: deps}

	simple, err := NewGraph(SimpleChatbot, deps.Checkpointer, deps.Logger,
		Node{Name: "chat", Run: b.chat(SimpleChatbot)},
	)
	if err != nil {
		return nil, err
	}

	explain, err := NewGraph(WorkflowExplainChatbot, deps.Checkpointer, deps.Logger,
		Node{Name: "chat", Run: b.chat(WorkflowExplainChatbot)},
	)
	if err != nil {
		return nil, err
	}

	planner, err := NewGraph(WorkflowPlannerChatbot, deps.Checkpointer, deps.Logger,
		Node{Name: "planner", Run: b.plan, Tags: []string{TagSkipStream}},
		Node{Name: "review", Run: b.review},
	)
	if err != nil {
		return nil, err
	}

	entry := func(key string, rt Runtime) Entry {
		return Entry{Info: Info{Key: key, Description: deps.Prompts.Description(key)}, Runtime: rt}
	}
	return []Entry{
		entry(SimpleChatbot, simple),
		entry(WorkflowExplainChatbot, explain),
		entry(WorkflowPlannerChatbot, planner),
	}, nil
}

type builder struct {
	deps Deps
}

func (b *builder) model(rc RunConfig) string {
	if rc.Model != "" {
		return rc.Model
	}
	return b.deps.DefaultModel
}

// complete renders the agent prompt and streams a completion through nc.
func (b *builder) complete(ctx context.Context, agent string, nc *NodeContext, history []Message) (string, error) {
	system, err := b.deps.Prompts.Render(agent, nc.Config.Metadata)
	if err != nil {
		return "", err
	}

	var sendErr error
	response, err := b.deps.Providers.StreamWithRetry(ctx, LLMRequest{
		Model:        b.model(nc.Config),
		Messages:     history,
		SystemPrompt: system,
	}, func(delta string) {
		if sendErr == nil {
			sendErr = nc.Token(delta)
		}
	})
	if sendErr != nil {
		return "", sendErr
	}
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return response.Content, nil
}

func (b *builder) chat(agent string) NodeFunc {
	return func(ctx context.Context, nc *NodeContext) (NodeResult, error) {
		content, err := b.complete(ctx, agent, nc, conversation(nc.Messages))
		if err != nil {
			return NodeResult{}, err
		}
		return NodeResult{Messages: []Message{AIMessage(content)}}, nil
	}
}

// plan drafts a workflow plan and publishes it as a workflow_plan artifact.
func (b *builder) plan(ctx context.Context, nc *NodeContext) (NodeResult, error) {
	var history []Message
	for _, m := range nc.Messages {
		if m.Role != RoleTool && !m.Role.IsCustom() {
			history = append(history, m)
		}
	}

	content, err := b.complete(ctx, WorkflowPlannerChatbot, nc, history)
	if err != nil {
		return NodeResult{}, err
	}

	if err := nc.Custom(RoleWorkflowPlan, map[string]any{"plan": content}); err != nil {
		return NodeResult{}, err
	}
	return NodeResult{Messages: []Message{AIMessage(content)}}, nil
}

// review asks the user to approve the latest plan. Approval ends the run;
// anything else is recorded as feedback and the plan is redrafted.
func (b *builder) review(ctx context.Context, nc *NodeContext) (NodeResult, error) {
	answer, err := nc.Interrupt(reviewQuestion)
	if err != nil {
		return NodeResult{}, err
	}

	text := strings.TrimSpace(fmt.Sprintf("%v", answer))
	if isApproval(text) {
		plan := lastAI(nc.Messages)
		if err := nc.Custom(RoleWorkflowConfig, map[string]any{"plan": plan, "approved": true}); err != nil {
			return NodeResult{}, err
		}
		return NodeResult{
			Messages: []Message{HumanMessage(text), AIMessage("Plan confirmed.")},
			Goto:     End,
		}, nil
	}

	return NodeResult{Messages: []Message{HumanMessage(text)}, Goto: "planner"}, nil
}

func isApproval(s string) bool {
	switch strings.ToLower(strings.Trim(s, " .!")) {
	case "yes", "y", "ok", "okay", "approve", "approved", "confirm", "lgtm":
		return true
	}
	return false
}

// conversation keeps the human and ai turns of history.
func conversation(messages []Message) []Message {
	var out []Message
	for _, m := range messages {
		if m.Role == RoleHuman || m.Role == RoleAI {
			out = append(out, m)
		}
	}
	return out
}

func lastAI(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAI {
			return messages[i].Text()
		}
	}
	return ""
}
