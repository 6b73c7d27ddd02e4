package stream

import (
	"fmt"

	"github.com/harun/agentgate/pkg/agent"
)

// Rule rewrites the messages a node committed before they are shown.
type Rule func(node string, messages []any) ([]any, error)

// Rules maps source node names to rewrite rules. Nodes without a rule pass
// through unchanged. Rules values are immutable; With returns a copy.
type Rules struct {
	byNode map[string]Rule
}

// NewRules returns an empty rule table.
func NewRules() *Rules {
	return &Rules{byNode: map[string]Rule{}}
}

// DefaultRules returns the rules for the supervisor and delegated nodes.
func DefaultRules() *Rules {
	return NewRules().
		With("supervisor", LastAIOnly).
		With("research_expert", AsToolResult).
		With("math_expert", AsToolResult).
		With("feature_extraction", AsToolResult)
}

// With returns a copy of r with rule registered for node.
func (r *Rules) With(node string, rule Rule) *Rules {
	out := &Rules{byNode: make(map[string]Rule, len(r.byNode)+1)}
	for k, v := range r.byNode {
		out.byNode[k] = v
	}
	out.byNode[node] = rule
	return out
}

// Apply rewrites messages produced by node.
func (r *Rules) Apply(node string, messages []any) ([]any, error) {
	if r == nil {
		return messages, nil
	}
	rule, ok := r.byNode[node]
	if !ok {
		return messages, nil
	}
	return rule(node, messages)
}

// LastAIOnly keeps only the newest assistant message. Routing nodes replay
// the conversation, and only their latest decision is new. A batch without
// assistant messages is left unchanged.
func LastAIOnly(node string, messages []any) ([]any, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if m, ok := asMessage(messages[i]); ok && m.Role == agent.RoleAI {
			return []any{m}, nil
		}
	}
	return messages, nil
}

// AsToolResult relabels a delegated node's first message as a tool result
// named after the node.
func AsToolResult(node string, messages []any) ([]any, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("node %s: no message to relabel", node)
	}
	m, ok := asMessage(messages[0])
	if !ok {
		return nil, fmt.Errorf("node %s: %w: item of type %T", node, ErrUnsupportedMessage, messages[0])
	}
	empty := ""
	return []any{agent.Message{
		Role:       agent.RoleTool,
		Content:    m.Text(),
		Name:       node,
		ToolCallID: &empty,
	}}, nil
}

func asMessage(item any) (agent.Message, bool) {
	switch v := item.(type) {
	case agent.Message:
		return v, true
	case *agent.Message:
		if v != nil {
			return *v, true
		}
	}
	return agent.Message{}, false
}
