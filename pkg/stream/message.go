package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/agentgate/pkg/agent"
)

var (
	// ErrUnknownEnvelope is returned for an envelope whose kind is not part
	// of the union.
	ErrUnknownEnvelope = errors.New("unknown envelope kind")
	// ErrUnsupportedMessage is returned for items that cannot be rendered
	// as a ChatMessage.
	ErrUnsupportedMessage = errors.New("unsupported message")
)

// ChatMessage is the client-facing message. It is never modified after it
// has been written to a client.
type ChatMessage struct {
	Type             string           `json:"type"`
	Content          string           `json:"content"`
	ToolCalls        []agent.ToolCall `json:"tool_calls"`
	ToolCallID       *string          `json:"tool_call_id"`
	RunID            *string          `json:"run_id"`
	ResponseMetadata map[string]any   `json:"response_metadata"`
	CustomData       map[string]any   `json:"custom_data"`
}

// FromAgentMessage renders a runtime message for the client.
func FromAgentMessage(m agent.Message) (ChatMessage, error) {
	out := ChatMessage{
		Type:             string(m.Role),
		ToolCalls:        []agent.ToolCall{},
		ResponseMetadata: map[string]any{},
		CustomData:       map[string]any{},
	}

	switch {
	case m.Role == agent.RoleHuman:
		out.Content = m.Text()
	case m.Role == agent.RoleAI:
		out.Content = m.Text()
		for _, tc := range m.ToolCalls {
			if tc.Type == "" {
				tc.Type = "tool_call"
			}
			if tc.Args == nil {
				tc.Args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, tc)
		}
		if m.ResponseMetadata != nil {
			out.ResponseMetadata = m.ResponseMetadata
		}
	case m.Role == agent.RoleTool:
		out.Content = m.Text()
		id := ""
		if m.ToolCallID != nil {
			id = *m.ToolCallID
		}
		out.ToolCallID = &id
	case m.Role.IsCustom():
		if m.CustomData == nil {
			return ChatMessage{}, fmt.Errorf("%w: %s message without data", ErrUnsupportedMessage, m.Role)
		}
		out.CustomData = m.CustomData
	default:
		return ChatMessage{}, fmt.Errorf("%w: role %q", ErrUnsupportedMessage, m.Role)
	}

	return out, nil
}

// ToHistory renders a thread transcript in order.
func ToHistory(messages []agent.Message) ([]ChatMessage, error) {
	out := make([]ChatMessage, 0, len(messages))
	for i, m := range messages {
		cm, err := FromAgentMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, cm)
	}
	return out, nil
}

// stringify renders an interrupt value as message content.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
