package stream

import (
	"fmt"

	"github.com/harun/agentgate/pkg/agent"
)

// Accumulator reassembles a message that arrives as a run of (name, value)
// fields. At most one message is pending at any time.
type Accumulator struct {
	fields map[string]any
}

// Add records a field; a later value for the same name wins.
func (a *Accumulator) Add(f agent.Field) {
	if a.fields == nil {
		a.fields = make(map[string]any)
	}
	a.fields[f.Name] = f.Value
}

// Pending reports whether fields are buffered.
func (a *Accumulator) Pending() bool {
	return len(a.fields) > 0
}

// Reset drops the buffer.
func (a *Accumulator) Reset() {
	a.fields = nil
}

// Flush builds an assistant message from the recognized fields and resets
// the buffer. Unrecognized fields are dropped. A recognized field with a
// value of the wrong type is an error.
func (a *Accumulator) Flush() (agent.Message, error) {
	fields := a.fields
	a.fields = nil

	msg := agent.AIMessage("")
	for name, value := range fields {
		switch name {
		case "content":
			switch v := value.(type) {
			case string:
				msg.Content = v
			case []agent.ContentPart:
				msg.Parts = v
			default:
				return agent.Message{}, fmt.Errorf("field content: unexpected type %T", value)
			}
		case "tool_calls":
			v, ok := value.([]agent.ToolCall)
			if !ok {
				return agent.Message{}, fmt.Errorf("field tool_calls: unexpected type %T", value)
			}
			msg.ToolCalls = v
		case "id":
			v, ok := value.(string)
			if !ok {
				return agent.Message{}, fmt.Errorf("field id: unexpected type %T", value)
			}
			msg.ID = v
		case "name":
			v, ok := value.(string)
			if !ok {
				return agent.Message{}, fmt.Errorf("field name: unexpected type %T", value)
			}
			msg.Name = v
		case "response_metadata":
			v, ok := value.(map[string]any)
			if !ok {
				return agent.Message{}, fmt.Errorf("field response_metadata: unexpected type %T", value)
			}
			msg.ResponseMetadata = v
		case "tool_call_id":
			v, ok := value.(string)
			if !ok {
				return agent.Message{}, fmt.Errorf("field tool_call_id: unexpected type %T", value)
			}
			msg.ToolCallID = &v
		case "custom_data":
			v, ok := value.(map[string]any)
			if !ok {
				return agent.Message{}, fmt.Errorf("field custom_data: unexpected type %T", value)
			}
			msg.CustomData = v
		}
	}
	return msg, nil
}
