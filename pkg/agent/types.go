package agent

import (
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleHuman          Role = "human"
	RoleAI             Role = "ai"
	RoleTool           Role = "tool"
	RoleSystem         Role = "system"
	RoleCustom         Role = "custom"
	RoleWorkflowConfig Role = "workflow_config"
	RoleWorkflowPlan   Role = "workflow_plan"
)

// IsCustom reports whether r is an out-of-band role. Every role outside the
// conversational set is one, so nodes can declare their own artifact kinds.
func (r Role) IsCustom() bool {
	switch r {
	case "", RoleHuman, RoleAI, RoleTool, RoleSystem:
		return false
	}
	return true
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
	ID   *string        `json:"id"`
	Type string         `json:"type,omitempty"`
}

// ContentPart is one block of structured message content.
type ContentPart struct {
	Type  string         `json:"type"` // "text" or "tool_use"
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// Message is a message as recorded in the agent state.
//
// Content holds plain text. Parts, when set, hold structured content as
// returned by providers that mix text and tool-use blocks; Text() flattens
// them.
type Message struct {
	Role             Role           `json:"role"`
	Content          string         `json:"content"`
	Parts            []ContentPart  `json:"parts,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID       *string        `json:"tool_call_id,omitempty"`
	Name             string         `json:"name,omitempty"`
	ID               string         `json:"id,omitempty"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`
	CustomData       map[string]any `json:"custom_data,omitempty"`

	// Chunk marks an incremental assistant piece produced while a model
	// call is still streaming.
	Chunk bool `json:"-"`
}

// Text returns the textual content, joining text parts when present.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HumanMessage builds a human message.
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// AIMessage builds an assistant message.
func AIMessage(content string) Message {
	return Message{Role: RoleAI, Content: content}
}

// CustomMessage builds an out-of-band message carrying data.
func CustomMessage(role Role, data map[string]any) Message {
	return Message{Role: role, CustomData: data}
}

// Field is one (name, value) piece of a message that is being delivered
// field by field instead of as a whole record.
type Field struct {
	Name  string
	Value any
}

// Interrupt is raised by a node that needs external input before it can
// continue. Value is shown to the client.
type Interrupt struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Kind discriminates the envelope union.
type Kind string

const (
	KindDelta    Kind = "delta"
	KindFragment Kind = "fragment"
	KindCustom   Kind = "custom"
)

// InterruptNode is the pseudo node name under which pending interrupts are
// reported in a delta.
const InterruptNode = "__interrupt__"

// StartNode is the pseudo node name under which the run input is reported.
const StartNode = "__start__"

// TagSkipStream marks fragments that must never reach the client.
const TagSkipStream = "skip_stream"

// Update is the committed state change of one execution step.
//
// Messages items are Message values, or Field values when a message is
// delivered field by field. Interrupts is only set for InterruptNode.
type Update struct {
	Node       string
	Messages   []any
	Interrupts []Interrupt
}

// Fragment is one streamed slice of an in-progress message.
type Fragment struct {
	Message Message
	Node    string
	Tags    []string
}

// HasTag reports whether the fragment carries tag.
func (f Fragment) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Envelope is one event of a run. Exactly one of Updates, Fragment or
// Custom is meaningful, selected by Kind.
type Envelope struct {
	Kind     Kind
	Updates  []Update
	Fragment *Fragment
	Custom   *Message
}

// DeltaEnvelope builds a delta envelope.
func DeltaEnvelope(updates ...Update) Envelope {
	return Envelope{Kind: KindDelta, Updates: updates}
}

// FragmentEnvelope builds a fragment envelope.
func FragmentEnvelope(f Fragment) Envelope {
	return Envelope{Kind: KindFragment, Fragment: &f}
}

// CustomEnvelope builds a custom envelope.
func CustomEnvelope(m Message) Envelope {
	return Envelope{Kind: KindCustom, Custom: &m}
}

// Task is a unit of pending work recorded in a snapshot.
type Task struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Interrupts []Interrupt `json:"interrupts,omitempty"`
}

// Snapshot is the point-in-time state of a thread.
type Snapshot struct {
	ThreadID  string    `json:"thread_id"`
	Messages  []Message `json:"messages"`
	Tasks     []Task    `json:"tasks,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Exists    bool      `json:"exists"`
}

// Interrupted reports whether any task carries an unresolved interrupt.
func (s Snapshot) Interrupted() bool {
	for _, t := range s.Tasks {
		if len(t.Interrupts) > 0 {
			return true
		}
	}
	return false
}

// Resume carries the value that continues an interrupted run.
type Resume struct {
	Value any
}

// Input is what a run starts from: either new messages or a resume value.
type Input struct {
	Messages []Message
	Resume   *Resume
}

// NewTurn builds an input appending msg to the conversation.
func NewTurn(msg Message) Input {
	return Input{Messages: []Message{msg}}
}

// ResumeWith builds an input continuing an interrupted run with value.
func ResumeWith(value any) Input {
	return Input{Resume: &Resume{Value: value}}
}

// IsResume reports whether the input resumes an interrupted run.
func (in Input) IsResume() bool {
	return in.Resume != nil
}

// RunConfig identifies a run and carries caller supplied settings.
type RunConfig struct {
	RunID        string
	ThreadID     string
	UserID       string
	Model        string
	Configurable map[string]any
	Metadata     map[string]any
}

// MetadataString returns a metadata value as a string, or "".
func (rc RunConfig) MetadataString(key string) string {
	if v, ok := rc.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
