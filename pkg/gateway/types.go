package gateway

import (
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/stream"
)

// HistoryRequest is the body of POST /history.
type HistoryRequest struct {
	ThreadID string `json:"thread_id"`
	AgentID  string `json:"agent_id,omitempty"`
}

// HistoryResponse lists the messages of a thread, oldest first.
type HistoryResponse struct {
	Messages []stream.ChatMessage `json:"messages"`
}

// ServiceMetadata is returned by GET /info.
type ServiceMetadata struct {
	Agents       []agent.Info `json:"agents"`
	Models       []string     `json:"models"`
	DefaultAgent string       `json:"default_agent"`
	DefaultModel string       `json:"default_model"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
