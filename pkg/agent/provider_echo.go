package agent

import (
	"context"
	"strings"
)

// EchoProvider is a deterministic offline provider. It answers with the last
// human message, streamed word by word. It serves models without a
// configured API key.
type EchoProvider struct {
	Prefix string
}

// NewEchoProvider creates an echo provider
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{Prefix: "You said: "}
}

// Provider returns the provider name
func (p *EchoProvider) Provider() string {
	return "echo"
}

// Stream emits the reply one word at a time.
func (p *EchoProvider) Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error) {
	last := ""
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == RoleHuman {
			last = request.Messages[i].Text()
			break
		}
	}

	reply := p.Prefix + last
	for _, piece := range splitWords(reply) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		onDelta(piece)
	}

	return &LLMResponse{
		Content: reply,
		Usage: &TokenUsage{
			InputTokens:  EstimateTokens(request.Messages),
			OutputTokens: (len(reply) + 3) / 4,
		},
	}, nil
}

// splitWords splits s into pieces that concatenate back to s, each piece a
// word followed by its trailing whitespace.
func splitWords(s string) []string {
	var pieces []string
	for len(s) > 0 {
		i := strings.IndexAny(s, " \n\t")
		if i < 0 {
			pieces = append(pieces, s)
			break
		}
		j := i
		for j < len(s) && strings.ContainsRune(" \n\t", rune(s[j])) {
			j++
		}
		pieces = append(pieces, s[:j])
		s = s[j:]
	}
	return pieces
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Text())
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}
