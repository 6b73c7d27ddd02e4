package stream

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	payloads  []string
	failAfter int // 0 means never
}

func (r *recorder) WriteFrame(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && len(r.payloads) >= r.failAfter {
		return errors.New("broken pipe")
	}
	r.payloads = append(r.payloads, string(payload))
	return nil
}

type decoded struct {
	Type    string
	Message ChatMessage
	Text    string
}

// frames decodes everything but the sentinel.
func (r *recorder) frames(t *testing.T) []decoded {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []decoded
	for _, p := range r.payloads {
		if p == Sentinel {
			continue
		}
		var raw struct {
			Type    string          `json:"type"`
			Content json.RawMessage `json:"content"`
		}
		require.NoError(t, json.Unmarshal([]byte(p), &raw))
		d := decoded{Type: raw.Type}
		if raw.Type == FrameMessage {
			require.NoError(t, json.Unmarshal(raw.Content, &d.Message))
		} else {
			require.NoError(t, json.Unmarshal(raw.Content, &d.Text))
		}
		out = append(out, d)
	}
	return out
}

func (r *recorder) sentinels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payloads {
		if p == Sentinel {
			n++
		}
	}
	return n
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return ""
	}
	return r.payloads[len(r.payloads)-1]
}
