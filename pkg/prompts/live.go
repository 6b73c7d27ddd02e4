package prompts

import (
	"sync/atomic"
)

// Live serves the most recently loaded Set for a prompts file. Reload swaps
// the whole Set, so a render never observes a half-applied file.
type Live struct {
	path    string
	current atomic.Pointer[Set]
}

// NewLive loads path and returns a Live serving it.
func NewLive(path string) (*Live, error) {
	set, err := Load(path)
	if err != nil {
		return nil, err
	}
	l := &Live{path: path}
	l.current.Store(set)
	return l, nil
}

// Path returns the watched prompts file.
func (l *Live) Path() string {
	return l.path
}

// Current returns the active Set.
func (l *Live) Current() *Set {
	return l.current.Load()
}

// Reload re-reads the file. On error the active Set is kept.
func (l *Live) Reload() error {
	set, err := Load(l.path)
	if err != nil {
		return err
	}
	l.current.Store(set)
	return nil
}

// Description returns the agent description from the active Set.
func (l *Live) Description(agent string) string {
	return l.Current().Description(agent)
}

// Render renders the agent prompt from the active Set.
func (l *Live) Render(agent string, data map[string]any) (string, error) {
	return l.Current().Render(agent, data)
}
