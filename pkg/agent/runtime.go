package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrAgentNotFound is returned for an unknown agent name.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrNothingToResume is returned when a resume value targets a thread
	// without a pending interrupt.
	ErrNothingToResume = errors.New("no interrupted task to resume")
)

// Runtime is an executable agent.
type Runtime interface {
	// Stream starts a run. Envelopes are delivered in order on the returned
	// Run; cancelling ctx stops the run.
	Stream(ctx context.Context, input Input, rc RunConfig) (*Run, error)
	// State returns the current snapshot of rc.ThreadID.
	State(ctx context.Context, rc RunConfig) (Snapshot, error)
}

// Run is an in-flight agent execution.
type Run struct {
	envelopes chan Envelope
	err       error
}

func newRun() *Run {
	return &Run{envelopes: make(chan Envelope)}
}

// Envelopes returns the ordered event channel. It is closed when the run
// ends.
func (r *Run) Envelopes() <-chan Envelope {
	return r.envelopes
}

// Err returns the error that ended the run. Only valid after Envelopes is
// closed.
func (r *Run) Err() error {
	return r.err
}

// NewStaticRun returns a run that replays envelopes and then ends with err.
// The replay stops early when ctx is cancelled.
func NewStaticRun(ctx context.Context, envelopes []Envelope, err error) *Run {
	run := newRun()
	go func() {
		defer close(run.envelopes)
		for _, env := range envelopes {
			select {
			case run.envelopes <- env:
			case <-ctx.Done():
				run.err = ctx.Err()
				return
			}
		}
		run.err = err
	}()
	return run
}

// Info describes a registered agent.
type Info struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// Entry is a runtime with its description.
type Entry struct {
	Info
	Runtime Runtime
}

// Registry is an immutable name → runtime table built at startup.
type Registry struct {
	entries      map[string]Entry
	defaultAgent string
}

// NewRegistry builds a registry. defaultAgent must be one of entries.
func NewRegistry(defaultAgent string, entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries:      make(map[string]Entry, len(entries)),
		defaultAgent: defaultAgent,
	}
	for _, e := range entries {
		if e.Key == "" || e.Runtime == nil {
			return nil, fmt.Errorf("invalid agent entry %q", e.Key)
		}
		if _, dup := r.entries[e.Key]; dup {
			return nil, fmt.Errorf("duplicate agent %q", e.Key)
		}
		r.entries[e.Key] = e
	}
	if _, ok := r.entries[defaultAgent]; !ok {
		return nil, fmt.Errorf("default agent %q: %w", defaultAgent, ErrAgentNotFound)
	}
	return r, nil
}

// Get returns the runtime registered as name.
func (r *Registry) Get(name string) (Runtime, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return e.Runtime, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Default returns the default agent name.
func (r *Registry) Default() string {
	return r.defaultAgent
}

// Infos returns agent descriptions sorted by key.
func (r *Registry) Infos() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
