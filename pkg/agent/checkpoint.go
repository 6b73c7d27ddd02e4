package agent

import (
	"context"
	"sync"
	"time"
)

// PendingTask is a node paused on an interrupt.
type PendingTask struct {
	ID        string
	Node      string
	Interrupt Interrupt
}

// Checkpoint is the persisted state of one thread.
type Checkpoint struct {
	Messages  []Message
	Pending   *PendingTask
	UpdatedAt time.Time
}

func (c Checkpoint) clone() Checkpoint {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.Pending != nil {
		p := *c.Pending
		out.Pending = &p
	}
	return out
}

// Checkpointer stores per-thread graph state.
type Checkpointer interface {
	// Get returns the checkpoint of threadID; ok is false if none exists.
	Get(ctx context.Context, threadID string) (cp Checkpoint, ok bool, err error)
	Put(ctx context.Context, threadID string, cp Checkpoint) error
}

// MemoryCheckpointer keeps checkpoints in process memory.
type MemoryCheckpointer struct {
	mu      sync.RWMutex
	threads map[string]Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{threads: make(map[string]Checkpoint)}
}

// Get returns a copy of the stored checkpoint.
func (m *MemoryCheckpointer) Get(ctx context.Context, threadID string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.threads[threadID]
	if !ok {
		return Checkpoint{}, false, nil
	}
	return cp.clone(), true, nil
}

// Put stores a copy of cp.
func (m *MemoryCheckpointer) Put(ctx context.Context, threadID string, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp = cp.clone()
	cp.UpdatedAt = time.Now()
	m.threads[threadID] = cp
	return nil
}
