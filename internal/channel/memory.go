package channel

import (
	"sync"

	"github.com/keller/swarmd/internal/models"
)

// MemoryChannel is an in-process Channel backed by an append-only slice.
// It serves single-process swarms and tests; every consumer sees the full
// message history, so consensus can always be recomputed from cursor zero.
type MemoryChannel struct {
	mu       sync.RWMutex
	messages []models.Envelope
}

// NewMemoryChannel creates an empty in-process channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

// Broadcast appends a validated envelope to the shared history.
func (mc *MemoryChannel) Broadcast(env models.Envelope) error {
	if err := validateOutbound(env); err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.messages = append(mc.messages, env)
	return nil
}

// Poll returns all messages published after the cursor.
func (mc *MemoryChannel) Poll(since Cursor) ([]models.Envelope, Cursor, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if since < 0 {
		since = 0
	}
	if int(since) >= len(mc.messages) {
		return nil, since, nil
	}

	batch := make([]models.Envelope, len(mc.messages)-int(since))
	copy(batch, mc.messages[since:])
	return batch, Cursor(len(mc.messages)), nil
}

// Len returns the number of messages in the history.
func (mc *MemoryChannel) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.messages)
}
