// Package conversation keeps the ordered message log of an interpretation session.
package conversation

import (
	"sync"

	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// Handle refers to a pending message appended with [Log.AppendPending].
//
// A handle is bound to the log generation it was created in. Once the log is reset the handle is stale and
// updates through it are ignored.
type Handle struct {
	index      int
	generation uint64
	valid      bool
}

// Index is the position of the pending message in the log.
func (h Handle) Index() int {
	return h.index
}

// Log is an append-only message sequence. The only in-place mutation is replacing the content of an existing
// entry, which is how pending assistant messages receive their final content.
type Log struct {
	mu         sync.RWMutex
	messages   []models.Message
	pending    map[int]struct{}
	generation uint64
}

func NewLog() *Log {
	return &Log{
		pending: map[int]struct{}{},
	}
}

// Append adds msg to the end of the log and returns its index.
func (l *Log) Append(msg models.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	return len(l.messages) - 1
}

// ReplaceAt replaces the content of the message at index. Out of bounds indices are ignored.
func (l *Log) ReplaceAt(index int, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaceAt(index, content)
}

func (l *Log) replaceAt(index int, content string) bool {
	if index < 0 || index >= len(l.messages) {
		return false
	}
	l.messages[index].Content = content
	return true
}

// AppendPending appends a provisional message whose content is replaced later with [Log.Update] or
// [Log.Resolve].
func (l *Log) AppendPending(role models.Role, content string) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, models.Message{Role: role, Content: content})
	index := len(l.messages) - 1
	l.pending[index] = struct{}{}
	return Handle{index: index, generation: l.generation, valid: true}
}

// Update replaces the content of a pending message and keeps it pending. It reports whether the handle was
// still live.
func (l *Log) Update(h Handle, content string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.live(h) {
		return false
	}
	return l.replaceAt(h.index, content)
}

// Resolve sets the final content of a pending message and consumes the handle. It reports whether the handle
// was still live.
func (l *Log) Resolve(h Handle, content string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.live(h) {
		return false
	}
	delete(l.pending, h.index)
	return l.replaceAt(h.index, content)
}

func (l *Log) live(h Handle) bool {
	if !h.valid || h.generation != l.generation {
		return false
	}
	_, ok := l.pending[h.index]
	return ok
}

// Pending reports whether any message is still waiting for its content.
func (l *Log) Pending() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending) > 0
}

// Messages returns a copy of the log.
func (l *Log) Messages() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Message{}, l.messages...)
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Reset empties the log and invalidates every outstanding handle.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	l.pending = map[int]struct{}{}
	l.generation++
}
