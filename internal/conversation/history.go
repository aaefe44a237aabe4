// Package conversation holds per-session conversation history.
package conversation

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a bounded ring buffer of turns; once full, the oldest turn is
// evicted. It is not safe for concurrent use: each session owns one and
// serializes access.
type History struct {
	buf   []Turn
	start int
	size  int
}

// NewHistory creates a history holding at most capacity turns.
func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{buf: make([]Turn, capacity)}
}

// Append adds turns, evicting the oldest ones when full.
func (h *History) Append(turns ...Turn) {
	if len(h.buf) == 0 {
		return
	}
	for _, t := range turns {
		if h.size < len(h.buf) {
			h.buf[(h.start+h.size)%len(h.buf)] = t
			h.size++
			continue
		}
		h.buf[h.start] = t
		h.start = (h.start + 1) % len(h.buf)
	}
}

// Turns returns a copy of the turns, oldest first.
func (h *History) Turns() []Turn {
	if h == nil {
		return nil
	}
	return h.Last(h.size)
}

// Last returns a copy of the n most recent turns, oldest first.
func (h *History) Last(n int) []Turn {
	if h == nil || n <= 0 {
		return nil
	}
	if n > h.size {
		n = h.size
	}
	out := make([]Turn, n)
	offset := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+offset+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.size
}

// Cap returns the maximum number of stored turns.
func (h *History) Cap() int { return len(h.buf) }

// Clear drops all turns.
func (h *History) Clear() {
	for i := range h.buf {
		h.buf[i] = Turn{}
	}
	h.start, h.size = 0, 0
}
