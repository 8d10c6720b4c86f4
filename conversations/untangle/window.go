// Package untangle assigns each incoming message to the conversation it
// continues, using interchangeable continuation-classifier strategies.
package untangle

import (
	"github.com/loomlabs/chatloom/conversations"
)

// DefaultWindowSize is the number of recent messages offered to the
// continuation classifier as candidate parents.
const DefaultWindowSize = 6

// Window is a bounded ring of the most recently seen classified
// messages, oldest first. When full, pushing evicts the head.
type Window struct {
	buf  []conversations.ClassifiedMessage
	head int
	size int
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{buf: make([]conversations.ClassifiedMessage, capacity)}
}

// Push appends m, evicting the oldest entry when the window is full.
func (w *Window) Push(m conversations.ClassifiedMessage) {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = m
		w.size++
		return
	}
	w.buf[w.head] = m
	w.head = (w.head + 1) % len(w.buf)
}

// Len returns the number of messages currently held.
func (w *Window) Len() int {
	return w.size
}

// Messages returns the window contents oldest first.
func (w *Window) Messages() []conversations.ClassifiedMessage {
	out := make([]conversations.ClassifiedMessage, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(w.head+i)%len(w.buf)])
	}
	return out
}

// At returns the 1-based k-th oldest message, matching the option
// numbering shown to the continuation classifier.
func (w *Window) At(k int) conversations.ClassifiedMessage {
	return w.buf[(w.head+k-1)%len(w.buf)]
}
