// Package conversations holds the conversation data model and the
// manager that owns all live conversation state.
package conversations

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Label is the binary calendar-classifier label.
type Label string

const (
	// LabelNegative means the message is likely not calendar-related.
	LabelNegative Label = "LABEL_0"
	// LabelPositive means the message is likely calendar-related.
	LabelPositive Label = "LABEL_1"
)

// Message is a single chat line as received from the upstream feed.
// Messages are immutable once ingested.
type Message struct {
	// SeqID is a monotonic (not necessarily unique) integer assigned by
	// the source.
	SeqID int       `json:"seqid"`
	TS    time.Time `json:"ts"`
	User  string    `json:"user"`
	Text  string    `json:"message"`
}

// Classification is the calendar-classifier verdict for one message.
type Classification struct {
	Label Label   `json:"label"`
	Score float64 `json:"score"`
}

// IsConfidentPositive reports whether the message was labelled positive
// with at least the given score.
func (c Classification) IsConfidentPositive(gate float64) bool {
	return c.Label == LabelPositive && c.Score >= gate
}

// ClassifiedMessage is a Message with its calendar classification attached.
type ClassifiedMessage struct {
	Message
	Classification Classification `json:"classification"`
}

// UserSet is a set of usernames, serialised as a sorted JSON array.
type UserSet map[string]struct{}

// Add inserts a username into the set.
func (s UserSet) Add(user string) {
	s[user] = struct{}{}
}

// Contains reports whether the set holds user.
func (s UserSet) Contains(user string) bool {
	_, ok := s[user]
	return ok
}

// ContainsAny reports whether the set holds any of the given users.
func (s UserSet) ContainsAny(users []string) bool {
	for _, u := range users {
		if s.Contains(u) {
			return true
		}
	}
	return false
}

// Sorted returns the usernames in sorted order.
func (s UserSet) Sorted() []string {
	users := make([]string, 0, len(s))
	for u := range s {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// MarshalJSON serialises the set as a sorted array for stable output.
func (s UserSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts a JSON array of usernames.
func (s *UserSet) UnmarshalJSON(data []byte) error {
	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return err
	}
	set := make(UserSet, len(users))
	for _, u := range users {
		set.Add(u)
	}
	*s = set
	return nil
}

// Conversation is a group of messages that belong to the same
// calendar-scheduling discussion. Only the Manager mutates conversations.
type Conversation struct {
	ID string `json:"id"`
	// Lines are kept in ingest order; a late message may carry an
	// earlier timestamp than its predecessor.
	Lines         []ClassifiedMessage `json:"lines"`
	Users         UserSet             `json:"users"`
	LastUpdated   time.Time           `json:"last_updated"`
	Suspended     bool                `json:"suspended"`
	SuspendedAt   *time.Time          `json:"suspended_at,omitempty"`
	Completed     bool                `json:"completed"`
	EventDatetime *time.Time          `json:"event_datetime,omitempty"`
}

// NewConversation creates a conversation seeded with its first message.
// A conversation never exists without at least one line.
func NewConversation(id string, first ClassifiedMessage) *Conversation {
	c := &Conversation{
		ID:    id,
		Users: make(UserSet),
	}
	c.Append(first)
	return c
}

// Append adds a message, unions its author into Users and advances
// LastUpdated to the maximum line timestamp.
func (c *Conversation) Append(m ClassifiedMessage) {
	c.Lines = append(c.Lines, m)
	c.Users.Add(m.User)
	if m.TS.After(c.LastUpdated) {
		c.LastUpdated = m.TS
	}
}

// FirstSeqID returns the seqid of the first line.
func (c *Conversation) FirstSeqID() int {
	return c.Lines[0].SeqID
}

// JoinedText concatenates every line's text, newline-separated. Used as
// the conversation-side input to the embedding model.
func (c *Conversation) JoinedText() string {
	texts := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		texts = append(texts, line.Text)
	}
	return strings.Join(texts, "\n")
}

// Clone returns a deep copy, used to hand snapshots across task
// boundaries without sharing mutable state.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		ID:          c.ID,
		Lines:       make([]ClassifiedMessage, len(c.Lines)),
		Users:       make(UserSet, len(c.Users)),
		LastUpdated: c.LastUpdated,
		Suspended:   c.Suspended,
		Completed:   c.Completed,
	}
	copy(out.Lines, c.Lines)
	for u := range c.Users {
		out.Users.Add(u)
	}
	if c.SuspendedAt != nil {
		ts := *c.SuspendedAt
		out.SuspendedAt = &ts
	}
	if c.EventDatetime != nil {
		ts := *c.EventDatetime
		out.EventDatetime = &ts
	}
	return out
}
