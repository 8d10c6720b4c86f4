package conversations

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classified(seqid int, ts time.Time, user, text string) ClassifiedMessage {
	return ClassifiedMessage{
		Message:        Message{SeqID: seqid, TS: ts, User: user, Text: text},
		Classification: Classification{Label: LabelPositive, Score: 0.95},
	}
}

func TestConversationAppend(t *testing.T) {
	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	c := NewConversation("conv-1", classified(1, t0, "alice", "call at 4pm?"))
	c.Append(classified(2, t0.Add(2*time.Second), "bob", "@alice sounds good"))

	assert.Len(t, c.Lines, 2)
	assert.Equal(t, []string{"alice", "bob"}, c.Users.Sorted())
	assert.True(t, c.LastUpdated.Equal(t0.Add(2*time.Second)))
	assert.Equal(t, 1, c.FirstSeqID())
}

func TestConversationAppendLateMessage(t *testing.T) {
	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	c := NewConversation("conv-1", classified(1, t0, "alice", "first"))
	// A late message carries an earlier timestamp: lines stay in ingest
	// order and last_updated stays at the maximum line timestamp.
	c.Append(classified(2, t0.Add(-10*time.Second), "bob", "late"))

	assert.Equal(t, 1, c.Lines[0].SeqID)
	assert.Equal(t, 2, c.Lines[1].SeqID)
	assert.True(t, c.LastUpdated.Equal(t0))
}

func TestConversationUsersDerivedFromLines(t *testing.T) {
	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	c := NewConversation("conv-1", classified(1, t0, "alice", "a"))
	c.Append(classified(2, t0.Add(time.Second), "bob", "b"))
	c.Append(classified(3, t0.Add(2*time.Second), "alice", "c"))

	want := make(UserSet)
	for _, line := range c.Lines {
		want.Add(line.User)
	}
	assert.Equal(t, want.Sorted(), c.Users.Sorted())
}

func TestConversationJSONRoundTrip(t *testing.T) {
	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	eventAt := t0.Add(6 * time.Hour)
	suspendedAt := t0.Add(45 * time.Second)

	c := NewConversation("conv-1", classified(1, t0, "alice", "standup at 4?"))
	c.Append(classified(2, t0.Add(3*time.Second), "bob", "@alice works"))
	c.Suspended = true
	c.SuspendedAt = &suspendedAt
	c.EventDatetime = &eventAt

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Conversation
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, c.ID, decoded.ID)
	require.Len(t, decoded.Lines, 2)
	assert.Equal(t, c.Lines[0].Text, decoded.Lines[0].Text)
	assert.Equal(t, c.Lines[1].Classification, decoded.Lines[1].Classification)
	assert.Equal(t, c.Users.Sorted(), decoded.Users.Sorted())
	assert.True(t, c.LastUpdated.Equal(decoded.LastUpdated))
	assert.True(t, decoded.Suspended)
	require.NotNil(t, decoded.EventDatetime)
	assert.True(t, eventAt.Equal(*decoded.EventDatetime))

	// Serialising the decoded form again yields identical bytes.
	again, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestUserSetMarshalSorted(t *testing.T) {
	s := make(UserSet)
	s.Add("zed")
	s.Add("alice")
	s.Add("mallory")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `["alice","mallory","zed"]`, string(data))
}

func TestUserSetContainsAny(t *testing.T) {
	s := make(UserSet)
	s.Add("alice")

	assert.True(t, s.ContainsAny([]string{"bob", "alice"}))
	assert.False(t, s.ContainsAny([]string{"bob", "carol"}))
	assert.False(t, s.ContainsAny(nil))
}

func TestCloneIsDeep(t *testing.T) {
	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	c := NewConversation("conv-1", classified(1, t0, "alice", "a"))

	clone := c.Clone()
	clone.Append(classified(2, t0.Add(time.Second), "bob", "b"))

	assert.Len(t, c.Lines, 1)
	assert.Len(t, clone.Lines, 2)
	assert.False(t, c.Users.Contains("bob"))
}
