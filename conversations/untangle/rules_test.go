package untangle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomlabs/chatloom/conversations"
)

type fakeEmbedder struct {
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestTimeProximity(t *testing.T) {
	window := 30 * time.Second
	require.Equal(t, 1.0, TimeProximity(0, window))
	require.Equal(t, 0.5, TimeProximity(15*time.Second, window))
	require.Equal(t, 0.0, TimeProximity(30*time.Second, window))
	require.Equal(t, 0.0, TimeProximity(2*time.Minute, window))
	require.Greater(t, TimeProximity(5*time.Second, window), TimeProximity(20*time.Second, window))
}

func TestRuleClassifierReplyMention(t *testing.T) {
	r := NewRuleClassifier(nil, DefaultRuleConfig())
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testMessage(1, base, "alice", "lunch friday?")
	r.Observe(first, NoContinuation)

	// Well past the time and same-author windows, but the mention is
	// decisive on its own.
	reply := testMessage(2, base.Add(2*time.Minute), "bob", "@alice sure, noon works")
	k, err := r.ContinuationOf(context.Background(), []conversations.ClassifiedMessage{first}, reply)
	require.NoError(t, err)
	require.Equal(t, 1, k)
}

func TestRuleClassifierSameAuthorWindow(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := testMessage(1, base, "alice", "lunch friday?")
	window := []conversations.ClassifiedMessage{first}

	t.Run("within five seconds", func(t *testing.T) {
		r := NewRuleClassifier(nil, DefaultRuleConfig())
		r.Observe(first, NoContinuation)
		k, err := r.ContinuationOf(context.Background(), window, testMessage(2, base.Add(3*time.Second), "alice", "or saturday"))
		require.NoError(t, err)
		require.Equal(t, 1, k)
	})

	t.Run("beyond five seconds", func(t *testing.T) {
		r := NewRuleClassifier(nil, DefaultRuleConfig())
		r.Observe(first, NoContinuation)
		k, err := r.ContinuationOf(context.Background(), window, testMessage(2, base.Add(10*time.Second), "alice", "or saturday"))
		require.NoError(t, err)
		require.Equal(t, NoContinuation, k)
	})
}

func TestRuleClassifierSemanticSimilarity(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := testMessage(1, base, "alice", "dentist appointment at 3pm")
	window := []conversations.ClassifiedMessage{first}

	embedder := &fakeEmbedder{vecs: map[string][]float32{
		"dentist appointment at 3pm": {1, 0, 0},
		"can we move it to 4pm":      {1, 0, 0},
		"anyone seen my keys":        {0, 1, 0},
	}}

	t.Run("similar message attaches", func(t *testing.T) {
		r := NewRuleClassifier(embedder, DefaultRuleConfig())
		r.Observe(first, NoContinuation)
		k, err := r.ContinuationOf(context.Background(), window, testMessage(2, base.Add(10*time.Second), "bob", "can we move it to 4pm"))
		require.NoError(t, err)
		require.Equal(t, 1, k)
	})

	t.Run("unrelated message does not", func(t *testing.T) {
		r := NewRuleClassifier(embedder, DefaultRuleConfig())
		r.Observe(first, NoContinuation)
		k, err := r.ContinuationOf(context.Background(), window, testMessage(2, base.Add(10*time.Second), "bob", "anyone seen my keys"))
		require.NoError(t, err)
		require.Equal(t, NoContinuation, k)
	})
}

func TestRuleClassifierTieGoesToMostRecent(t *testing.T) {
	r := NewRuleClassifier(nil, DefaultRuleConfig())
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older := testMessage(1, base, "alice", "lunch friday?")
	newer := testMessage(2, base.Add(10*time.Second), "alice", "dentist moved to 3pm")
	r.Observe(older, NoContinuation)
	r.Observe(newer, NoContinuation)

	// Both conversations contain alice and both are past the time
	// horizon, so the reply trigger scores them identically.
	window := []conversations.ClassifiedMessage{older, newer}
	reply := testMessage(3, base.Add(time.Minute), "bob", "@alice which one?")
	k, err := r.ContinuationOf(context.Background(), window, reply)
	require.NoError(t, err)
	require.Equal(t, 2, k)
}

func TestRuleClassifierMatchedConversationOutsideWindow(t *testing.T) {
	r := NewRuleClassifier(nil, DefaultRuleConfig())
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testMessage(1, base, "alice", "lunch friday?")
	r.Observe(first, NoContinuation)

	// The conversation's only message has been evicted from the window.
	window := []conversations.ClassifiedMessage{
		testMessage(5, base.Add(20*time.Second), "carol", "standup moved"),
	}
	reply := testMessage(6, base.Add(time.Minute), "bob", "@alice sure")
	k, err := r.ContinuationOf(context.Background(), window, reply)
	require.NoError(t, err)
	require.Equal(t, NoContinuation, k)
}

func TestRuleClassifierObserveAttachesToParent(t *testing.T) {
	r := NewRuleClassifier(nil, DefaultRuleConfig())
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testMessage(1, base, "alice", "lunch friday?")
	second := testMessage(2, base.Add(5*time.Second), "bob", "sure, where")
	r.Observe(first, NoContinuation)
	r.Observe(second, 1)
	require.Len(t, r.convs, 1)

	// The merged conversation maps to its most recent windowed message.
	window := []conversations.ClassifiedMessage{first, second}
	reply := testMessage(3, base.Add(time.Minute), "carol", "@bob count me in")
	k, err := r.ContinuationOf(context.Background(), window, reply)
	require.NoError(t, err)
	require.Equal(t, 2, k)
}

func TestRuleClassifierPrunesStaleConversations(t *testing.T) {
	cfg := DefaultRuleConfig()
	cfg.Retention = time.Minute
	r := NewRuleClassifier(nil, cfg)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testMessage(1, base, "alice", "lunch friday?")
	r.Observe(first, NoContinuation)

	reply := testMessage(2, base.Add(5*time.Minute), "bob", "@alice yes")
	k, err := r.ContinuationOf(context.Background(), []conversations.ClassifiedMessage{first}, reply)
	require.NoError(t, err)
	require.Equal(t, NoContinuation, k)
	require.Empty(t, r.convs)
}
