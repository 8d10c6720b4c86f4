package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/metrics"
)

type fakeClassifier struct {
	failures int // fail this many calls before succeeding
	calls    int
	texts    []string
}

func (f *fakeClassifier) Classify(_ context.Context, text string) (conversations.Classification, error) {
	f.calls++
	f.texts = append(f.texts, text)
	if f.calls <= f.failures {
		return conversations.Classification{}, errors.New("model busy")
	}
	if strings.Contains(text, "keys") {
		return conversations.Classification{Label: conversations.LabelNegative, Score: 0.98}, nil
	}
	return conversations.Classification{Label: conversations.LabelPositive, Score: 0.93}, nil
}

func runClassify(t *testing.T, classifier TextClassifier, mx *metrics.Pipeline, msgs ...conversations.Message) []conversations.ClassifiedMessage {
	t.Helper()
	in := make(chan conversations.Message, len(msgs))
	out := make(chan conversations.ClassifiedMessage, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)

	stage := NewClassifyStage(classifier, in, out, mx)
	stage.baseDelay = time.Millisecond
	require.NoError(t, stage.Run(context.Background()))

	var got []conversations.ClassifiedMessage
	for cm := range out {
		got = append(got, cm)
	}
	return got
}

func TestClassifyStageAttachesClassification(t *testing.T) {
	fc := &fakeClassifier{}
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	got := runClassify(t, fc, nil,
		conversations.Message{SeqID: 1, TS: base, User: "alice", Text: "Lunch Friday?"},
		conversations.Message{SeqID: 2, TS: base, User: "bob", Text: "anyone seen my keys"},
	)

	require.Len(t, got, 2)
	require.Equal(t, conversations.LabelPositive, got[0].Classification.Label)
	require.Equal(t, conversations.LabelNegative, got[1].Classification.Label)
	// The original text is preserved; the classifier saw the cleaned form.
	require.Equal(t, "Lunch Friday?", got[0].Text)
	require.Equal(t, "lunch friday?", fc.texts[0])
}

func TestClassifyStageRetriesTransientFailures(t *testing.T) {
	fc := &fakeClassifier{failures: 2}
	mx := metrics.New(nil)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	got := runClassify(t, fc, mx,
		conversations.Message{SeqID: 1, TS: base, User: "alice", Text: "lunch friday?"})

	require.Len(t, got, 1)
	require.Equal(t, conversations.LabelPositive, got[0].Classification.Label)
	require.Equal(t, 3, fc.calls)
	require.Equal(t, float64(0), testutil.ToFloat64(mx.ClassifierFailures))
}

func TestClassifyStageExhaustionForwardsNegative(t *testing.T) {
	fc := &fakeClassifier{failures: 100}
	mx := metrics.New(nil)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	got := runClassify(t, fc, mx,
		conversations.Message{SeqID: 1, TS: base, User: "alice", Text: "lunch friday?"})

	// The message is not dropped: it flows on labelled negative.
	require.Len(t, got, 1)
	require.Equal(t, conversations.LabelNegative, got[0].Classification.Label)
	require.Equal(t, float64(0), got[0].Classification.Score)
	require.Equal(t, float64(1), testutil.ToFloat64(mx.ClassifierFailures))
}
