package untangle

import (
	"context"
	"log/slog"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/metrics"
)

// NoContinuation is returned by a ContinuationClassifier when the new
// message does not continue any windowed message.
const NoContinuation = -1

// ContinuationClassifier decides which windowed message (1-based index,
// oldest first) a new message continues, or NoContinuation.
type ContinuationClassifier interface {
	ContinuationOf(ctx context.Context, window []conversations.ClassifiedMessage, m conversations.ClassifiedMessage) (int, error)
}

// Observer is implemented by classifiers that track the disentangler's
// final decisions to maintain their own view of conversation membership.
// parentSeqID is NoContinuation when a new conversation was opened.
type Observer interface {
	Observe(m conversations.ClassifiedMessage, parentSeqID int)
}

// Fallback composes a primary strategy with a rule-based fallback: the
// primary is retried once; on a second failure the decision comes from
// the fallback. Decisions are observed by both strategies so the
// fallback's conversation view stays current even while unused.
type Fallback struct {
	primary  ContinuationClassifier
	fallback ContinuationClassifier
	mx       *metrics.Pipeline
}

// NewFallback combines primary and fallback. mx may be nil.
func NewFallback(primary, fallback ContinuationClassifier, mx *metrics.Pipeline) *Fallback {
	if mx == nil {
		mx = metrics.New(nil)
	}
	return &Fallback{primary: primary, fallback: fallback, mx: mx}
}

// ContinuationOf implements ContinuationClassifier.
func (f *Fallback) ContinuationOf(ctx context.Context, window []conversations.ClassifiedMessage, m conversations.ClassifiedMessage) (int, error) {
	k, err := f.primary.ContinuationOf(ctx, window, m)
	if err == nil {
		return k, nil
	}
	slog.Warn("continuation_primary_failed", "seqid", m.SeqID, "error", err)

	k, err = f.primary.ContinuationOf(ctx, window, m)
	if err == nil {
		return k, nil
	}
	slog.Warn("continuation_retry_failed", "seqid", m.SeqID, "error", err)
	f.mx.ContinuationFallbacks.Inc()

	return f.fallback.ContinuationOf(ctx, window, m)
}

// Observe forwards the decision to both strategies.
func (f *Fallback) Observe(m conversations.ClassifiedMessage, parentSeqID int) {
	if o, ok := f.primary.(Observer); ok {
		o.Observe(m, parentSeqID)
	}
	if o, ok := f.fallback.(Observer); ok {
		o.Observe(m, parentSeqID)
	}
}
