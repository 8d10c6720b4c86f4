package untangle

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/metrics"
)

// Disentangler turns a stream of classified messages into conversation
// state events. Every classified message either starts a new
// conversation or continues one of the recent ones, decided by the
// continuation classifier over a sliding window of the last accepted
// messages. Exactly one event comes out per message unless the
// confidence gate is enabled.
type Disentangler struct {
	window     *Window
	classifier ContinuationClassifier
	gate       float64
	meters     *metrics.Pipeline
}

// NewDisentangler creates a disentangler with a fresh sliding window.
// A gate > 0 drops messages that are not labelled positive with at
// least that score; 0 disables the gate, so every classified message
// is disentangled regardless of label.
func NewDisentangler(classifier ContinuationClassifier, gate float64, meters *metrics.Pipeline) *Disentangler {
	return &Disentangler{
		window:     NewWindow(DefaultWindowSize),
		classifier: classifier,
		gate:       gate,
		meters:     meters,
	}
}

// Resolve decides where m belongs. The second return is false when the
// message was gated out and no event should be emitted.
//
// The decision is recorded before returning: the window advances and the
// classifier observes the attachment, so calls must not be concurrent.
func (d *Disentangler) Resolve(ctx context.Context, m conversations.ClassifiedMessage) (conversations.StateEvent, bool) {
	if d.gate > 0 && !m.Classification.IsConfidentPositive(d.gate) {
		if d.meters != nil {
			d.meters.MessagesGated.Inc()
		}
		slog.Debug("message_gated", "seqid", m.SeqID,
			"label", m.Classification.Label, "score", m.Classification.Score)
		return nil, false
	}

	parent := NoContinuation
	if d.window.Len() > 0 {
		start := time.Now()
		k, err := d.classifier.ContinuationOf(ctx, d.window.Messages(), m)
		if d.meters != nil {
			d.meters.ContinuationLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			slog.Warn("continuation_failed", "seqid", m.SeqID, "error", err)
			k = NoContinuation
		}
		// Out-of-range answers count as "new conversation".
		if k >= 1 && k <= d.window.Len() {
			parent = k
		}
	}

	var event conversations.StateEvent
	parentSeqID := NoContinuation
	if parent == NoContinuation {
		event = conversations.CreateConversation{Message: m}
	} else {
		parentMsg := d.window.At(parent)
		parentSeqID = parentMsg.SeqID
		event = conversations.AddToConversation{Message: m, Parent: parentMsg}
	}

	if obs, ok := d.classifier.(Observer); ok {
		obs.Observe(m, parentSeqID)
	}
	d.window.Push(m)
	if d.meters != nil {
		d.meters.MessagesDisentangled.Inc()
	}
	return event, true
}
