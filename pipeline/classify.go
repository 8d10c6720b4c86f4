package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/internal/textutil"
	"github.com/loomlabs/chatloom/metrics"
)

// TextClassifier is the slice of the calendar-detection client the
// stage needs.
type TextClassifier interface {
	Classify(ctx context.Context, text string) (conversations.Classification, error)
}

// ClassifyStage scores each message with the calendar classifier on its
// cleaned text and forwards the message with its classification
// attached. The raw text travels downstream untouched; cleaning is only
// the classifier's input representation.
type ClassifyStage struct {
	classifier  TextClassifier
	in          <-chan conversations.Message
	out         chan<- conversations.ClassifiedMessage
	maxAttempts int
	baseDelay   time.Duration
	meters      *metrics.Pipeline
}

// NewClassifyStage creates a classification stage between in and out.
func NewClassifyStage(classifier TextClassifier, in <-chan conversations.Message, out chan<- conversations.ClassifiedMessage, meters *metrics.Pipeline) *ClassifyStage {
	if meters == nil {
		meters = metrics.New(nil)
	}
	return &ClassifyStage{
		classifier:  classifier,
		in:          in,
		out:         out,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
		meters:      meters,
	}
}

// Run consumes messages until the input channel closes, closing the
// output channel on return.
func (c *ClassifyStage) Run(ctx context.Context) error {
	defer close(c.out)

	for m := range c.in {
		cm := conversations.ClassifiedMessage{
			Message:        m,
			Classification: c.classify(ctx, m),
		}
		select {
		case c.out <- cm:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// classify retries transient failures with exponential backoff. When the
// attempts are exhausted the message is labelled negative with score 0
// rather than dropped, so every well-formed message reaches a decision.
func (c *ClassifyStage) classify(ctx context.Context, m conversations.Message) conversations.Classification {
	cleaned := textutil.Clean(m.Text)

	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.baseDelay << (attempt - 1)):
			case <-ctx.Done():
				return conversations.Classification{Label: conversations.LabelNegative}
			}
		}

		start := time.Now()
		var cls conversations.Classification
		cls, err = c.classifier.Classify(ctx, cleaned)
		c.meters.ClassifierLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			c.meters.MessagesClassified.Inc()
			return cls
		}
		slog.Warn("classify_attempt_failed", "seqid", m.SeqID, "attempt", attempt+1, "error", err)
	}

	c.meters.ClassifierFailures.Inc()
	slog.Error("classify_exhausted", "seqid", m.SeqID, "error", err)
	return conversations.Classification{Label: conversations.LabelNegative}
}
