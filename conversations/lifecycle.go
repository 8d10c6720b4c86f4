package conversations

import (
	"context"
	"log/slog"
	"time"
)

// DatetimeExtractor extracts the scheduled event datetime from a full
// conversation. Implementations are external services; a nil extractor
// disables the enrichment.
type DatetimeExtractor interface {
	Extract(ctx context.Context, conv *Conversation) (*time.Time, error)
}

// Evaluator applies the conversation lifecycle policy:
// active → suspended after inactivity → completed once the extracted
// event datetime has passed or a grace period has elapsed.
type Evaluator struct {
	suspendAfter time.Duration
	grace        time.Duration
	extractor    DatetimeExtractor
	callTimeout  time.Duration
}

// NewEvaluator creates a lifecycle evaluator. extractor may be nil.
func NewEvaluator(suspendAfter, grace time.Duration, extractor DatetimeExtractor, callTimeout time.Duration) *Evaluator {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Evaluator{
		suspendAfter: suspendAfter,
		grace:        grace,
		extractor:    extractor,
		callTimeout:  callTimeout,
	}
}

// Evaluate advances the lifecycle of every live conversation and returns
// the ones that completed during this pass. The caller owns the map and
// is responsible for removing completed entries.
func (e *Evaluator) Evaluate(ctx context.Context, convs map[string]*Conversation, now time.Time) []*Conversation {
	var completed []*Conversation
	for _, c := range convs {
		if !c.Suspended {
			if now.Sub(c.LastUpdated) <= e.suspendAfter {
				continue
			}
			e.suspend(ctx, c, now)
		}
		if e.isComplete(c, now) {
			c.Completed = true
			completed = append(completed, c)
		}
	}
	return completed
}

func (e *Evaluator) suspend(ctx context.Context, c *Conversation, now time.Time) {
	c.Suspended = true
	suspendedAt := now
	c.SuspendedAt = &suspendedAt
	slog.Debug("conversation_suspended", "conversation", c.ID,
		"lines", len(c.Lines), "idle_secs", now.Sub(c.LastUpdated).Seconds())

	if e.extractor == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	dt, err := e.extractor.Extract(callCtx, c)
	if err != nil {
		// Enrichment is best-effort: the conversation still completes
		// after the grace period.
		slog.Warn("datetime_extraction_failed", "conversation", c.ID, "error", err)
		return
	}
	if dt != nil {
		c.EventDatetime = dt
		slog.Info("event_datetime_extracted", "conversation", c.ID, "event_datetime", dt)
	}
}

func (e *Evaluator) isComplete(c *Conversation, now time.Time) bool {
	if !c.Suspended {
		return false
	}
	if c.EventDatetime != nil && c.EventDatetime.Before(now) {
		return true
	}
	return c.SuspendedAt != nil && now.Sub(*c.SuspendedAt) > e.grace
}
