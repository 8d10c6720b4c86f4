package untangle

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loomlabs/chatloom/ai/embedding"
	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/internal/textutil"
)

// RuleConfig holds the thresholds of the rule-based strategy.
type RuleConfig struct {
	// TimeWindow is the horizon of the time-proximity signal. The score
	// decays linearly from 1 at Δ=0 to 0 at Δ≥TimeWindow.
	TimeWindow time.Duration
	// SameAuthorWindow is the maximum idle time for the same-author
	// trigger.
	SameAuthorWindow time.Duration
	// SimilarityThreshold is the minimum cosine similarity for the
	// semantic trigger.
	SimilarityThreshold float64
	// SemanticWeight scales the similarity's contribution to ranking.
	SemanticWeight float64
	// Retention prunes tracked conversations idle longer than this.
	Retention time.Duration
	// MaxConversations bounds the tracked-conversation count.
	MaxConversations int
}

// DefaultRuleConfig returns the production thresholds.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		TimeWindow:          30 * time.Second,
		SameAuthorWindow:    5 * time.Second,
		SimilarityThreshold: 0.6,
		SemanticWeight:      0.7,
		Retention:           5 * time.Minute,
		MaxConversations:    256,
	}
}

// RuleClassifier scores every tracked conversation against the new
// message using four weighted signals: reply detection, time proximity,
// same-author proximity and semantic similarity. It maintains its own
// conversation view from the disentangler's observed decisions, so it
// needs no access to the Manager's state.
//
// ContinuationOf never returns an error: embedding failures degrade the
// semantic signal to zero, which keeps the fallback path stall-free.
type RuleClassifier struct {
	embedder embedding.Provider
	cfg      RuleConfig
	convs    []*trackedConversation
}

type trackedConversation struct {
	users       conversations.UserSet
	lines       []conversations.ClassifiedMessage
	seqids      map[int]struct{}
	lastUpdated time.Time

	// Conversation-side embedding, recomputed when lines grow.
	embedded []float32
	embedOfN int
}

// NewRuleClassifier creates the rule-based strategy. embedder may be nil,
// which disables the semantic signal.
func NewRuleClassifier(embedder embedding.Provider, cfg RuleConfig) *RuleClassifier {
	if cfg.TimeWindow <= 0 {
		cfg = DefaultRuleConfig()
	}
	return &RuleClassifier{embedder: embedder, cfg: cfg}
}

// TimeProximity returns the time-proximity score for an idle duration:
// 1 at Δ=0, decaying linearly to 0 at Δ≥window.
func TimeProximity(delta, window time.Duration) float64 {
	if delta >= window {
		return 0
	}
	return (window - delta).Seconds() / window.Seconds()
}

// ContinuationOf implements ContinuationClassifier.
func (r *RuleClassifier) ContinuationOf(ctx context.Context, window []conversations.ClassifiedMessage, m conversations.ClassifiedMessage) (int, error) {
	r.prune(m.TS)

	mentions := textutil.Mentions(m.Text)
	var msgVec []float32

	var best *trackedConversation
	var bestScore float64
	for _, conv := range r.convs {
		delta := m.TS.Sub(conv.lastUpdated)
		if delta < 0 {
			delta = 0
		}

		replyScore := 0.0
		if conv.users.ContainsAny(mentions) {
			replyScore = 1.0
		}
		timeScore := TimeProximity(delta, r.cfg.TimeWindow)
		authorScore := 0.0
		if conv.users.Contains(m.User) {
			authorScore = 1.0
		}

		matched := replyScore == 1.0 || (authorScore == 1.0 && delta < r.cfg.SameAuthorWindow)

		similarity := 0.0
		if r.embedder != nil && delta < r.cfg.TimeWindow {
			if msgVec == nil {
				vec, err := r.embedder.Embed(ctx, m.Text)
				if err != nil {
					slog.Warn("embedding_failed", "seqid", m.SeqID, "error", err)
				} else {
					msgVec = vec
				}
			}
			if msgVec != nil {
				similarity = r.similarity(ctx, conv, msgVec)
				if similarity > r.cfg.SimilarityThreshold {
					matched = true
				}
			}
		}

		if !matched {
			continue
		}
		score := replyScore + timeScore + authorScore + similarity*r.cfg.SemanticWeight
		if best == nil || score > bestScore ||
			(score == bestScore && conv.lastUpdated.After(best.lastUpdated)) {
			best = conv
			bestScore = score
		}
	}

	if best == nil {
		return NoContinuation, nil
	}
	return windowIndexOf(window, best), nil
}

// windowIndexOf maps a matched conversation to the 1-based window index
// of its most recent message still in the window, or NoContinuation when
// the conversation has drifted out of the window entirely.
func windowIndexOf(window []conversations.ClassifiedMessage, conv *trackedConversation) int {
	for i := len(window) - 1; i >= 0; i-- {
		if _, ok := conv.seqids[window[i].SeqID]; ok {
			return i + 1
		}
	}
	return NoContinuation
}

func (r *RuleClassifier) similarity(ctx context.Context, conv *trackedConversation, msgVec []float32) float64 {
	if conv.embedOfN != len(conv.lines) {
		texts := make([]string, 0, len(conv.lines))
		for _, line := range conv.lines {
			texts = append(texts, line.Text)
		}
		vec, err := r.embedder.Embed(ctx, strings.Join(texts, "\n"))
		if err != nil {
			slog.Warn("conversation_embedding_failed", "error", err)
			return 0
		}
		conv.embedded = vec
		conv.embedOfN = len(conv.lines)
	}
	return embedding.Dot(msgVec, conv.embedded)
}

// Observe implements Observer: it mirrors the disentangler's decision
// into the tracked-conversation view.
func (r *RuleClassifier) Observe(m conversations.ClassifiedMessage, parentSeqID int) {
	if parentSeqID != NoContinuation {
		for _, conv := range r.convs {
			if _, ok := conv.seqids[parentSeqID]; ok {
				conv.append(m)
				r.prune(m.TS)
				return
			}
		}
	}

	conv := &trackedConversation{
		users:  make(conversations.UserSet),
		seqids: make(map[int]struct{}),
	}
	conv.append(m)
	r.convs = append(r.convs, conv)
	r.prune(m.TS)
}

func (tc *trackedConversation) append(m conversations.ClassifiedMessage) {
	tc.lines = append(tc.lines, m)
	tc.users.Add(m.User)
	tc.seqids[m.SeqID] = struct{}{}
	if m.TS.After(tc.lastUpdated) {
		tc.lastUpdated = m.TS
	}
}

// prune drops conversations idle beyond the retention horizon and caps
// the tracked count, oldest first. Keeps memory bounded on busy channels.
func (r *RuleClassifier) prune(now time.Time) {
	kept := r.convs[:0]
	for _, conv := range r.convs {
		if now.Sub(conv.lastUpdated) <= r.cfg.Retention {
			kept = append(kept, conv)
		}
	}
	r.convs = kept

	if r.cfg.MaxConversations > 0 && len(r.convs) > r.cfg.MaxConversations {
		sort.Slice(r.convs, func(i, j int) bool {
			return r.convs[i].lastUpdated.Before(r.convs[j].lastUpdated)
		})
		r.convs = r.convs[len(r.convs)-r.cfg.MaxConversations:]
	}
}
