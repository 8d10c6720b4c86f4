package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/loomlabs/chatloom/metrics"
)

// ErrInvariant marks programming invariant violations (unknown event
// kind, inconsistent seq index). The process terminates with a
// distinguished exit code when Run returns it.
var ErrInvariant = errors.New("conversation state invariant violated")

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Events is the state-event input channel; the Manager is its single
	// consumer and the serialisation point of all state mutations.
	Events <-chan StateEvent
	// Archive receives completed conversations. Closed when Run returns.
	Archive chan<- *Conversation
	// Evaluator drives the suspend/complete lifecycle.
	Evaluator *Evaluator
	// ArchiveEvery triggers a lifecycle pass every N events.
	ArchiveEvery int
	// Metrics may be nil in tests.
	Metrics *metrics.Pipeline
	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Manager is the sole owner and mutator of live conversation state.
type Manager struct {
	events       <-chan StateEvent
	archive      chan<- *Conversation
	evaluator    *Evaluator
	archiveEvery int
	mx           *metrics.Pipeline
	now          func() time.Time

	// convs and seqIndex are touched only from Run's goroutine.
	convs    map[string]*Conversation
	seqIndex map[int]string

	queries chan snapshotRequest
	done    chan struct{}
}

type snapshotRequest struct {
	reply chan []*Conversation
}

// NewManager creates a Manager. Run must be started for it to make progress.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ArchiveEvery <= 0 {
		cfg.ArchiveEvery = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Manager{
		events:       cfg.Events,
		archive:      cfg.Archive,
		evaluator:    cfg.Evaluator,
		archiveEvery: cfg.ArchiveEvery,
		mx:           cfg.Metrics,
		now:          cfg.Now,
		convs:        make(map[string]*Conversation),
		seqIndex:     make(map[int]string),
		queries:      make(chan snapshotRequest),
		done:         make(chan struct{}),
	}
}

// Run consumes state events until the input channel closes, applying each
// one serially and triggering a lifecycle pass every ArchiveEvery events.
// It closes the archive channel on return. A non-nil error always wraps
// ErrInvariant.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer close(m.archive)

	counter := 0
	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				// Input drained: one final lifecycle pass so anything
				// already due for completion still reaches the archive.
				m.evaluate(ctx)
				return nil
			}
			if err := m.apply(ev); err != nil {
				return err
			}
			counter++
			if counter >= m.archiveEvery {
				counter = 0
				m.evaluate(ctx)
			}
		case req := <-m.queries:
			req.reply <- m.snapshot()
		}
	}
}

func (m *Manager) apply(ev StateEvent) error {
	switch e := ev.(type) {
	case CreateConversation:
		m.create(e.Message)
	case AddToConversation:
		return m.add(e)
	default:
		return fmt.Errorf("%w: unknown state event %T", ErrInvariant, ev)
	}
	return nil
}

func (m *Manager) create(msg ClassifiedMessage) {
	if existing, ok := m.seqIndex[msg.SeqID]; ok {
		// Seqids are assigned by the source and may repeat; a seqid that
		// is already owned by a live conversation must not be indexed
		// twice.
		slog.Warn("duplicate_seqid_dropped", "seqid", msg.SeqID, "conversation", existing)
		return
	}
	id := shortuuid.New()
	m.convs[id] = NewConversation(id, msg)
	m.seqIndex[msg.SeqID] = id
	m.mx.ConversationsCreated.Inc()
	m.mx.ConversationsLive.Set(float64(len(m.convs)))
	slog.Debug("conversation_created", "conversation", id, "seqid", msg.SeqID, "user", msg.User)
}

func (m *Manager) add(ev AddToConversation) error {
	cid, ok := m.seqIndex[ev.Parent.SeqID]
	if !ok {
		// Parent already archived or never tracked: degrade to a create.
		slog.Info("parent_not_tracked", "parent_seqid", ev.Parent.SeqID, "seqid", ev.Message.SeqID)
		m.mx.OrphanedParents.Inc()
		m.create(ev.Message)
		return nil
	}
	conv, ok := m.convs[cid]
	if !ok {
		return fmt.Errorf("%w: seq index maps %d to unknown conversation %s",
			ErrInvariant, ev.Parent.SeqID, cid)
	}
	if _, dup := m.seqIndex[ev.Message.SeqID]; dup {
		slog.Warn("duplicate_seqid_dropped", "seqid", ev.Message.SeqID)
		return nil
	}
	conv.Append(ev.Message)
	m.seqIndex[ev.Message.SeqID] = cid
	slog.Debug("conversation_extended", "conversation", cid,
		"seqid", ev.Message.SeqID, "lines", len(conv.Lines))
	return nil
}

// evaluate runs a lifecycle pass and hands completed conversations to the
// archiver, removing them from live state.
func (m *Manager) evaluate(ctx context.Context) {
	completed := m.evaluator.Evaluate(ctx, m.convs, m.now())
	for _, conv := range completed {
		delete(m.convs, conv.ID)
		for _, line := range conv.Lines {
			delete(m.seqIndex, line.SeqID)
		}
		m.mx.ConversationsCompleted.Inc()
		// Blocking send: a slow archiver back-pressures state mutation,
		// which in turn back-pressures the whole pipeline.
		m.archive <- conv
		slog.Info("conversation_completed", "conversation", conv.ID,
			"lines", len(conv.Lines), "users", conv.Users.Sorted())
	}
	m.mx.ConversationsLive.Set(float64(len(m.convs)))
}

func (m *Manager) snapshot() []*Conversation {
	out := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		out = append(out, c.Clone())
	}
	return out
}

// Snapshot returns deep copies of the live conversations. Safe to call
// from any goroutine; the request is served by Run's select loop.
func (m *Manager) Snapshot(ctx context.Context) ([]*Conversation, error) {
	req := snapshotRequest{reply: make(chan []*Conversation, 1)}
	select {
	case m.queries <- req:
		return <-req.reply, nil
	case <-m.done:
		return nil, errors.New("conversation manager stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
