package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/loomlabs/chatloom/archive"
	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/conversations/untangle"
	"github.com/loomlabs/chatloom/metrics"
)

// Config assembles a pipeline from its external collaborators.
type Config struct {
	// FeedURL is the ws:// or wss:// chat feed endpoint.
	FeedURL string
	// Classifier is the calendar-detection client.
	Classifier TextClassifier
	// Continuation decides conversation membership.
	Continuation untangle.ContinuationClassifier
	// Evaluator drives the suspend/complete lifecycle.
	Evaluator *conversations.Evaluator
	// ConfidenceGate is the minimum positive score (0 disables gating).
	ConfidenceGate float64
	// ChannelCapacity is applied to every inter-stage channel
	// (default: 64).
	ChannelCapacity int
	// ArchiveEvery triggers a lifecycle pass every N state events.
	ArchiveEvery int
	// ResultsDir receives the archived JSON files.
	ResultsDir string
	// Ledger is the optional archive index.
	Ledger *archive.Ledger
	// Metrics may be nil.
	Metrics *metrics.Pipeline
}

// Pipeline is the assembled stage graph. Shutdown propagates
// topologically: each stage closes its output channel when its input
// drains, so a closed feed empties the whole graph before Run returns.
type Pipeline struct {
	ingest       *Ingestor
	classify     *ClassifyStage
	disentangler *untangle.Disentangler
	manager      *conversations.Manager
	archiver     *archive.Archiver

	classified <-chan conversations.ClassifiedMessage
	events     chan<- conversations.StateEvent
	meters     *metrics.Pipeline
}

// New wires the stages together over bounded channels.
func New(cfg Config) *Pipeline {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 64
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	mx := cfg.Metrics

	frames := make(chan conversations.Message, cfg.ChannelCapacity)
	classified := make(chan conversations.ClassifiedMessage, cfg.ChannelCapacity)
	events := make(chan conversations.StateEvent, cfg.ChannelCapacity)
	completed := make(chan *conversations.Conversation, cfg.ChannelCapacity)

	mx.ObserveChannelDepth("frames", func() float64 { return float64(len(frames)) })
	mx.ObserveChannelDepth("classified", func() float64 { return float64(len(classified)) })
	mx.ObserveChannelDepth("events", func() float64 { return float64(len(events)) })
	mx.ObserveChannelDepth("completed", func() float64 { return float64(len(completed)) })

	return &Pipeline{
		ingest:       NewIngestor(cfg.FeedURL, frames, mx),
		classify:     NewClassifyStage(cfg.Classifier, frames, classified, mx),
		disentangler: untangle.NewDisentangler(cfg.Continuation, cfg.ConfidenceGate, mx),
		manager: conversations.NewManager(conversations.ManagerConfig{
			Events:       events,
			Archive:      completed,
			Evaluator:    cfg.Evaluator,
			ArchiveEvery: cfg.ArchiveEvery,
			Metrics:      mx,
		}),
		archiver: archive.New(archive.Config{
			Dir:     cfg.ResultsDir,
			In:      completed,
			Ledger:  cfg.Ledger,
			Metrics: mx,
		}),
		classified: classified,
		events:     events,
		meters:     mx,
	}
}

// Metrics returns the pipeline meters, for the ops /metrics endpoint.
func (p *Pipeline) Metrics() *metrics.Pipeline {
	return p.meters
}

// Manager exposes the conversation manager for the ops snapshot endpoint.
func (p *Pipeline) Manager() *conversations.Manager {
	return p.manager
}

// Run supervises all stages and blocks until the graph drains or a stage
// fails. The first stage error cancels the rest.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ingest.Run(ctx) })
	g.Go(func() error { return p.classify.Run(ctx) })
	g.Go(func() error { return p.runDisentangler(ctx) })
	g.Go(func() error { return p.manager.Run(ctx) })
	g.Go(func() error { return p.archiver.Run(ctx) })
	return g.Wait()
}

func (p *Pipeline) runDisentangler(ctx context.Context) error {
	defer close(p.events)

	for m := range p.classified {
		ev, ok := p.disentangler.Resolve(ctx, m)
		if !ok {
			continue
		}
		select {
		case p.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
