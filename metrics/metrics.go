// Package metrics provides Prometheus metrics for the pipeline, mirroring
// the per-stage meters of the live dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatloom"

// Pipeline aggregates the per-stage counters, gauges and histograms.
type Pipeline struct {
	registry *prometheus.Registry

	MessagesReceived   prometheus.Counter
	FramesMalformed    prometheus.Counter
	MessagesClassified prometheus.Counter
	ClassifierFailures prometheus.Counter

	MessagesGated         prometheus.Counter
	MessagesDisentangled  prometheus.Counter
	ContinuationFallbacks prometheus.Counter

	ConversationsCreated   prometheus.Counter
	ConversationsCompleted prometheus.Counter
	ConversationsArchived  prometheus.Counter
	ArchiveFailures        prometheus.Counter
	OrphanedParents        prometheus.Counter
	ConversationsLive      prometheus.Gauge

	ClassifierLatency   prometheus.Histogram
	ContinuationLatency prometheus.Histogram
}

// New creates the pipeline metrics and registers them on registry.
// A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Pipeline {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	histogram := func(name, help string) prometheus.Histogram {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		})
		registry.MustRegister(h)
		return h
	}

	m := &Pipeline{
		registry:           registry,
		MessagesReceived:   counter("messages_received_total", "Well-formed messages received from the feed"),
		FramesMalformed:    counter("frames_malformed_total", "Upstream frames dropped because they failed to parse"),
		MessagesClassified: counter("messages_classified_total", "Messages scored by the calendar classifier"),
		ClassifierFailures: counter("classifier_failures_total", "Calendar classifier calls that exhausted their retries"),

		MessagesGated:         counter("messages_gated_total", "Messages dropped by the confidence gate"),
		MessagesDisentangled:  counter("messages_disentangled_total", "Messages routed to a conversation decision"),
		ContinuationFallbacks: counter("continuation_fallbacks_total", "Continuation decisions that fell back to the rule-based strategy"),

		ConversationsCreated:   counter("conversations_created_total", "Conversations opened"),
		ConversationsCompleted: counter("conversations_completed_total", "Conversations that reached the completed state"),
		ConversationsArchived:  counter("conversations_archived_total", "Conversations written to the archive"),
		ArchiveFailures:        counter("archive_failures_total", "Conversations dropped after archive retries were exhausted"),
		OrphanedParents:        counter("orphaned_parents_total", "AddToConversation events degraded to a create because the parent was gone"),

		ClassifierLatency:   histogram("classifier_latency_seconds", "Calendar classifier call latency"),
		ContinuationLatency: histogram("continuation_latency_seconds", "Continuation classifier call latency"),
	}

	m.ConversationsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations_live",
		Help:      "Conversations currently held in memory",
	})
	registry.MustRegister(m.ConversationsLive)

	return m
}

// Registry returns the backing registry, for the ops /metrics endpoint.
func (m *Pipeline) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveChannelDepth registers a gauge sampling the live depth of a
// pipeline channel.
func (m *Pipeline) ObserveChannelDepth(channel string, depth func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "channel_depth",
		Help:        "Buffered items in a pipeline channel",
		ConstLabels: prometheus.Labels{"channel": channel},
	}, depth))
}
