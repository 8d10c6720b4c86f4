// Package archive persists completed conversations as JSON documents in
// the results directory, with a best-effort SQLite ledger alongside.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/metrics"
)

// Config represents archiver configuration.
type Config struct {
	// Dir is the results directory. Must exist.
	Dir string
	// In receives completed conversations; Run returns when it closes.
	In <-chan *conversations.Conversation
	// Ledger records archived conversations. Optional.
	Ledger *Ledger
	// MaxAttempts bounds write retries per conversation (default: 4).
	MaxAttempts int
	// BaseDelay is the first retry delay, doubled per attempt
	// (default: 500ms).
	BaseDelay time.Duration
	// Metrics may be nil.
	Metrics *metrics.Pipeline
}

// Archiver drains completed conversations and writes each to
// event_<first_seqid>_v2.json. Writes are atomic (temp file plus rename)
// and retried with exponential backoff; a conversation whose write keeps
// failing is logged and dropped so the pipeline never stalls on a full
// disk.
type Archiver struct {
	dir         string
	in          <-chan *conversations.Conversation
	ledger      *Ledger
	maxAttempts int
	baseDelay   time.Duration
	meters      *metrics.Pipeline
}

// New creates an archiver.
func New(cfg Config) *Archiver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Archiver{
		dir:         cfg.Dir,
		in:          cfg.In,
		ledger:      cfg.Ledger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		meters:      cfg.Metrics,
	}
}

// Run consumes the inbound channel until it closes, archiving every
// conversation received. A cancelled context abandons in-flight retries
// but already-received conversations are still attempted once.
func (a *Archiver) Run(ctx context.Context) error {
	for conv := range a.in {
		a.archive(ctx, conv)
	}
	slog.Info("archiver_drained", "dir", a.dir)
	return nil
}

func (a *Archiver) archive(ctx context.Context, conv *conversations.Conversation) {
	name := Filename(conv.FirstSeqID())

	var err error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := a.baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				a.dropped(conv, name, ctx.Err())
				return
			}
		}
		if err = a.write(conv, name); err == nil {
			a.meters.ConversationsArchived.Inc()
			slog.Info("conversation_archived", "id", conv.ID, "file", name,
				"lines", len(conv.Lines), "attempt", attempt+1)
			a.record(ctx, conv, name)
			return
		}
		slog.Warn("archive_attempt_failed", "id", conv.ID, "file", name,
			"attempt", attempt+1, "error", err)
	}
	a.dropped(conv, name, err)
}

func (a *Archiver) dropped(conv *conversations.Conversation, name string, err error) {
	a.meters.ArchiveFailures.Inc()
	slog.Error("archive_dropped", "id", conv.ID, "file", name, "error", err)
}

// write marshals conv and renames a temp file into place so readers of
// the results directory never observe a partial document.
func (a *Archiver) write(conv *conversations.Conversation, name string) error {
	payload, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}

	tmp, err := os.CreateTemp(a.dir, ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(a.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// record updates the ledger. Ledger failures never fail the archive; the
// JSON file on disk is the source of truth.
func (a *Archiver) record(ctx context.Context, conv *conversations.Conversation, name string) {
	if a.ledger == nil {
		return
	}
	if err := a.ledger.Record(ctx, conv, name); err != nil {
		slog.Warn("ledger_record_failed", "id", conv.ID, "error", err)
	}
}

// Filename returns the archive file name for a conversation whose first
// message carries the given seqid.
func Filename(firstSeqID int) string {
	return fmt.Sprintf("event_%d_v2.json", firstSeqID)
}
