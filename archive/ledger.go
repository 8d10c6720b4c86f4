package archive

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/loomlabs/chatloom/conversations"
)

// Ledger is a best-effort SQLite index over the archived conversations.
// It exists for operators querying "what got archived when" without
// globbing the results directory; it is rebuildable from the JSON files
// and never required for correctness.
type Ledger struct {
	db *sql.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS archived_conversation (
	id TEXT PRIMARY KEY,
	first_seqid INTEGER NOT NULL,
	file TEXT NOT NULL,
	line_count INTEGER NOT NULL,
	archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_conversation_first_seqid
	ON archived_conversation (first_seqid);
`

// OpenLedger opens (creating if necessary) the ledger database at path.
//
// WAL journal mode and a busy timeout keep the single writer from
// tripping over concurrent readers; a single connection is optimal for
// SQLite under WAL.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ledger at %s", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialise ledger schema")
	}
	return &Ledger{db: db}, nil
}

// Record upserts one archived conversation. Re-archival of the same
// conversation overwrites the previous row, matching the file on disk.
func (l *Ledger) Record(ctx context.Context, conv *conversations.Conversation, file string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO archived_conversation (id, first_seqid, file, line_count, archived_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			first_seqid = excluded.first_seqid,
			file = excluded.file,
			line_count = excluded.line_count,
			archived_at = excluded.archived_at`,
		conv.ID, conv.FirstSeqID(), file, len(conv.Lines),
		time.Now().UTC().Format(time.RFC3339))
	return errors.Wrapf(err, "failed to record conversation %s", conv.ID)
}

// Entry is one ledger row.
type Entry struct {
	ID         string
	FirstSeqID int
	File       string
	LineCount  int
	ArchivedAt time.Time
}

// List returns all ledger rows ordered by first seqid.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, first_seqid, file, line_count, archived_at
		FROM archived_conversation
		ORDER BY first_seqid`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ledger")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var archivedAt string
		if err := rows.Scan(&e.ID, &e.FirstSeqID, &e.File, &e.LineCount, &archivedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger row")
		}
		e.ArchivedAt, _ = time.Parse(time.RFC3339, archivedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
