// Package journal persists applied ledger events per group so a selected
// group can be shown before its stream connects.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adamavenir/ledgersync/internal/types"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	group_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	ts TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	PRIMARY KEY (group_id, event_id)
);
CREATE INDEX IF NOT EXISTS idx_ledger_events_group ON ledger_events(group_id);
`

// Journal is a sqlite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: conn}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores events in order. Events already journaled are skipped.
func (j *Journal) Append(ctx context.Context, groupID string, events ...types.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO ledger_events (group_id, event_id, ts, kind, author, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, groupID, ev.ID, ev.TS, string(ev.Kind), ev.By, string(payload)); err != nil {
			return fmt.Errorf("journal event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns up to limit of the group's most recent events in the order
// they were journaled. limit <= 0 returns all of them.
func (j *Journal) Load(ctx context.Context, groupID string, limit int) ([]types.Event, error) {
	query := `
		SELECT payload FROM (
			SELECT rowid, payload FROM ledger_events
			WHERE group_id = ?
			ORDER BY rowid DESC
			LIMIT ?
		) ORDER BY rowid ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, query, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode journaled event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of journaled events for a group.
func (j *Journal) Count(ctx context.Context, groupID string) (int, error) {
	var count int
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_events WHERE group_id = ?", groupID).Scan(&count)
	return count, err
}

// Forget removes a group's events.
func (j *Journal) Forget(ctx context.Context, groupID string) error {
	_, err := j.db.ExecContext(ctx, "DELETE FROM ledger_events WHERE group_id = ?", groupID)
	return err
}
