// Package persistence stores the ledger journal and snapshots in SQLite for
// single-node deployments.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"colonywars/internal/ledger"
)

// DB wraps a SQLite connection. It implements ledger.Sink.
type DB struct {
	conn *sqlx.DB
	log  *slog.Logger
}

// Open opens or creates a SQLite database at the given path.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, log: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		tx_id TEXT NOT NULL,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		season_id INTEGER NOT NULL,
		colony TEXT NOT NULL,
		alliance TEXT NOT NULL,
		actor TEXT NOT NULL,
		data TEXT,
		at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_colony ON events(colony, seq);
	CREATE INDEX IF NOT EXISTS idx_events_alliance ON events(alliance, seq);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type eventRow struct {
	Seq      int64          `db:"seq"`
	TxID     string         `db:"tx_id"`
	EventID  string         `db:"event_id"`
	Type     string         `db:"event_type"`
	Season   int64          `db:"season_id"`
	Colony   string         `db:"colony"`
	Alliance string         `db:"alliance"`
	Actor    string         `db:"actor"`
	Data     sql.NullString `db:"data"`
	At       int64          `db:"at"`
}

type snapshotRow struct {
	Seq      int64  `db:"seq"`
	Checksum string `db:"checksum"`
	Payload  []byte `db:"payload"`
}

func idText(id ledger.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

func parseIDText(s string) (ledger.ID, error) {
	if s == "" {
		return ledger.ZeroID, nil
	}
	return ledger.ParseID(s)
}

// Record appends a committed batch to the event journal.
func (db *DB) Record(ctx context.Context, batch ledger.Batch) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range batch.Events {
		row := eventRow{
			Seq:      int64(ev.Seq),
			TxID:     batch.TxID.String(),
			EventID:  ev.ID.String(),
			Type:     string(ev.Type),
			Season:   int64(ev.Season),
			Colony:   idText(ev.Colony),
			Alliance: idText(ev.Alliance),
			Actor:    string(ev.Actor),
			At:       ev.At.UnixNano(),
		}
		if len(ev.Data) > 0 {
			raw, err := json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
			}
			row.Data = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO events
			(seq, tx_id, event_id, event_type, season_id, colony, alliance, actor, data, at)
			VALUES (:seq, :tx_id, :event_id, :event_type, :season_id, :colony, :alliance, :actor, :data, :at)`, row); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	if batch.State != nil {
		if _, err := insertSnapshot(ctx, tx, *batch.State); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Events returns journaled events after seq, oldest first.
func (db *DB) Events(ctx context.Context, after uint64, limit int) ([]ledger.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var rows []eventRow
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT seq, tx_id, event_id, event_type, season_id, colony, alliance, actor, data, at FROM events WHERE seq > ? ORDER BY seq LIMIT ?",
		int64(after), limit,
	); err != nil {
		return nil, err
	}
	out := make([]ledger.Event, 0, len(rows))
	for _, r := range rows {
		ev := ledger.Event{
			Seq:    uint64(r.Seq),
			Type:   ledger.EventType(r.Type),
			Season: uint64(r.Season),
			Actor:  ledger.Address(r.Actor),
			At:     time.Unix(0, r.At).UTC(),
		}
		var err error
		if ev.ID, err = uuid.Parse(r.EventID); err != nil {
			return nil, fmt.Errorf("event %d id: %w", r.Seq, err)
		}
		if ev.Colony, err = parseIDText(r.Colony); err != nil {
			return nil, fmt.Errorf("event %d colony: %w", r.Seq, err)
		}
		if ev.Alliance, err = parseIDText(r.Alliance); err != nil {
			return nil, fmt.Errorf("event %d alliance: %w", r.Seq, err)
		}
		if r.Data.Valid {
			if err := json.Unmarshal([]byte(r.Data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("event %d data: %w", r.Seq, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (db *DB) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	sum, err := insertSnapshot(ctx, db.conn, snap)
	if err != nil {
		return err
	}
	db.log.Info("snapshot saved", "seq", snap.Seq, "checksum", sum[:12])
	return nil
}

func insertSnapshot(ctx context.Context, exec sqlx.ExecerContext, snap ledger.Snapshot) (string, error) {
	payload, err := ledger.EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	sum := ledger.Checksum(payload)
	if _, err := exec.ExecContext(ctx,
		"INSERT INTO snapshots (seq, checksum, payload, created_at) VALUES (?, ?, ?, ?)",
		int64(snap.Seq), sum, payload, time.Now().UnixNano(),
	); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return sum, nil
}

// LatestSnapshot loads the newest snapshot. ok is false when none was saved.
func (db *DB) LatestSnapshot(ctx context.Context) (ledger.Snapshot, bool, error) {
	var row snapshotRow
	err := db.conn.GetContext(ctx, &row, "SELECT seq, checksum, payload FROM snapshots ORDER BY id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	if got := ledger.Checksum(row.Payload); got != row.Checksum {
		return ledger.Snapshot{}, false, fmt.Errorf("snapshot checksum mismatch: stored %s, computed %s", row.Checksum, got)
	}
	snap, err := ledger.DecodeSnapshot(row.Payload)
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	return snap, true, nil
}

// PruneSnapshots keeps only the newest keep snapshots.
func (db *DB) PruneSnapshots(ctx context.Context, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)",
		keep,
	)
	return err
}
