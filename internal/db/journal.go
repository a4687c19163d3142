package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"colonywars/internal/ledger"
)

var ErrTxConflict = errors.New("journal write conflict, retry")

const schema = `
CREATE SCHEMA IF NOT EXISTS wars;

CREATE TABLE IF NOT EXISTS wars.events (
	seq        BIGINT PRIMARY KEY,
	tx_id      UUID        NOT NULL,
	event_id   UUID        NOT NULL UNIQUE,
	event_type TEXT        NOT NULL,
	season_id  BIGINT      NOT NULL DEFAULT 0,
	colony     TEXT        NOT NULL DEFAULT '',
	alliance   TEXT        NOT NULL DEFAULT '',
	actor      TEXT        NOT NULL DEFAULT '',
	data       JSONB,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_colony_idx ON wars.events (colony, seq);
CREATE INDEX IF NOT EXISTS events_alliance_idx ON wars.events (alliance, seq);

CREATE TABLE IF NOT EXISTS wars.snapshots (
	id         BIGSERIAL PRIMARY KEY,
	seq        BIGINT      NOT NULL,
	checksum   TEXT        NOT NULL,
	payload    BYTEA       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const insertSnapshot = `INSERT INTO wars.snapshots (seq, checksum, payload) VALUES ($1, $2, $3)`

// Journal persists committed event batches and ledger snapshots in Postgres.
// It is the ledger's sink: a batch that cannot be written aborts the commit.
type Journal struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewJournal(pool *pgxpool.Pool, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{pool: pool, log: logger}
}

func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Record writes one batch in a serializable transaction, retrying on
// serialization failures. A batch carrying state also stores it as the newest
// snapshot in the same transaction.
func (j *Journal) Record(ctx context.Context, batch ledger.Batch) error {
	var (
		payload []byte
		sum     string
	)
	if batch.State != nil {
		var err error
		if payload, err = ledger.EncodeSnapshot(*batch.State); err != nil {
			return err
		}
		sum = ledger.Checksum(payload)
	}
	return j.withRetry(ctx, func(tx pgx.Tx) error {
		rows := make([][]any, 0, len(batch.Events))
		for _, ev := range batch.Events {
			var data []byte
			if len(ev.Data) > 0 {
				raw, err := json.Marshal(ev.Data)
				if err != nil {
					return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
				}
				data = raw
			}
			rows = append(rows, []any{
				int64(ev.Seq), batch.TxID, ev.ID, string(ev.Type), int64(ev.Season),
				idText(ev.Colony), idText(ev.Alliance), string(ev.Actor), data, ev.At,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"wars", "events"},
			[]string{"seq", "tx_id", "event_id", "event_type", "season_id", "colony", "alliance", "actor", "data", "at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil || payload == nil {
			return err
		}
		_, err = tx.Exec(ctx, insertSnapshot, int64(batch.State.Seq), sum, payload)
		return err
	})
}

func idText(id ledger.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

func (j *Journal) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	payload, err := ledger.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	sum := ledger.Checksum(payload)
	return j.withRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertSnapshot, int64(snap.Seq), sum, payload)
		if err != nil {
			return err
		}
		j.log.Info("snapshot saved", "seq", snap.Seq, "bytes", len(payload), "checksum", sum[:12])
		return nil
	})
}

// LatestSnapshot loads the newest snapshot. ok is false when none was saved.
func (j *Journal) LatestSnapshot(ctx context.Context) (snap ledger.Snapshot, ok bool, err error) {
	var (
		payload []byte
		sum     string
	)
	err = j.pool.QueryRow(ctx, `
		SELECT payload, checksum
		FROM wars.snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&payload, &sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if got := ledger.Checksum(payload); got != sum {
		return snap, false, fmt.Errorf("snapshot checksum mismatch: stored %s, computed %s", sum, got)
	}
	snap, err = ledger.DecodeSnapshot(payload)
	if err != nil {
		return snap, false, err
	}
	return snap, true, nil
}

func (j *Journal) PruneSnapshots(ctx context.Context, keep int) error {
	if keep < 1 {
		keep = 1
	}
	return j.withRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM wars.snapshots
			WHERE id NOT IN (
				SELECT id FROM wars.snapshots ORDER BY id DESC LIMIT $1
			)
		`, keep)
		return err
	})
}

// Events reads journaled events after seq, oldest first.
func (j *Journal) Events(ctx context.Context, after uint64, limit int) ([]ledger.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := j.pool.Query(ctx, `
		SELECT seq, event_id, event_type, season_id, colony, alliance, actor, data, at
		FROM wars.events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ledger.Event, 0, limit)
	for rows.Next() {
		var (
			ev                           ledger.Event
			seq, season                  int64
			typ, colony, alliance, actor string
			data                         []byte
		)
		if err := rows.Scan(&seq, &ev.ID, &typ, &season, &colony, &alliance, &actor, &data, &ev.At); err != nil {
			return nil, err
		}
		ev.Seq = uint64(seq)
		ev.Type = ledger.EventType(typ)
		ev.Season = uint64(season)
		ev.Actor = ledger.Address(actor)
		if colony != "" {
			if ev.Colony, err = ledger.ParseID(colony); err != nil {
				return nil, err
			}
		}
		if alliance != "" {
			if ev.Alliance, err = ledger.ParseID(alliance); err != nil {
				return nil, err
			}
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}

func (j *Journal) withRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := j.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		j.log.Warn("journal serialization conflict", "attempt", attempt+1)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
