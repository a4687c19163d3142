package worker

import (
	"context"
	"log/slog"
	"time"

	"colonywars/internal/game"
	"colonywars/internal/ledger"
)

// Archive is where committed events and ledger snapshots are kept. Both the
// Postgres journal and the SQLite store implement it.
type Archive interface {
	ledger.Sink
	SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error
	LatestSnapshot(ctx context.Context) (ledger.Snapshot, bool, error)
	PruneSnapshots(ctx context.Context, keep int) error
	Close() error
}

// Notifier publishes committed events to players outside the API.
type Notifier interface {
	Notify(ctx context.Context, events []ledger.Event) error
}

type Options struct {
	SweepEvery    time.Duration
	SnapshotEvery time.Duration
	SnapshotKeep  int
}

// Sweeper runs the periodic maintenance pass, fans new events out to the
// notifier and snapshots the ledger.
type Sweeper struct {
	svc      *game.Service
	archive  Archive
	notifier Notifier
	log      *slog.Logger
	opts     Options

	notified     uint64
	snapshotSeq  uint64
	snapshotDone bool
}

func NewSweeper(svc *game.Service, archive Archive, notifier Notifier, logger *slog.Logger, opts Options) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = time.Minute
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 15 * time.Minute
	}
	if opts.SnapshotKeep < 1 {
		opts.SnapshotKeep = 10
	}
	return &Sweeper{
		svc:      svc,
		archive:  archive,
		notifier: notifier,
		log:      logger,
		opts:     opts,
		notified: svc.Store().LastSeq(),
	}
}

// Restore loads the newest archived snapshot into the store. It reports
// whether a snapshot was found.
func Restore(ctx context.Context, store *ledger.Store, archive Archive) (bool, error) {
	snap, ok, err := archive.LatestSnapshot(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := store.Import(snap); err != nil {
		return false, err
	}
	return true, nil
}

// Run blocks until ctx is cancelled. A final snapshot is written on the way
// out.
func (s *Sweeper) Run(ctx context.Context) {
	sweep := time.NewTicker(s.opts.SweepEvery)
	defer sweep.Stop()
	snapshot := time.NewTicker(s.opts.SnapshotEvery)
	defer snapshot.Stop()

	s.log.Info("sweeper started", "sweep_every", s.opts.SweepEvery.String(), "snapshot_every", s.opts.SnapshotEvery.String())
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := s.Snapshot(shutdownCtx); err != nil {
				s.log.Error("final snapshot failed", "err", err)
			}
			cancel()
			s.log.Info("sweeper shutdown")
			return
		case <-sweep.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("sweep failed", "err", err)
			}
		case <-snapshot.C:
			if err := s.Snapshot(ctx); err != nil {
				s.log.Error("snapshot failed", "err", err)
			}
		}
	}
}

// RunOnce sweeps expired state and notifies events committed since the last
// pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if _, err := s.svc.Sweep(ctx); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *Sweeper) flush(ctx context.Context) error {
	if s.notifier == nil {
		s.notified = s.svc.Store().LastSeq()
		return nil
	}
	for {
		events := s.svc.Events(s.notified, 200)
		if len(events) == 0 {
			return nil
		}
		if err := s.notifier.Notify(ctx, events); err != nil {
			return err
		}
		s.notified = events[len(events)-1].Seq
	}
}

// Snapshot archives the ledger when it changed since the previous snapshot.
func (s *Sweeper) Snapshot(ctx context.Context) error {
	snap := s.svc.Store().Export()
	if s.snapshotDone && snap.Seq == s.snapshotSeq {
		return nil
	}
	if err := s.archive.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.snapshotSeq = snap.Seq
	s.snapshotDone = true
	if err := s.archive.PruneSnapshots(ctx, s.opts.SnapshotKeep); err != nil {
		s.log.Warn("snapshot prune failed", "err", err)
	}
	return nil
}
