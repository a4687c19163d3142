// Package ledger is the shared Colony Wars storage region: seasons, colony
// profiles, alliances, squads, territories and battles, plus the bidirectional
// indices between them. Engines read and write it only through Tx accessors.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var ErrReentrantCall = errors.New("reentrant call: an operation is already in progress")

// Sink receives every committed batch before the commit becomes visible. A
// sink error aborts the commit.
type Sink interface {
	Record(ctx context.Context, batch Batch) error
}

type Store struct {
	mu          sync.RWMutex
	st          state
	now         func() time.Time
	sink        Sink
	log         *slog.Logger
	inOperation atomic.Bool

	commitSnapshots bool

	seq     uint64
	tail    []Event
	tailCap int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithSink(sink Sink) Option {
	return func(s *Store) { s.sink = sink }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.log = logger }
}

// WithCommitSnapshots hands the sink a snapshot with every batch so it can
// persist events and state together.
func WithCommitSnapshots() Option {
	return func(s *Store) { s.commitSnapshots = true }
}

// WithTailSize bounds how many committed events stay queryable in memory.
func WithTailSize(n int) Option {
	return func(s *Store) { s.tailCap = n }
}

func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		st:      newState(cloneConfig(cfg)),
		now:     time.Now,
		log:     slog.Default(),
		tailCap: 4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

type opKey struct{}

// InOperation reports whether ctx belongs to a running ledger operation.
func InOperation(ctx context.Context) bool {
	v, _ := ctx.Value(opKey{}).(bool)
	return v
}

// Busy reports whether any operation currently holds the ledger.
func (s *Store) Busy() bool { return s.inOperation.Load() }

// Now is the store clock.
func (s *Store) Now() time.Time { return s.now().UTC() }

// Update runs fn as one atomic operation. fn works on a private copy of the
// ledger that replaces the live state only if fn and the sink both succeed.
// Calls made with a context that is already inside an operation are rejected.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if InOperation(ctx) {
		return ErrReentrantCall
	}
	tx, err := s.run(ctx, fn)
	if err != nil {
		if tx != nil {
			tx.rollback()
		}
		return err
	}
	return nil
}

func (s *Store) run(ctx context.Context, fn func(tx *Tx) error) (tx *Tx, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inOperation.Store(true)
	defer s.inOperation.Store(false)

	tx = &Tx{
		ctx: context.WithValue(ctx, opKey{}, true),
		st:  s.st.clone(),
		now: s.Now(),
		log: s.log,
	}
	committed := false
	defer func() {
		if r := recover(); r != nil && !committed {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		return tx, err
	}
	if err := tx.ctx.Err(); err != nil {
		return tx, err
	}

	batch := Batch{TxID: uuid.New(), At: tx.now, Events: tx.events}
	for i := range batch.Events {
		batch.Events[i].Seq = s.seq + uint64(i) + 1
	}
	if s.sink != nil && len(batch.Events) > 0 {
		if s.commitSnapshots {
			snap := exportState(tx.st, s.seq+uint64(len(batch.Events)))
			batch.State = &snap
		}
		if err := s.sink.Record(tx.ctx, batch); err != nil {
			return tx, err
		}
	}

	s.st = tx.st
	s.seq += uint64(len(batch.Events))
	s.appendTail(batch.Events)
	committed = true
	return nil, nil
}

func (s *Store) appendTail(events []Event) {
	if s.tailCap <= 0 {
		return
	}
	s.tail = append(s.tail, events...)
	if over := len(s.tail) - s.tailCap; over > 0 {
		s.tail = append([]Event(nil), s.tail[over:]...)
	}
}

// View runs fn against the committed state. The Tx passed to fn must not be
// written to.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if InOperation(ctx) {
		return ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx := &Tx{ctx: ctx, st: s.st, now: s.Now(), log: s.log, readOnly: true}
	return fn(tx)
}

// Events returns committed events with Seq > after, oldest first.
func (s *Store) Events(after uint64, limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0)
	for _, ev := range s.tail {
		if ev.Seq <= after {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// LastSeq is the sequence number of the newest committed event.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}
