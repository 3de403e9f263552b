package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoanBrand/goingest/internal/store"
)

// Slot is one exclusive append log. Its log is only touched while the
// slot is held; lastWrite only moves when the log commits.
type Slot struct {
	index  int
	log    store.Log
	minLag time.Duration

	lock       chan struct{} // held while len == 1
	needCommit bool
	closed     atomic.Bool

	lastWrite atomic.Int64 // unix micros of the last commit
	committed atomic.Uint64
	dirty     atomic.Int64 // rows appended since the last commit
	rows      atomic.Uint64
	commits   atomic.Uint64

	notifyMu sync.Mutex
	notify   chan struct{} // closed and replaced on every commit
}

func newSlot(index int, l store.Log, minLag time.Duration) *Slot {
	return &Slot{
		index:  index,
		log:    l,
		minLag: minLag,
		lock:   make(chan struct{}, 1),
		notify: make(chan struct{}),
	}
}

// acquire blocks until the slot is held or ctx is done.
func (s *Slot) acquire(ctx context.Context, now time.Time) error {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.onAcquire(now)
	return nil
}

// tryAcquire gives up with ErrNotAcquired after timeout.
func (s *Slot) tryAcquire(now time.Time, timeout time.Duration) error {
	select {
	case s.lock <- struct{}{}:
		s.onAcquire(now)
		return nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.lock <- struct{}{}:
		s.onAcquire(now)
		return nil
	case <-t.C:
		return ErrNotAcquired
	}
}

func (s *Slot) onAcquire(now time.Time) {
	if s.checkForCommit(now) {
		s.needCommit = true
	}
}

// release commits when needed, then lets the next writer in.
func (s *Slot) release(now time.Time) error {
	var err error
	if s.needCommit && !s.closed.Load() && s.dirty.Load() > 0 {
		err = s.commit(now)
	}
	s.needCommit = false
	<-s.lock
	return err
}

func (s *Slot) commit(now time.Time) error {
	seq, err := s.log.Commit()
	if err != nil {
		return err
	}
	s.committed.Store(seq)
	s.lastWrite.Store(now.UnixMicro())
	s.dirty.Store(0)
	s.commits.Add(1)
	s.wake()
	return nil
}

func (s *Slot) wake() {
	s.notifyMu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.notifyMu.Unlock()
}

// committedSignal returns a channel closed by the next commit.
func (s *Slot) committedSignal() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notify
}

// checkForCommit reports whether the minimum commit lag has passed since
// the last commit. It does not need the slot to be held.
func (s *Slot) checkForCommit(now time.Time) bool {
	return now.UnixMicro()-s.lastWrite.Load() > s.minLag.Microseconds()
}

func (s *Slot) sinceCommit(now time.Time) time.Duration {
	return time.Duration(now.UnixMicro()-s.lastWrite.Load()) * time.Microsecond
}

// Stats is a point in time view of a slot.
type Stats struct {
	Slot         int       `json:"slot"`
	Rows         uint64    `json:"rows"`
	Commits      uint64    `json:"commits"`
	Pending      int64     `json:"pending"`
	CommittedSeq uint64    `json:"committed_seq"`
	LastCommit   time.Time `json:"last_commit"`
}

func (s *Slot) stats() Stats {
	st := Stats{
		Slot:         s.index,
		Rows:         s.rows.Load(),
		Commits:      s.commits.Load(),
		Pending:      s.dirty.Load(),
		CommittedSeq: s.committed.Load(),
	}
	if lw := s.lastWrite.Load(); lw > 0 {
		st.LastCommit = time.UnixMicro(lw)
	}
	return st
}
