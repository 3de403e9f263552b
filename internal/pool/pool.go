// Package pool shares a small fixed set of append logs between all
// connections. Commits are batched by wall-clock lag: a slot commits on
// release once MinCommitLag has passed since its previous commit, and a
// background flusher commits anything left pending beyond MaxCommitLag.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest/internal/model"
	"github.com/RoanBrand/goingest/internal/store"
)

const (
	DefaultSlots          = 4
	DefaultMinCommitLag   = 1000 * time.Microsecond
	DefaultMaxCommitLag   = 5000 * time.Microsecond
	DefaultAcquireTimeout = 5 * time.Millisecond
)

var (
	ErrClosed      = errors.New("pool: closed")
	ErrNotAcquired = errors.New("pool: slot not acquired")
)

type Options struct {
	Slots        int
	MinCommitLag time.Duration
	// MaxCommitLag bounds how long an appended row may stay uncommitted
	// when no further appends arrive. Negative disables the flusher.
	MaxCommitLag time.Duration
	// AcquireTimeout is how long opportunistic and background commits
	// wait for a busy slot.
	AcquireTimeout time.Duration
	Clock          func() time.Time
}

func (o *Options) setDefaults() {
	if o.Slots <= 0 {
		o.Slots = DefaultSlots
	}
	if o.MinCommitLag <= 0 {
		o.MinCommitLag = DefaultMinCommitLag
	}
	if o.MaxCommitLag == 0 {
		o.MaxCommitLag = DefaultMaxCommitLag
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Pool is a fixed set of slots over one table.
type Pool struct {
	opts  Options
	slots []*Slot

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	wg        sync.WaitGroup
}

// Receipt records where a row was appended. Seq is the slot's committed
// sequence at append time, so the row is durable once the slot's
// committed sequence is greater.
type Receipt struct {
	Slot      int
	Submitted time.Time
	Seq       uint64
}

// New opens one log per slot on t.
func New(t store.Table, opts Options) (*Pool, error) {
	opts.setDefaults()
	p := &Pool{
		opts:  opts,
		slots: make([]*Slot, opts.Slots),
		done:  make(chan struct{}),
	}
	for i := range p.slots {
		l, err := t.NewLog()
		if err != nil {
			for _, s := range p.slots[:i] {
				s.log.Close()
			}
			return nil, errors.Wrapf(err, "open log for slot %d", i)
		}
		p.slots[i] = newSlot(i, l, opts.MinCommitLag)
	}

	if opts.MaxCommitLag > 0 {
		p.wg.Add(1)
		go p.flushLoop()
	}
	return p, nil
}

func (p *Pool) now() time.Time { return p.opts.Clock() }

// Len is the number of slots.
func (p *Pool) Len() int { return len(p.slots) }

// SelectSlot picks a slot uniformly at random, never exclude unless it
// is the only slot. Pass -1 to consider every slot.
func (p *Pool) SelectSlot(exclude int) int {
	n := len(p.slots)
	if exclude < 0 || exclude >= n || n == 1 {
		return rand.Intn(n)
	}
	i := rand.Intn(n - 1)
	if i >= exclude {
		i++
	}
	return i
}

// AppendRow appends row to a random slot.
func (p *Pool) AppendRow(row *model.Row) (Receipt, error) {
	return p.AppendRowTo(p.SelectSlot(-1), row)
}

// AppendRowTo appends row to slot idx, committing on release when the
// slot's lag has passed. A different slot that is overdue is then
// committed as well, if it can be held within the acquire timeout.
func (p *Pool) AppendRowTo(idx int, row *model.Row) (Receipt, error) {
	if p.closed.Load() {
		return Receipt{}, ErrClosed
	}
	s := p.slots[idx]
	now := p.now()
	if err := s.acquire(context.Background(), now); err != nil {
		return Receipt{}, err
	}
	if s.closed.Load() {
		<-s.lock
		return Receipt{}, ErrClosed
	}

	if err := writeRow(s.log, now.UnixMicro(), row); err != nil {
		s.release(now)
		return Receipt{}, errors.Wrapf(err, "append to slot %d", idx)
	}
	s.dirty.Add(1)
	s.rows.Add(1)
	rec := Receipt{Slot: idx, Submitted: now, Seq: s.committed.Load()}
	if err := s.release(now); err != nil {
		return rec, errors.Wrapf(err, "commit slot %d", idx)
	}

	if other := p.SelectSlot(idx); other != idx {
		p.commitIfOverdue(p.slots[other], now)
	}
	return rec, nil
}

func writeRow(l store.Log, ts int64, row *model.Row) error {
	r := l.NewRow(ts)
	r.PutVarchar(store.ColTopic, row.Topic)
	r.PutByte(store.ColQoS, row.QoS)
	r.PutBool(store.ColRetain, row.Retain)
	r.PutVarchar(store.ColClientID, []byte(row.ClientID))
	if row.UTF8 {
		r.PutVarchar(store.ColPayloadVarchar, row.Payload)
	} else {
		r.PutBin(store.ColPayloadBinary, row.Payload)
	}
	return r.Append()
}

func (p *Pool) commitIfOverdue(s *Slot, now time.Time) {
	if s.dirty.Load() == 0 || !s.checkForCommit(now) {
		return
	}
	if err := s.tryAcquire(now, p.opts.AcquireTimeout); err != nil {
		return
	}
	if err := s.release(now); err != nil {
		log.WithFields(log.Fields{
			"slot": s.index,
			"err":  err,
		}).Error("commit of overdue slot failed")
	}
}

// CheckForCommit reports whether slot idx is past its minimum commit lag at now.
func (p *Pool) CheckForCommit(idx int, now time.Time) bool {
	return p.slots[idx].checkForCommit(now)
}

// WaitCommitted blocks until the row behind r is durable. Once the
// slot's minimum commit lag has passed it forces the commit itself.
func (p *Pool) WaitCommitted(ctx context.Context, r Receipt) error {
	s := p.slots[r.Slot]
	for {
		signal := s.committedSignal()
		if s.committed.Load() > r.Seq {
			return nil
		}
		if s.closed.Load() {
			return ErrClosed
		}

		now := p.now()
		wait := p.opts.MinCommitLag - s.sinceCommit(now)
		if wait < 0 {
			if err := s.acquire(ctx, now); err != nil {
				return err
			}
			if s.committed.Load() <= r.Seq {
				s.needCommit = true
			}
			if err := s.release(now); err != nil {
				return errors.Wrapf(err, "commit slot %d", r.Slot)
			}
			continue
		}

		t := time.NewTimer(wait + time.Microsecond)
		select {
		case <-signal:
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		t.Stop()
	}
}

func (p *Pool) flushLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.opts.MinCommitLag)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			p.flushStale(p.now())
		}
	}
}

// flushStale commits every slot holding rows older than MaxCommitLag.
// Busy slots are skipped; their holder commits on release.
func (p *Pool) flushStale(now time.Time) {
	if p.opts.MaxCommitLag <= 0 {
		return
	}
	for _, s := range p.slots {
		if s.dirty.Load() == 0 || s.sinceCommit(now) <= p.opts.MaxCommitLag {
			continue
		}
		if err := s.tryAcquire(now, p.opts.AcquireTimeout); err != nil {
			continue
		}
		s.needCommit = true
		if err := s.release(now); err != nil {
			log.WithFields(log.Fields{
				"slot": s.index,
				"err":  err,
			}).Error("background commit failed")
		}
	}
}

// Stats returns a snapshot of every slot.
func (p *Pool) Stats() []Stats {
	st := make([]Stats, len(p.slots))
	for i, s := range p.slots {
		st[i] = s.stats()
	}
	return st
}

// Close stops the flusher, then holds each slot in turn to commit and
// close its log. Appends and waits after Close fail with ErrClosed.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()

		for _, s := range p.slots {
			now := p.now()
			s.lock <- struct{}{}
			if s.dirty.Load() > 0 {
				if err := s.commit(now); err != nil && p.closeErr == nil {
					p.closeErr = errors.Wrapf(err, "final commit of slot %d", s.index)
				}
			}
			if err := s.log.Close(); err != nil && p.closeErr == nil {
				p.closeErr = errors.Wrapf(err, "close slot %d", s.index)
			}
			s.closed.Store(true)
			<-s.lock
			s.wake()
		}
	})
	return p.closeErr
}
