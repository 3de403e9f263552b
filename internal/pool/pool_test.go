package pool

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest/internal/model"
	"github.com/RoanBrand/goingest/internal/store"
)

func init() {
	logrus.SetLevel(logrus.ErrorLevel)
}

type fakeClock struct {
	us atomic.Int64
}

func (c *fakeClock) Now() time.Time   { return time.UnixMicro(c.us.Load()) }
func (c *fakeClock) Set(us int64)     { c.us.Store(us) }
func (c *fakeClock) Advance(us int64) { c.us.Add(us) }

const t0 = 1_700_000_000_000_000

func newTestPool(t *testing.T, slots int) (*Pool, *store.Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{}
	clk.Set(t0)
	mem := store.NewMemory()
	p, err := New(mem, Options{Slots: slots, MaxCommitLag: -1, Clock: clk.Now})
	if err != nil {
		t.Fatal(err)
	}
	return p, mem, clk
}

func testRow(topic string, payload string) *model.Row {
	return &model.Row{ClientID: "c1", Topic: []byte(topic), Payload: []byte(payload), QoS: 1}
}

func TestCommitLag(t *testing.T) {
	t.Parallel()
	p, mem, clk := newTestPool(t, 1)
	defer p.Close()

	// lastWrite starts at 0, so the first append commits
	if _, err := p.AppendRowTo(0, testRow("t", "1")); err != nil {
		t.Fatal(err)
	}
	if mem.Batches() != 1 {
		t.Fatalf("expected first append to commit, got %d batches", mem.Batches())
	}

	clk.Advance(500)
	if _, err := p.AppendRowTo(0, testRow("t", "2")); err != nil {
		t.Fatal(err)
	}
	if mem.Batches() != 1 {
		t.Fatal("append within the commit lag must not commit")
	}

	clk.Advance(1500)
	if _, err := p.AppendRowTo(0, testRow("t", "3")); err != nil {
		t.Fatal(err)
	}
	clk.Advance(1500)
	if _, err := p.AppendRowTo(0, testRow("t", "4")); err != nil {
		t.Fatal(err)
	}
	if mem.Batches() != 3 {
		t.Fatalf("appends more than the lag apart must each commit, got %d batches", mem.Batches())
	}
	if n := len(mem.Records()); n != 4 {
		t.Fatalf("expected 4 committed rows, got %d", n)
	}
}

func TestCheckForCommit(t *testing.T) {
	t.Parallel()
	p, _, clk := newTestPool(t, 1)
	defer p.Close()
	if _, err := p.AppendRowTo(0, testRow("t", "x")); err != nil {
		t.Fatal(err)
	}
	if p.CheckForCommit(0, clk.Now().Add(time.Millisecond)) {
		t.Fatal("exactly the lag is not past it")
	}
	if !p.CheckForCommit(0, clk.Now().Add(time.Millisecond+time.Microsecond)) {
		t.Fatal("expected slot to be due")
	}
}

func TestRowColumns(t *testing.T) {
	t.Parallel()
	p, mem, _ := newTestPool(t, 1)
	row := &model.Row{ClientID: "c1", Topic: []byte("t"), Payload: []byte("hi"), QoS: 2, Retain: true, UTF8: true}
	if _, err := p.AppendRowTo(0, row); err != nil {
		t.Fatal(err)
	}
	row.Payload[0] = 'X' // borrowed buffer reused by the caller
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	recs := mem.Records()
	if len(recs) != 1 {
		t.Fatalf("got %d rows", len(recs))
	}
	r := recs[0]
	if r.Timestamp != t0 || r.Topic != "t" || r.QoS != 2 || !r.Retain || r.ClientID != "c1" {
		t.Fatalf("bad row %+v", r)
	}
	if string(r.PayloadVarchar) != "hi" || r.PayloadBinary != nil {
		t.Fatalf("UTF-8 payload must go to the varchar column: %+v", r)
	}
}

func TestWaitCommittedImmediate(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPool(t, 1)
	defer p.Close()
	rec, err := p.AppendRowTo(0, testRow("t", "x"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err = p.WaitCommitted(ctx, rec); err != nil {
		t.Fatal(err)
	}
}

func TestWaitCommittedForcesCommit(t *testing.T) {
	t.Parallel()
	p, mem, clk := newTestPool(t, 1)
	defer p.Close()
	if _, err := p.AppendRowTo(0, testRow("t", "1")); err != nil {
		t.Fatal(err)
	}
	clk.Advance(100)
	rec, err := p.AppendRowTo(0, testRow("t", "2"))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- p.WaitCommitted(ctx, rec)
	}()

	select {
	case err = <-done:
		t.Fatalf("wait returned before the lag passed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(1000)
	if err = <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(mem.Records()); n != 2 {
		t.Fatalf("expected the wait to commit the row, got %d rows", n)
	}
}

func TestWaitCommittedWokenByCommit(t *testing.T) {
	t.Parallel()
	p, _, clk := newTestPool(t, 1)
	defer p.Close()
	p.AppendRowTo(0, testRow("t", "1"))
	clk.Advance(100)
	rec, _ := p.AppendRowTo(0, testRow("t", "2"))

	done := make(chan error, 1)
	go func() {
		done <- p.WaitCommitted(context.Background(), rec)
	}()
	time.Sleep(5 * time.Millisecond)

	// another writer on the same slot commits it
	clk.Advance(2000)
	if _, err := p.AppendRowTo(0, testRow("t", "3")); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken by commit")
	}
}

func TestWaitCommittedContext(t *testing.T) {
	t.Parallel()
	p, _, clk := newTestPool(t, 1)
	defer p.Close()
	p.AppendRowTo(0, testRow("t", "1"))
	clk.Advance(100)
	rec, _ := p.AppendRowTo(0, testRow("t", "2"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.WaitCommitted(ctx, rec); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFlushStale(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{}
	clk.Set(t0)
	mem := store.NewMemory()
	p, err := New(mem, Options{Slots: 2, MaxCommitLag: DefaultMaxCommitLag, Clock: clk.Now})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	p.AppendRowTo(0, testRow("t", "1"))
	clk.Advance(100)
	p.AppendRowTo(0, testRow("t", "2"))

	p.flushStale(clk.Now().Add(time.Millisecond))
	if n := len(mem.Records()); n != 1 {
		t.Fatalf("row flushed before the max lag: %d rows", n)
	}
	p.flushStale(clk.Now().Add(6 * time.Millisecond))
	if n := len(mem.Records()); n != 2 {
		t.Fatalf("stale row not flushed: %d rows", n)
	}
}

func TestFlushStaleDisabled(t *testing.T) {
	t.Parallel()
	p, mem, clk := newTestPool(t, 1)
	defer p.Close()
	p.AppendRowTo(0, testRow("t", "1"))
	clk.Advance(100)
	p.AppendRowTo(0, testRow("t", "2"))

	p.flushStale(clk.Now().Add(time.Hour))
	if n := len(mem.Records()); n != 1 {
		t.Fatalf("flushed with the flusher disabled: %d rows", n)
	}
}

func TestBackgroundFlusher(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	p, err := New(mem, Options{Slots: 1, MinCommitLag: time.Millisecond, MaxCommitLag: 2 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	p.AppendRowTo(0, testRow("t", "1"))
	p.AppendRowTo(0, testRow("t", "2"))

	deadline := time.Now().Add(5 * time.Second)
	for len(mem.Records()) != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("flusher did not commit, %d rows", len(mem.Records()))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSelectSlot(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPool(t, 4)
	defer p.Close()
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		s := p.SelectSlot(2)
		if s == 2 || s < 0 || s >= 4 {
			t.Fatalf("selected %d", s)
		}
		seen[s] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all other slots to be chosen, got %v", seen)
	}

	one, _, _ := newTestPool(t, 1)
	defer one.Close()
	if one.SelectSlot(0) != 0 {
		t.Fatal("single slot must be returned even when excluded")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	p, mem, clk := newTestPool(t, 2)
	p.AppendRowTo(0, testRow("t", "1"))
	clk.Advance(10)
	rec, _ := p.AppendRowTo(0, testRow("t", "2"))
	p.AppendRowTo(1, testRow("t", "3"))
	clk.Advance(10)
	p.AppendRowTo(1, testRow("t", "4"))

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(mem.Records()); n != 4 {
		t.Fatalf("close must commit pending rows, got %d", n)
	}
	if err := p.WaitCommitted(context.Background(), rec); err != nil {
		t.Fatalf("row committed by close: %v", err)
	}
	if _, err := p.AppendRow(testRow("t", "5")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentAppendsKeepSlotOrder(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	p, err := New(mem, Options{Slots: 4})
	if err != nil {
		t.Fatal(err)
	}

	const perSlot = 300
	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSlot; i++ {
				var b [4]byte
				binary.BigEndian.PutUint32(b[:], uint32(i))
				if _, err := p.AppendRowTo(s, &model.Row{Topic: []byte(fmt.Sprintf("slot/%d", s)), Payload: b[:]}); err != nil {
					t.Error(err)
					return
				}
			}
		}(s)
	}
	wg.Wait()
	if err = p.Close(); err != nil {
		t.Fatal(err)
	}

	last := map[string]int{}
	recs := mem.Records()
	if len(recs) != 4*perSlot {
		t.Fatalf("expected %d rows, got %d", 4*perSlot, len(recs))
	}
	for _, r := range recs {
		n := int(binary.BigEndian.Uint32(r.PayloadBinary))
		if prev, ok := last[r.Topic]; ok && n != prev+1 {
			t.Fatalf("%s: row %d after %d", r.Topic, n, prev)
		}
		last[r.Topic] = n
	}

	var total uint64
	for _, st := range p.Stats() {
		total += st.Rows
		if st.Pending != 0 {
			t.Fatalf("slot %d still pending after close", st.Slot)
		}
	}
	if total != 4*perSlot {
		t.Fatalf("stats count %d rows", total)
	}
}
