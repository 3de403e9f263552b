package store

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// Pebble is a Table in a pebble database directory.
// Every commit is one synced batch.
type Pebble struct {
	db  *pebble.DB
	seq sequencer
	ids rowIDs
}

func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open pebble")
	}

	return &Pebble{db: db}, nil
}

func (s *Pebble) NewLog() (Log, error) {
	return newBufferedLog(&s.seq, s.write), nil
}

func (s *Pebble) write(recs []Record) error {
	b := s.db.NewBatch()
	defer b.Close()
	for i := range recs {
		if err := b.Set(s.ids.key(recs[i].Timestamp), encodeRecord(&recs[i]), pebble.Sync); err != nil {
			return err
		}
	}

	return b.Commit(pebble.Sync)
}

// Scan calls fn for every committed row in time order.
func (s *Pebble) Scan(fn func(r Record) error) error {
	it, err := s.db.NewIter(prefixIterOptions(rowPrefix))
	if err != nil {
		return err
	}

	for it.First(); it.Valid(); it.Next() {
		r, err := decodeRecord(it.Value())
		if err != nil {
			it.Close()
			return err
		}
		if err = fn(r); err != nil {
			it.Close()
			return err
		}
	}

	return it.Close()
}

func (s *Pebble) Close() error {
	return s.db.Close()
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	}
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper-bound
}
