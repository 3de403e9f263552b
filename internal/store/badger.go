package store

import (
	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

// Badger is a Table in a badger database directory.
// Every commit is one read-write transaction.
type Badger struct {
	db  *badger.DB
	seq sequencer
	ids rowIDs
}

func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}

	return &Badger{db: db}, nil
}

func (s *Badger) NewLog() (Log, error) {
	return newBufferedLog(&s.seq, s.write), nil
}

func (s *Badger) write(recs []Record) error {
	txn := s.db.NewTransaction(true)
	for i := range recs {
		key, val := s.ids.key(recs[i].Timestamp), encodeRecord(&recs[i])
		if err := txn.Set(key, val); err != nil {
			if err != badger.ErrTxnTooBig {
				txn.Discard()
				return err
			}
			if err = txn.Commit(nil); err != nil {
				txn.Discard()
				return err
			}
			txn = s.db.NewTransaction(true)
			if err = txn.Set(key, val); err != nil {
				txn.Discard()
				return err
			}
		}
	}

	return txn.Commit(nil)
}

// Scan calls fn for every committed row in time order.
func (s *Badger) Scan(fn func(r Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(rowPrefix); it.ValidForPrefix(rowPrefix); it.Next() {
			val, err := it.Item().Value()
			if err != nil {
				return err
			}
			r, err := decodeRecord(val)
			if err != nil {
				return err
			}
			if err = fn(r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Badger) Close() error {
	return s.db.Close()
}
