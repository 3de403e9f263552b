package store

import "github.com/pkg/errors"

// bufferedLog keeps appended rows in memory until Commit hands them to
// the backend's write function as one batch.
type bufferedLog struct {
	seq     *sequencer
	write   func(recs []Record) error
	pending []Record
	row     row
	closed  bool
}

func newBufferedLog(seq *sequencer, write func(recs []Record) error) *bufferedLog {
	return &bufferedLog{seq: seq, write: write}
}

func (l *bufferedLog) NewRow(timestamp int64) Row {
	l.row = row{log: l, rec: Record{Timestamp: timestamp}}
	return &l.row
}

// Commit writes the pending rows. On failure they stay pending and are
// retried by the next Commit.
func (l *bufferedLog) Commit() (uint64, error) {
	if l.closed {
		return 0, ErrClosed
	}
	if len(l.pending) > 0 {
		if err := l.write(l.pending); err != nil {
			return 0, errors.Wrapf(err, "commit %d rows", len(l.pending))
		}
		for i := range l.pending {
			l.pending[i] = Record{}
		}
		l.pending = l.pending[:0]
	}
	return l.seq.next(), nil
}

func (l *bufferedLog) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if n := len(l.pending); n > 0 {
		l.pending = nil
		return errors.Errorf("log closed with %d uncommitted rows", n)
	}
	return nil
}

type row struct {
	log *bufferedLog
	rec Record
	err error
}

func (r *row) bad(col int, kind string) {
	if r.err == nil {
		r.err = errors.Errorf("column %d is not %s", col, kind)
	}
}

func (r *row) PutVarchar(col int, v []byte) {
	switch col {
	case ColTopic:
		r.rec.Topic = string(v)
	case ColClientID:
		r.rec.ClientID = string(v)
	case ColPayloadVarchar:
		r.rec.PayloadVarchar = append(make([]byte, 0, len(v)), v...)
	default:
		r.bad(col, "varchar")
	}
}

func (r *row) PutByte(col int, v byte) {
	if col != ColQoS {
		r.bad(col, "byte")
		return
	}
	r.rec.QoS = v
}

func (r *row) PutBool(col int, v bool) {
	if col != ColRetain {
		r.bad(col, "bool")
		return
	}
	r.rec.Retain = v
}

func (r *row) PutBin(col int, v []byte) {
	if col != ColPayloadBinary {
		r.bad(col, "binary")
		return
	}
	r.rec.PayloadBinary = append(make([]byte, 0, len(v)), v...)
}

func (r *row) Append() error {
	if r.err != nil {
		return r.err
	}
	if r.log.closed {
		return ErrClosed
	}
	r.log.pending = append(r.log.pending, r.rec)
	r.rec = Record{}
	return nil
}
