package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func appendTestRow(t *testing.T, l Log, ts int64, topic string, payload []byte, utf8 bool) {
	t.Helper()
	r := l.NewRow(ts)
	r.PutVarchar(ColTopic, []byte(topic))
	r.PutByte(ColQoS, 1)
	r.PutBool(ColRetain, true)
	r.PutVarchar(ColClientID, []byte("c1"))
	if utf8 {
		r.PutVarchar(ColPayloadVarchar, payload)
	} else {
		r.PutBin(ColPayloadBinary, payload)
	}
	if err := r.Append(); err != nil {
		t.Fatal(err)
	}
}

type scanner interface {
	Table
	Scan(fn func(r Record) error) error
}

// testTable writes two batches through two logs and reads them back.
func testTable(t *testing.T, tbl scanner) {
	l1, err := tbl.NewLog()
	if err != nil {
		t.Fatal(err)
	}
	l2, err := tbl.NewLog()
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte{0x00, 0xFF, 'x'}
	appendTestRow(t, l1, 1000, "a/b", payload, false)
	payload[0] = 0x7F // rows own their values
	appendTestRow(t, l1, 1001, "a/c", []byte("text"), true)
	s1, err := l1.Commit()
	if err != nil {
		t.Fatal(err)
	}
	appendTestRow(t, l2, 1002, "a/d", []byte{}, false)
	s2, err := l2.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if s2 <= s1 {
		t.Fatalf("sequence numbers must increase: %d then %d", s1, s2)
	}

	var got []Record
	if err = tbl.Scan(func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	r := got[0]
	if r.Timestamp != 1000 || r.Topic != "a/b" || r.QoS != 1 || !r.Retain || r.ClientID != "c1" {
		t.Fatalf("bad row %+v", r)
	}
	if !bytes.Equal(r.PayloadBinary, []byte{0x00, 0xFF, 'x'}) || r.PayloadVarchar != nil {
		t.Fatalf("bad binary payload %+v", r)
	}
	if string(got[1].PayloadVarchar) != "text" || got[1].PayloadBinary != nil {
		t.Fatalf("bad varchar payload %+v", got[1])
	}
	if got[2].PayloadBinary == nil || len(got[2].PayloadBinary) != 0 {
		t.Fatalf("empty payload must not be NULL: %+v", got[2])
	}

	if err = l1.Close(); err != nil {
		t.Fatal(err)
	}
	if err = l2.Close(); err != nil {
		t.Fatal(err)
	}
	if err = tbl.Close(); err != nil {
		t.Fatal(err)
	}
}

type memScanner struct{ *Memory }

func (m memScanner) Scan(fn func(r Record) error) error {
	for _, r := range m.Records() {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func TestMemory(t *testing.T) {
	t.Parallel()
	testTable(t, memScanner{NewMemory()})
}

func TestBadger(t *testing.T) {
	t.Parallel()
	tbl, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	testTable(t, tbl)
}

func TestPebble(t *testing.T) {
	t.Parallel()
	tbl, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	testTable(t, tbl)
}

func TestSQLite(t *testing.T) {
	t.Parallel()
	tbl, err := OpenSQLite(filepath.Join(t.TempDir(), "ingest.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	testTable(t, tbl)
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := Open(Options{Backend: "tape"}); err == nil {
		t.Fatal("expected error")
	}
	tbl, err := Open(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.(*Memory); !ok {
		t.Fatalf("default backend is memory, got %T", tbl)
	}
}

func TestUncommittedRowsAreNotVisible(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	l, _ := m.NewLog()
	appendTestRow(t, l, 1, "t", []byte("p"), false)
	if len(m.Records()) != 0 {
		t.Fatal("row visible before commit")
	}
	if _, err := l.Commit(); err != nil {
		t.Fatal(err)
	}
	if len(m.Records()) != 1 || m.Batches() != 1 {
		t.Fatalf("got %d rows in %d batches", len(m.Records()), m.Batches())
	}
	if _, err := l.Commit(); err != nil {
		t.Fatal(err)
	}
	if m.Batches() != 1 {
		t.Fatal("empty commit must not write a batch")
	}
}

func TestRowRejectsWrongColumn(t *testing.T) {
	t.Parallel()
	l, _ := NewMemory().NewLog()
	r := l.NewRow(1)
	r.PutByte(ColTopic, 1)
	if err := r.Append(); err == nil {
		t.Fatal("expected column type error")
	}
}

func TestClosedLog(t *testing.T) {
	t.Parallel()
	l, _ := NewMemory().NewLog()
	appendTestRow(t, l, 1, "t", nil, false)
	if err := l.Close(); err == nil {
		t.Fatal("closing with uncommitted rows must report them")
	}
	if _, err := l.Commit(); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecordCodec(t *testing.T) {
	t.Parallel()
	in := Record{Timestamp: 1700000000000000, Topic: "x/y", QoS: 2, ClientID: "id", PayloadVarchar: []byte("héllo")}
	out, err := decodeRecord(encodeRecord(&in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Timestamp != in.Timestamp || out.Topic != in.Topic || out.QoS != 2 || out.Retain || out.ClientID != "id" {
		t.Fatalf("got %+v", out)
	}
	if out.PayloadBinary != nil || string(out.PayloadVarchar) != "héllo" {
		t.Fatalf("bad payload columns %+v", out)
	}
	if _, err = decodeRecord([]byte{0x80}); err == nil {
		t.Fatal("expected error for truncated record")
	}
}

func TestRecordPointAndDocument(t *testing.T) {
	t.Parallel()
	r := Record{Timestamp: 5, Topic: "t", QoS: 1, ClientID: "c", PayloadBinary: []byte{1}}
	if p := recordPoint(&r); p.Name() != TableName || p.Time().UnixMicro() != 5 {
		t.Fatalf("bad point %v", p)
	}
	d := recordDocument(&r)
	if len(d) != 7 || d[0].Key != "timestamp" || d[6].Value != nil {
		t.Fatalf("bad document %v", d)
	}
}
