// Package store holds the append-only logs that accepted PUBLISH
// messages are written to. Every backend buffers appended rows until
// Commit, which makes them durable as one batch.
package store

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// TableName is the table, bucket or collection rows are written to.
const TableName = "mqtt"

// Columns of the mqtt table.
const (
	ColTimestamp = iota
	ColTopic
	ColQoS
	ColRetain
	ColClientID
	ColPayloadBinary
	ColPayloadVarchar
)

// ErrClosed is returned by a Log or Table used after Close.
var ErrClosed = errors.New("store: closed")

// Table hands out logs onto one table. A Log is used by one writer at a time.
type Table interface {
	NewLog() (Log, error)
	Close() error
}

// Log is a single-writer append handle.
type Log interface {
	// NewRow starts a row stamped with a time in microseconds since the epoch.
	NewRow(timestamp int64) Row
	// Commit makes every appended row durable and returns a sequence
	// number that increases with every commit.
	Commit() (uint64, error)
	Close() error
}

// Row is filled column by column, then appended. Values are copied.
type Row interface {
	PutVarchar(col int, v []byte)
	PutByte(col int, v byte)
	PutBool(col int, v bool)
	PutBin(col int, v []byte)
	Append() error
}

// Record is one row of the mqtt table.
type Record struct {
	Timestamp      int64
	Topic          string
	QoS            byte
	Retain         bool
	ClientID       string
	PayloadBinary  []byte // nil is NULL
	PayloadVarchar []byte // nil is NULL
}

// sequencer numbers commits across all logs of a table.
type sequencer struct {
	n atomic.Uint64
}

func (s *sequencer) next() uint64 { return s.n.Add(1) }
