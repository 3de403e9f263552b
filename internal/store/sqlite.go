package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS mqtt (
	timestamp      INTEGER NOT NULL,
	topic          TEXT,
	qos            INTEGER,
	retain         INTEGER,
	clientId       TEXT,
	payloadBinary  BLOB,
	payloadVarchar TEXT
)`

const sqliteInsert = `INSERT INTO mqtt (timestamp, topic, qos, retain, clientId, payloadBinary, payloadVarchar)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// SQLite is a Table in an SQLite database file.
// Every commit is one SQL transaction.
type SQLite struct {
	db  *sql.DB
	seq sequencer
}

func OpenSQLite(path string, busyTimeout time.Duration) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err = db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating mqtt table")
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) NewLog() (Log, error) {
	return newBufferedLog(&s.seq, s.write), nil
}

func (s *SQLite) write(recs []Record) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range recs {
		r := &recs[i]
		var varchar interface{}
		if r.PayloadVarchar != nil {
			varchar = string(r.PayloadVarchar)
		}
		var bin interface{}
		if r.PayloadBinary != nil {
			bin = r.PayloadBinary
		}
		if _, err = stmt.ExecContext(ctx, r.Timestamp, r.Topic, int(r.QoS), r.Retain, r.ClientID, bin, varchar); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Scan calls fn for every committed row in insertion order.
func (s *SQLite) Scan(fn func(r Record) error) error {
	rows, err := s.db.Query(`SELECT timestamp, topic, qos, retain, clientId, payloadBinary, payloadVarchar
		FROM mqtt ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r       Record
			qos     int
			bin     []byte
			varchar sql.NullString
		)
		if err = rows.Scan(&r.Timestamp, &r.Topic, &qos, &r.Retain, &r.ClientID, &bin, &varchar); err != nil {
			return err
		}
		r.QoS = byte(qos)
		if bin != nil {
			r.PayloadBinary = bin
		}
		if varchar.Valid {
			r.PayloadVarchar = []byte(varchar.String)
		}
		if err = fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
