package store

import (
	"time"

	"github.com/pkg/errors"
)

// Backends
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPebble   = "pebble"
	BackendSQLite   = "sqlite"
	BackendInfluxDB = "influxdb"
	BackendMongoDB  = "mongodb"
)

// Options selects and configures a backend.
type Options struct {
	Backend string `json:"backend" yaml:"backend"`
	// Path is the database directory for badger and pebble, the file for sqlite.
	Path string `json:"path" yaml:"path"`
	// URL of the influxdb or mongodb server.
	URL      string `json:"url" yaml:"url"`
	Token    string `json:"token" yaml:"token"`
	Org      string `json:"org" yaml:"org"`
	Bucket   string `json:"bucket" yaml:"bucket"`
	Database string `json:"database" yaml:"database"`
	// TimeoutMs bounds connects and network commits, and is the sqlite busy timeout.
	TimeoutMs int `json:"timeout_ms" yaml:"timeout_ms"`
}

func (o Options) timeout() time.Duration {
	if o.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// Open opens the table of the configured backend.
func Open(o Options) (Table, error) {
	var (
		t   Table
		err error
	)
	switch o.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendBadger:
		t, err = OpenBadger(o.Path)
	case BackendPebble:
		t, err = OpenPebble(o.Path)
	case BackendSQLite:
		t, err = OpenSQLite(o.Path, o.timeout())
	case BackendInfluxDB:
		t, err = OpenInflux(o.URL, o.Token, o.Org, o.Bucket, o.timeout())
	case BackendMongoDB:
		t, err = OpenMongo(o.URL, o.Database, o.timeout())
	default:
		return nil, errors.Errorf("unknown store backend %q", o.Backend)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
