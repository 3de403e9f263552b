package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/RoanBrand/goingest/internal/store"
)

const (
	DefaultTCPAddress        = ":1883"
	DefaultSlots             = 4
	DefaultMinCommitLagUs    = 1000
	DefaultMaxCommitLagUs    = 5000
	DefaultAcquireTimeoutUs  = 5000
	DefaultReceiveMaximum    = 1
	DefaultConnectTimeoutSec = 10
)

type Config struct {
	// TCP Address optionally specifies the TCP address for the server to listen on,
	// in the form "host:port". If empty, and no other network protocol is used, ":1883" is used.
	TCP struct {
		Address string `json:"address" yaml:"address"`
	} `json:"tcp" yaml:"tcp"`

	// WS Address optionally specifies an address for the server to listen on for Websocket connections,
	// in the form "host:port". If empty, Websocket is not used.
	WS struct {
		Address     string `json:"address" yaml:"address"`
		CheckOrigin bool   `json:"check_origin" yaml:"check_origin"`
	} `json:"ws" yaml:"ws"`

	// HTTP Address optionally specifies an address for the status endpoints. If empty, they are not served.
	HTTP struct {
		Address string `json:"address" yaml:"address"`
	} `json:"http" yaml:"http"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file" yaml:"file"`
		Level string `json:"level" yaml:"level"`
	} `json:"log" yaml:"log"`

	// Store selects where accepted messages are written. Default is memory.
	Store store.Options `json:"store" yaml:"store"`

	// Pool configures the commit slots shared by all connections.
	Pool struct {
		Slots int `json:"slots" yaml:"slots"`
		// Minimum time in µs between two commits of one slot.
		MinCommitLagUs int64 `json:"min_commit_lag_us" yaml:"min_commit_lag_us"`
		// Rows pending longer than this are committed in the background.
		// Set to -1 to disable the background flusher.
		MaxCommitLagUs   int64 `json:"max_commit_lag_us" yaml:"max_commit_lag_us"`
		AcquireTimeoutUs int64 `json:"acquire_timeout_us" yaml:"acquire_timeout_us"`
	} `json:"pool" yaml:"pool"`

	MQTT struct {
		// Advertised in CONNACK. Maximum QoS 2 PUBLISH awaiting PUBREL per connection.
		ReceiveMaximum int `json:"receive_maximum" yaml:"receive_maximum"`
		// If > 0, topic aliases up to this value are accepted.
		TopicAliasMaximum int `json:"topic_alias_maximum" yaml:"topic_alias_maximum"`
		// If > 0, larger packets are refused.
		MaxPacketSize int `json:"max_packet_size" yaml:"max_packet_size"`
		// Seconds a new connection has to send CONNECT.
		ConnectTimeoutSec int `json:"connect_timeout" yaml:"connect_timeout"`
		// If > 0, further connections are refused with Server busy.
		MaxConnections int `json:"max_connections" yaml:"max_connections"`
	} `json:"mqtt" yaml:"mqtt"`
}

// LoadFromFile reads YAML for .yaml and .yml files, JSON otherwise.
func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.Wrap(err, "error opening config file")
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(fPath)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(c)
	default:
		err = json.NewDecoder(f).Decode(c)
	}
	if err != nil {
		return errors.Wrap(err, "error reading config file")
	}

	return c.Validate()
}

// Validate fills in defaults and rejects impossible settings.
func (c *Config) Validate() error {
	if c.TCP.Address == "" && c.WS.Address == "" {
		c.TCP.Address = DefaultTCPAddress // default to basic TCP only server if nothing specified.
	}
	if c.TCP.Address != "" && !strings.Contains(c.TCP.Address, ":") {
		c.TCP.Address += ":1883" // if just ip/host specified
	}
	if c.WS.Address != "" && !strings.Contains(c.WS.Address, ":") {
		c.WS.Address += ":80"
	}
	if c.HTTP.Address != "" && !strings.Contains(c.HTTP.Address, ":") {
		c.HTTP.Address += ":8080"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = store.BackendMemory
	}
	switch c.Store.Backend {
	case store.BackendBadger, store.BackendPebble, store.BackendSQLite:
		if c.Store.Path == "" {
			return errors.Errorf("store backend %q needs a path", c.Store.Backend)
		}
	case store.BackendInfluxDB, store.BackendMongoDB:
		if c.Store.URL == "" {
			return errors.Errorf("store backend %q needs a url", c.Store.Backend)
		}
	}

	p := &c.Pool
	if p.Slots == 0 {
		p.Slots = DefaultSlots
	}
	if p.Slots < 0 {
		return errors.Errorf("invalid pool slot count %d", p.Slots)
	}
	if p.MinCommitLagUs <= 0 {
		p.MinCommitLagUs = DefaultMinCommitLagUs
	}
	if p.MaxCommitLagUs == 0 {
		p.MaxCommitLagUs = DefaultMaxCommitLagUs
	}
	if p.AcquireTimeoutUs <= 0 {
		p.AcquireTimeoutUs = DefaultAcquireTimeoutUs
	}

	m := &c.MQTT
	if m.ReceiveMaximum == 0 {
		m.ReceiveMaximum = DefaultReceiveMaximum
	}
	if m.ReceiveMaximum < 0 || m.ReceiveMaximum > 65535 {
		return errors.Errorf("invalid receive maximum %d", m.ReceiveMaximum)
	}
	if m.TopicAliasMaximum < 0 || m.TopicAliasMaximum > 65535 {
		return errors.Errorf("invalid topic alias maximum %d", m.TopicAliasMaximum)
	}
	if m.MaxPacketSize < 0 {
		return errors.Errorf("invalid max packet size %d", m.MaxPacketSize)
	}
	if m.ConnectTimeoutSec <= 0 {
		m.ConnectTimeoutSec = DefaultConnectTimeoutSec
	}

	return nil
}
