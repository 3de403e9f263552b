package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RoanBrand/goingest/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var c Config
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.TCP.Address != DefaultTCPAddress {
		t.Fatal("tcp address", c.TCP.Address)
	}
	if c.Store.Backend != store.BackendMemory {
		t.Fatal("backend", c.Store.Backend)
	}
	if c.Pool.Slots != 4 || c.Pool.MinCommitLagUs != 1000 || c.Pool.MaxCommitLagUs != 5000 {
		t.Fatalf("pool defaults %+v", c.Pool)
	}
	if c.MQTT.ReceiveMaximum != 1 || c.MQTT.ConnectTimeoutSec != 10 {
		t.Fatalf("mqtt defaults %+v", c.MQTT)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{
		"tcp": {"address": "127.0.0.1"},
		"ws": {"address": ":9001", "check_origin": true},
		"store": {"backend": "pebble", "path": "/var/lib/goingest"},
		"pool": {"slots": 8, "max_commit_lag_us": -1},
		"mqtt": {"receive_maximum": 16, "topic_alias_maximum": 10}
	}`)
	var c Config
	if err := c.LoadFromFile(p); err != nil {
		t.Fatal(err)
	}
	if c.TCP.Address != "127.0.0.1:1883" {
		t.Fatal(c.TCP.Address)
	}
	if c.WS.Address != ":9001" || !c.WS.CheckOrigin {
		t.Fatalf("%+v", c.WS)
	}
	if c.Store.Backend != store.BackendPebble || c.Store.Path != "/var/lib/goingest" {
		t.Fatalf("%+v", c.Store)
	}
	if c.Pool.Slots != 8 || c.Pool.MaxCommitLagUs != -1 || c.Pool.MinCommitLagUs != 1000 {
		t.Fatalf("%+v", c.Pool)
	}
	if c.MQTT.ReceiveMaximum != 16 || c.MQTT.TopicAliasMaximum != 10 {
		t.Fatalf("%+v", c.MQTT)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
ws:
  address: localhost
http:
  address: ":8080"
log:
  level: debug
store:
  backend: sqlite
  path: ingest.db
  timeout_ms: 250
mqtt:
  max_packet_size: 65536
`)
	var c Config
	if err := c.LoadFromFile(p); err != nil {
		t.Fatal(err)
	}
	if c.TCP.Address != "" {
		t.Fatal("tcp should stay off when ws is set:", c.TCP.Address)
	}
	if c.WS.Address != "localhost:80" || c.HTTP.Address != ":8080" || c.Log.Level != "debug" {
		t.Fatalf("%+v %+v %+v", c.WS, c.HTTP, c.Log)
	}
	if c.Store.Backend != store.BackendSQLite || c.Store.TimeoutMs != 250 {
		t.Fatalf("%+v", c.Store)
	}
	if c.MQTT.MaxPacketSize != 65536 {
		t.Fatal(c.MQTT.MaxPacketSize)
	}
}

func TestInvalid(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"pathless badger":   `{"store": {"backend": "badger"}}`,
		"urlless mongo":     `{"store": {"backend": "mongodb"}}`,
		"receive maximum":   `{"mqtt": {"receive_maximum": 70000}}`,
		"negative slots":    `{"pool": {"slots": -2}}`,
		"alias maximum":     `{"mqtt": {"topic_alias_maximum": -1}}`,
		"not json":          `tcp: {}`,
		"negative max size": `{"mqtt": {"max_packet_size": -5}}`,
	}
	for name, content := range cases {
		content := content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var c Config
			if err := c.LoadFromFile(writeFile(t, "config.json", content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	var c Config
	if err := c.LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
