package tests_test

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest"
	"github.com/RoanBrand/goingest/internal/store"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

func TestConcurrentIngestPebble(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s := &goingest.Server{}
	s.TCP.Address = "127.0.0.1:0"
	s.Store.Backend = store.BackendPebble
	s.Store.Path = dir
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	const clients, perClient = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := dial(s.Addr().String(), fmt.Sprintf("sensor-%d", i))
			if err != nil {
				errs <- err
				return
			}
			defer c.stop()
			for n := 0; n < perClient; n++ {
				qos := uint8(n % 3)
				if err := c.publish(fmt.Sprintf("plant/%d/reading", i), qos, []byte(fmt.Sprint(n))); err != nil {
					errs <- err
					return
				}
			}
			errs <- c.ping()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	s.Shutdown()

	db, err := store.OpenPebble(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	perTopic := map[string]int{}
	qosCount := [3]int{}
	err = db.Scan(func(r store.Record) error {
		perTopic[r.Topic]++
		qosCount[r.QoS]++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < clients; i++ {
		if got := perTopic[fmt.Sprintf("plant/%d/reading", i)]; got != perClient {
			t.Fatalf("client %d: %d rows", i, got)
		}
	}
	if qosCount[0] == 0 || qosCount[1] == 0 || qosCount[2] == 0 {
		t.Fatalf("qos spread %v", qosCount)
	}
}
