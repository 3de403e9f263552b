package store

import "sync"

// Memory is a Table kept in process memory. Nothing survives a restart.
type Memory struct {
	seq     sequencer
	mu      sync.Mutex
	records []Record
	batches int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) NewLog() (Log, error) {
	return newBufferedLog(&m.seq, m.write), nil
}

func (m *Memory) write(recs []Record) error {
	m.mu.Lock()
	m.records = append(m.records, recs...)
	m.batches++
	m.mu.Unlock()
	return nil
}

// Records returns a copy of every committed row, in commit order.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Batches is the number of non-empty commits.
func (m *Memory) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

func (m *Memory) Close() error {
	return nil
}
