package jobqueue

import (
	"context"
	"sync"
)

// Memory is an in-process Queue used in tests and single-node setups
// without Redis.
type Memory struct {
	mu      sync.Mutex
	queues  map[string][][]byte
	results map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		queues:  make(map[string][][]byte),
		results: make(map[string][]byte),
	}
}

func (m *Memory) Push(ctx context.Context, queue string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append(m.queues[queue], append([]byte(nil), payload...))
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.results[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, key)
	return nil
}

// SetResult publishes a worker result, standing in for the real worker.
func (m *Memory) SetResult(key string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = append([]byte(nil), payload...)
}

// Pop removes and returns the oldest job on a queue, or nil when empty.
func (m *Memory) Pop(queue string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.queues[queue]
	if len(jobs) == 0 {
		return nil
	}
	job := jobs[0]
	m.queues[queue] = jobs[1:]
	return job
}

var _ Queue = (*Memory)(nil)
