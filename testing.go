package nrbd

import (
	"sync"

	"github.com/kbowen/nrbd/internal/backend"
)

// Re-export the backend interfaces at the package root so library
// consumers can write `nrbd.Backend` instead of reaching into the
// internal package, matching the teacher's public-API-via-root-package
// convention.
type (
	Backend            = backend.Backend
	DiscardBackend     = backend.DiscardBackend
	WriteZeroesBackend = backend.WriteZeroesBackend
	SyncBackend        = backend.SyncBackend
	StatBackend        = backend.StatBackend
	ResizeBackend      = backend.ResizeBackend
)

// MockBackend is a fake Backend for unit testing library consumers
// without standing up a Memory or File backend.
type MockBackend struct {
	data    []byte
	size    int64
	closed  bool
	flushed bool
	synced  bool
	stats   map[string]interface{}

	mu         sync.RWMutex
	readCalls  int
	writeCalls int
	flushCalls int
	syncCalls  int
}

// NewMockBackend creates a new mock backend with the specified size.
func NewMockBackend(size int64) *MockBackend {
	return &MockBackend{
		data:  make([]byte, size),
		size:  size,
		stats: make(map[string]interface{}),
	}
}

func (m *MockBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++

	if m.closed {
		return 0, ErrNotConfigured
	}

	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

func (m *MockBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++

	if m.closed {
		return 0, ErrNotConfigured
	}

	if off >= m.size {
		return 0, ErrInvalidParameters
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(m.data[off:off+int64(len(p))], p)
	return n, nil
}

func (m *MockBackend) Size() int64 { return m.size }

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

func (m *MockBackend) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushCalls++
	m.flushed = true
	return nil
}

func (m *MockBackend) Discard(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset >= m.size {
		return nil
	}

	end := offset + length
	if end > m.size {
		end = m.size
	}

	for i := offset; i < end; i++ {
		m.data[i] = 0
	}

	return nil
}

func (m *MockBackend) WriteZeroes(offset, length int64) error {
	return m.Discard(offset, length)
}

func (m *MockBackend) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncCalls++
	m.synced = true
	return nil
}

func (m *MockBackend) SyncRange(offset, length int64) error {
	return m.Sync()
}

func (m *MockBackend) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})
	for k, v := range m.stats {
		stats[k] = v
	}

	stats["read_calls"] = m.readCalls
	stats["write_calls"] = m.writeCalls
	stats["flush_calls"] = m.flushCalls
	stats["sync_calls"] = m.syncCalls

	return stats
}

func (m *MockBackend) Resize(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newSize < 0 {
		return ErrInvalidParameters
	}

	if newSize > m.size {
		newData := make([]byte, newSize)
		copy(newData, m.data)
		m.data = newData
	} else if newSize < m.size {
		m.data = m.data[:newSize]
	}

	m.size = newSize
	return nil
}

// Testing utility methods.

func (m *MockBackend) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MockBackend) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushed
}

func (m *MockBackend) IsSynced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

func (m *MockBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"flush": m.flushCalls,
		"sync":  m.syncCalls,
	}
}

func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.flushCalls = 0
	m.syncCalls = 0
	m.flushed = false
	m.synced = false
}

func (m *MockBackend) SetCustomStats(stats map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = make(map[string]interface{})
	for k, v := range stats {
		m.stats[k] = v
	}
}

var (
	_ Backend            = (*MockBackend)(nil)
	_ DiscardBackend     = (*MockBackend)(nil)
	_ WriteZeroesBackend = (*MockBackend)(nil)
	_ SyncBackend        = (*MockBackend)(nil)
	_ StatBackend        = (*MockBackend)(nil)
	_ ResizeBackend      = (*MockBackend)(nil)
)
