package lane

import (
	"context"
	"sync"
	"time"
)

// MockSource implements Source with configurable behaviour for testing.
// It provides fine-grained control over frames, errors, latency and blocking.
type MockSource struct {
	mu sync.Mutex

	// Frames are returned in order; Read returns ErrEndOfStream after the last.
	Frames [][]byte

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError, if set, is returned by every Read call
	ReadError error

	// SeekError is returned by SeekToStart if set
	SeekError error

	// CloseError is returned by Close if set
	CloseError error

	// Block, if non-nil, makes Read wait until it is closed. The wait ignores
	// ctx, modelling a driver call that cannot be interrupted.
	Block chan struct{}

	// Counters
	ReadCalls int
	SeekCalls int
	Closed    bool

	pos int
}

// NewMockSource creates a MockSource that yields the given frames.
func NewMockSource(frames ...[]byte) *MockSource {
	return &MockSource{Frames: frames}
}

// Read returns the next frame, simulating latency, blocking and errors.
func (m *MockSource) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	m.ReadCalls++
	block := m.Block
	latency := m.ReadLatency
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return nil, ErrClosed
	}
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	if m.pos >= len(m.Frames) {
		return nil, ErrEndOfStream
	}
	f := m.Frames[m.pos]
	m.pos++
	return f, nil
}

// SeekToStart rewinds to the first frame.
func (m *MockSource) SeekToStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SeekCalls++
	if m.SeekError != nil {
		return m.SeekError
	}
	m.pos = 0
	return nil
}

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseError
}

// Stats returns the read and seek counters.
func (m *MockSource) Stats() (reads, seeks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadCalls, m.SeekCalls
}

// IsClosed reports whether Close was called.
func (m *MockSource) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}
