package detection

import (
	"context"
	"sync"
)

// MockOracle returns canned detections keyed by frame content. Frames with
// no entry yield Default. Safe for concurrent use.
type MockOracle struct {
	mu      sync.Mutex
	Results map[string]Detection
	Errors  map[string]error
	Default Detection
	calls   map[string]int
	total   int
}

// NewMockOracle creates an empty MockOracle.
func NewMockOracle() *MockOracle {
	return &MockOracle{
		Results: make(map[string]Detection),
		Errors:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

// On registers the detection returned for frame.
func (m *MockOracle) On(frame string, d Detection) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[frame] = d
	return m
}

// Fail registers an error returned for frame.
func (m *MockOracle) Fail(frame string, err error) *MockOracle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[frame] = err
	return m
}

// Detect implements Oracle.
func (m *MockOracle) Detect(ctx context.Context, frame []byte) (Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(frame)
	m.calls[key]++
	m.total++
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	if err, ok := m.Errors[key]; ok {
		return Detection{}, err
	}
	if d, ok := m.Results[key]; ok {
		return d, nil
	}
	return m.Default, nil
}

// Calls returns how often frame was detected; an empty frame returns the
// total across all frames.
func (m *MockOracle) Calls(frame string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frame == "" {
		return m.total
	}
	return m.calls[frame]
}
