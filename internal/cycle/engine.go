// Package cycle runs the sample, detect, allocate pipeline and publishes
// its result at a fixed cadence.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/greenlight/internal/detection"
	"github.com/banshee-data/greenlight/internal/monitoring"
	"github.com/banshee-data/greenlight/internal/optimizer"
	"github.com/banshee-data/greenlight/internal/sampler"
	"github.com/banshee-data/greenlight/internal/timeutil"
)

var logf = monitoring.Component("Cycle")

// DefaultHistorySize is the number of cycle records kept for debugging.
const DefaultHistorySize = 120

// Options configures an Engine.
type Options struct {
	Sampler     *sampler.Sampler
	Aggregator  *detection.Aggregator
	Allocation  optimizer.Config
	Clock       timeutil.Clock // nil selects timeutil.RealClock
	HistorySize int            // <= 0 selects DefaultHistorySize
}

// Engine runs cycles. It owns the sampler, and through it the lane sources.
type Engine struct {
	sampler    *sampler.Sampler
	aggregator *detection.Aggregator
	allocation optimizer.Config
	clock      timeutil.Clock
	newID      func() string

	historyMu   sync.Mutex
	history     []Record
	historySize int
}

// NewEngine validates opts and creates an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Sampler == nil {
		return nil, errors.New("cycle: sampler is required")
	}
	if opts.Aggregator == nil {
		return nil, errors.New("cycle: aggregator is required")
	}
	if err := opts.Allocation.Validate(); err != nil {
		return nil, fmt.Errorf("cycle: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	return &Engine{
		sampler:     opts.Sampler,
		aggregator:  opts.Aggregator,
		allocation:  opts.Allocation,
		clock:       opts.Clock,
		newID:       uuid.NewString,
		historySize: opts.HistorySize,
	}, nil
}

// Lanes returns the configured lane names in order.
func (e *Engine) Lanes() []string { return e.sampler.Lanes() }

// Allocation returns the allocation parameters.
func (e *Engine) Allocation() optimizer.Config { return e.allocation }

// Aggregator returns the detection aggregator, shared with single-shot
// detection.
func (e *Engine) Aggregator() *detection.Aggregator { return e.aggregator }

// RunCycle samples every lane, detects vehicles in the frames and
// allocates green time. It always returns a payload: when no allocation
// is possible the payload carries an error and no signal times.
func (e *Engine) RunCycle(ctx context.Context) *Payload {
	id := e.newID()
	start := e.clock.Now()
	rec := Record{CycleID: id, Started: start}

	payload := &Payload{CycleID: id, Lanes: LaneResults{}}
	defer func() {
		done := e.clock.Now()
		payload.Timestamp = done.Format(TimestampLayout)
		rec.Total = done.Sub(start)
		rec.Error = payload.Error
		rec.SignalTimes = payload.SignalTimes
		e.record(rec)
	}()

	sample, err := e.sampler.Sample(ctx)
	if err != nil {
		payload.Error = fmt.Sprintf("sampling interrupted: %v", err)
		return payload
	}
	rec.Sampling = e.clock.Since(start)
	rec.Lanes = laneStats(sample)

	detectStart := e.clock.Now()
	results, drops := e.aggregator.Aggregate(ctx, sample)
	rec.Detection = e.clock.Since(detectStart)
	rec.Drops = drops
	payload.Lanes = LaneResults(results)

	inputs := make([]optimizer.Lane, len(results))
	for i, r := range results {
		inputs[i] = optimizer.Lane{Name: r.Lane, Count: r.Count, Emergency: r.Emergency}
	}

	alloc, err := optimizer.Allocate(inputs, e.allocation)
	if err != nil {
		var cerr *optimizer.ConfigError
		if errors.As(err, &cerr) {
			logf("cycle %s: no allocation: %v", id, cerr)
		} else {
			logf("cycle %s: allocation failed: %v", id, err)
		}
		payload.Error = err.Error()
		return payload
	}

	payload.SignalTimes = alloc
	payload.Mode = optimizer.ModeFor(inputs).String()
	rec.Mode = payload.Mode
	return payload
}

// Close releases every lane source.
func (e *Engine) Close() error {
	return e.sampler.Close()
}

func laneStats(s *sampler.Sample) []LaneStat {
	out := make([]LaneStat, len(s.Lanes))
	for i, l := range s.Lanes {
		out[i] = LaneStat{
			Lane:     l.Lane,
			Present:  l.Frame != nil,
			Attempts: l.Attempts,
			Rewinds:  l.Rewinds,
			Busy:     l.Busy,
		}
		if l.Frame != nil {
			out[i].Frames = l.Frame.Seq
		}
		if l.Err != nil {
			out[i].Error = l.Err.Error()
		}
	}
	return out
}

func (e *Engine) record(r Record) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, r)
	if over := len(e.history) - e.historySize; over > 0 {
		e.history = append(e.history[:0], e.history[over:]...)
	}
}

// History returns the retained cycle records, oldest first.
func (e *Engine) History() []Record {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// Record describes one finished cycle for the debug pages.
type Record struct {
	CycleID     string               `json:"cycle_id"`
	Started     time.Time            `json:"started"`
	Sampling    time.Duration        `json:"sampling_ns"`
	Detection   time.Duration        `json:"detection_ns"`
	Total       time.Duration        `json:"total_ns"`
	Lanes       []LaneStat           `json:"lanes"`
	Drops       []detection.Drop     `json:"drops,omitempty"`
	Mode        string               `json:"mode,omitempty"`
	SignalTimes optimizer.Allocation `json:"signal_times,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// LaneStat is one lane's sampling outcome within a cycle.
type LaneStat struct {
	Lane     string `json:"lane"`
	Present  bool   `json:"present"`
	Frames   int    `json:"frames"` // successful reads in the window
	Attempts int    `json:"attempts"`
	Rewinds  int    `json:"rewinds"`
	Busy     bool   `json:"busy,omitempty"`
	Error    string `json:"error,omitempty"`
}
