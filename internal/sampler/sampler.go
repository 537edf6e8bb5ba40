// Package sampler polls every lane's frame source for a fixed wall-clock
// window and keeps the most recent frame read from each.
//
// Each lane is polled by its own goroutine. The window is enforced by a
// deadline: the sampler returns when the deadline passes without waiting
// for reads still in flight, so a stuck source cannot stretch a cycle.
// A lane whose previous read has not returned yet is skipped (reported
// busy) in the next window, which keeps each source single-reader.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/greenlight/internal/lane"
	"github.com/banshee-data/greenlight/internal/monitoring"
	"github.com/banshee-data/greenlight/internal/timeutil"
)

// ErrNoLanes is returned by New when no lanes are configured.
var ErrNoLanes = errors.New("sampler: no lanes configured")

// DefaultWindow is the sampling window used when none is configured.
const DefaultWindow = time.Second

var logf = monitoring.Component("Sampler")

// Frame is the most recent frame read from a lane within one window.
type Frame struct {
	Data   []byte
	Seq    int // 1-based index of the read within the window
	ReadAt time.Time
}

// LaneSample is the outcome of one window for one lane. Frame is nil when
// the lane produced nothing usable.
type LaneSample struct {
	Lane     string
	Frame    *Frame
	Attempts int // reads started in the window
	Rewinds  int // seeks started in the window
	Busy     bool
	Err      error
}

// Sample holds one window's results in lane configuration order.
type Sample struct {
	Started time.Time
	Window  time.Duration
	Lanes   []LaneSample
}

// Present returns the lanes that produced a frame, in configuration order.
func (s *Sample) Present() []LaneSample {
	out := make([]LaneSample, 0, len(s.Lanes))
	for _, l := range s.Lanes {
		if l.Frame != nil {
			out = append(out, l)
		}
	}
	return out
}

type worker struct {
	lane     lane.Lane
	inFlight atomic.Bool
}

// Sampler owns the lanes' sources for the duration of each window.
type Sampler struct {
	workers []*worker
	window  time.Duration
	clock   timeutil.Clock
}

// New creates a Sampler. A zero window selects DefaultWindow; a nil clock
// selects the real clock.
func New(lanes []lane.Lane, window time.Duration, clock timeutil.Clock) (*Sampler, error) {
	if len(lanes) == 0 {
		return nil, ErrNoLanes
	}
	if window < 0 {
		return nil, fmt.Errorf("sampler: negative window %s", window)
	}
	if window == 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Sampler{window: window, clock: clock}
	for _, l := range lanes {
		if l.Source == nil {
			return nil, fmt.Errorf("sampler: lane %q has no source", l.Name)
		}
		s.workers = append(s.workers, &worker{lane: l})
	}
	return s, nil
}

// Window returns the configured sampling window.
func (s *Sampler) Window() time.Duration { return s.window }

// Lanes returns the lane names in configuration order.
func (s *Sampler) Lanes() []string {
	names := make([]string, len(s.workers))
	for i, w := range s.workers {
		names[i] = w.lane.Name
	}
	return names
}

// window collects results from the per-lane goroutines. Once closed, late
// reads are discarded.
type window struct {
	mu       sync.Mutex
	closed   bool
	deadline time.Time
	lanes    []LaneSample
}

// Sample polls all lanes until the window elapses and returns the last
// frame read from each. It only fails if ctx is already done.
func (s *Sampler) Sample(ctx context.Context) (*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := s.clock.Now()
	win := &window{
		deadline: start.Add(s.window),
		lanes:    make([]LaneSample, len(s.workers)),
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, w := range s.workers {
		win.lanes[i].Lane = w.lane.Name
		if !w.inFlight.CompareAndSwap(false, true) {
			win.lanes[i].Busy = true
			continue
		}
		wg.Add(1)
		go func(i int, w *worker) {
			defer w.inFlight.Store(false)
			defer wg.Done()
			s.poll(readCtx, w.lane.Source, win, i)
		}(i, w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := s.clock.NewTimer(s.window)
	select {
	case <-timer.C():
	case <-done:
	case <-ctx.Done():
	}
	timer.Stop()

	win.mu.Lock()
	win.closed = true
	lanes := make([]LaneSample, len(win.lanes))
	copy(lanes, win.lanes)
	win.mu.Unlock()

	for _, l := range lanes {
		if l.Frame != nil {
			continue
		}
		switch {
		case l.Busy:
			monitoring.Warnf("[Sampler] lane %s: previous read still in flight, skipped this window", l.Lane)
		case l.Err != nil:
			monitoring.Warnf("[Sampler] lane %s: source unavailable after %d attempts: %v", l.Lane, l.Attempts, l.Err)
		default:
			monitoring.Warnf("[Sampler] lane %s: no frame within %s (%d attempts)", l.Lane, s.window, l.Attempts)
		}
	}

	return &Sample{Started: start, Window: s.window, Lanes: lanes}, nil
}

// poll reads src round after round until the deadline. A hard read error,
// or a source that is still empty right after a rewind, ends polling for
// this window; any frame already captured is kept.
//
// Attempts and rewinds are counted before the read or seek starts, while
// the window is still open, so every action taken on src shows up in this
// window's counters even if it completes after the deadline. The goroutine
// yields after each attempt so an instant source cannot starve the other
// lanes when few processors are available.
func (s *Sampler) poll(ctx context.Context, src lane.Source, win *window, i int) {
	for ctx.Err() == nil && s.clock.Now().Before(win.deadline) {
		if !win.count(i, func(l *LaneSample) { l.Attempts++ }) {
			return
		}
		data, err := src.Read(ctx)
		if errors.Is(err, lane.ErrEndOfStream) {
			if !win.count(i, func(l *LaneSample) { l.Rewinds++ }) {
				return
			}
			if serr := src.SeekToStart(); serr != nil {
				err = fmt.Errorf("rewind failed: %w", serr)
			} else {
				data, err = src.Read(ctx)
			}
		}
		now := s.clock.Now()

		win.mu.Lock()
		if win.closed {
			win.mu.Unlock()
			return
		}
		slot := &win.lanes[i]
		switch {
		case err == nil && now.Before(win.deadline):
			seq := 1
			if slot.Frame != nil {
				seq = slot.Frame.Seq + 1
			}
			slot.Frame = &Frame{Data: data, Seq: seq, ReadAt: now}
		case err == nil:
			// completed after the deadline
		case errors.Is(err, lane.ErrEndOfStream):
			win.mu.Unlock()
			return
		case ctx.Err() == nil:
			slot.Err = err
			win.mu.Unlock()
			return
		}
		win.mu.Unlock()
		runtime.Gosched()
	}
}

// count applies f to lane i's slot unless the window has closed.
func (w *window) count(i int, f func(*LaneSample)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	f(&w.lanes[i])
	return true
}

// Close releases every lane source. Call it once no further Sample calls
// will be made.
func (s *Sampler) Close() error {
	lanes := make([]lane.Lane, len(s.workers))
	for i, w := range s.workers {
		lanes[i] = w.lane
	}
	err := lane.CloseAll(lanes)
	logf("released %d lane sources", len(lanes))
	return err
}
