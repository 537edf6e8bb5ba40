package cycle

import (
	"context"
	"time"

	"github.com/banshee-data/greenlight/internal/timeutil"
)

// DefaultDelay is the pause between cycles.
const DefaultDelay = 1500 * time.Millisecond

// Runner runs one cycle.
type Runner interface {
	RunCycle(ctx context.Context) *Payload
}

// Sink receives published payloads, for example a feed hub.
type Sink interface {
	Publish(p *Payload) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(p *Payload) error

// Publish calls f.
func (f SinkFunc) Publish(p *Payload) error { return f(p) }

// Sinks fans a payload out to several sinks. Every sink is called; the
// first error is returned.
func Sinks(sinks ...Sink) Sink {
	return SinkFunc(func(p *Payload) error {
		var first error
		for _, s := range sinks {
			if err := s.Publish(p); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// Publisher drives a Runner at a fixed cadence.
type Publisher struct {
	runner Runner
	delay  time.Duration
	clock  timeutil.Clock
}

// NewPublisher creates a Publisher. A negative delay selects DefaultDelay;
// zero runs cycles back to back. A nil clock selects timeutil.RealClock.
func NewPublisher(r Runner, delay time.Duration, clock timeutil.Clock) *Publisher {
	if delay < 0 {
		delay = DefaultDelay
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Publisher{runner: r, delay: delay, clock: clock}
}

// Run publishes one payload per cycle until ctx is done. Shutdown is
// honoured between cycles: a cycle interrupted by cancellation is not
// published. Sink errors are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, sink Sink) error {
	logf("publisher started (delay %s)", p.delay)
	defer logf("publisher stopped")

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return nil
		}

		payload := p.runner.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err := sink.Publish(payload); err != nil {
			logf("cycle %d (%s): publish failed: %v", n, payload.CycleID, err)
		}

		if p.delay == 0 {
			continue
		}
		timer := p.clock.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}
