package detection

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/greenlight/internal/monitoring"
	"github.com/banshee-data/greenlight/internal/sampler"
)

// DefaultMaxCount caps the vehicles reported for one frame.
const DefaultMaxCount = 50

// maxConcurrentDetections bounds in-flight oracle calls within a cycle.
const maxConcurrentDetections = 4

// ErrEmptyFrame is returned by DetectFrame for a zero-length frame.
var ErrEmptyFrame = errors.New("detection: empty frame")

// Detection is what the Oracle reports for one frame.
type Detection struct {
	Count     int
	Emergency bool
	Image     []byte // annotated frame, encoded
}

// Oracle detects vehicles in an encoded frame.
type Oracle interface {
	Detect(ctx context.Context, frame []byte) (Detection, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, frame []byte) (Detection, error)

// Detect calls f.
func (f OracleFunc) Detect(ctx context.Context, frame []byte) (Detection, error) {
	return f(ctx, frame)
}

// Result is one lane's detection outcome for a cycle. Image marshals as a
// base64 string.
type Result struct {
	Lane      string `json:"-"`
	Count     int    `json:"count"`
	Emergency bool   `json:"emergency"`
	Image     []byte `json:"image"`
}

// Drop records why a lane is missing from a cycle's results.
type Drop struct {
	Lane   string `json:"lane"`
	Reason string `json:"reason"`
}

// Aggregator runs the Oracle over a sample.
type Aggregator struct {
	oracle   Oracle
	maxCount int
}

// NewAggregator creates an Aggregator. maxCount <= 0 selects DefaultMaxCount.
func NewAggregator(oracle Oracle, maxCount int) *Aggregator {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return &Aggregator{oracle: oracle, maxCount: maxCount}
}

// MaxCount returns the per-lane count cap.
func (a *Aggregator) MaxCount() int { return a.maxCount }

// DetectFrame runs the Oracle on a single frame and caps the count. It is
// the path used outside the cycle loop (single-shot uploads).
func (a *Aggregator) DetectFrame(ctx context.Context, frame []byte) (Result, error) {
	if len(frame) == 0 {
		return Result{}, ErrEmptyFrame
	}
	d, err := a.oracle.Detect(ctx, frame)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Count:     lo.Clamp(d.Count, 0, a.maxCount),
		Emergency: d.Emergency,
		Image:     d.Image,
	}, nil
}

// Aggregate detects every lane of sample that has a frame, exactly once
// each. Results keep the sample's lane order. Lanes without a frame, and
// lanes whose detection failed, are reported in drops instead.
func (a *Aggregator) Aggregate(ctx context.Context, sample *sampler.Sample) (results []Result, drops []Drop) {
	slots := make([]*Result, len(sample.Lanes))
	failures := make([]error, len(sample.Lanes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDetections)
	for i, ls := range sample.Lanes {
		if ls.Frame == nil {
			continue
		}
		g.Go(func() error {
			r, err := a.DetectFrame(gctx, ls.Frame.Data)
			if err != nil {
				failures[i] = err
				return nil
			}
			r.Lane = ls.Lane
			slots[i] = &r
			return nil
		})
	}
	_ = g.Wait() // per-lane errors are absorbed above

	for i, ls := range sample.Lanes {
		switch {
		case slots[i] != nil:
			results = append(results, *slots[i])
		case ls.Frame == nil:
			drops = append(drops, Drop{Lane: ls.Lane, Reason: absentReason(ls)})
		default:
			monitoring.Warnf("[Detection] lane %s dropped: %v", ls.Lane, failures[i])
			drops = append(drops, Drop{Lane: ls.Lane, Reason: fmt.Sprintf("detection failed: %v", failures[i])})
		}
	}
	return results, drops
}

func absentReason(ls sampler.LaneSample) string {
	switch {
	case ls.Busy:
		return "source busy"
	case ls.Err != nil:
		return fmt.Sprintf("source unavailable: %v", ls.Err)
	default:
		return "no frame in window"
	}
}
