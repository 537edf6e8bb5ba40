package cycle

import (
	"bytes"
	"encoding/json"

	"github.com/banshee-data/greenlight/internal/detection"
	"github.com/banshee-data/greenlight/internal/optimizer"
)

// TimestampLayout formats Payload.Timestamp.
const TimestampLayout = "15:04:05"

// LaneResults is the per-lane detection part of a payload. It marshals to
// a JSON object keyed by lane name, in configuration order.
type LaneResults []detection.Result

// MarshalJSON encodes {"<lane>": {"count", "emergency", "image"}, ...}.
func (lr LaneResults) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range lr {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Lane)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the result for lane.
func (lr LaneResults) Get(lane string) (detection.Result, bool) {
	for _, r := range lr {
		if r.Lane == lane {
			return r, true
		}
	}
	return detection.Result{}, false
}

// Payload is what one cycle publishes. SignalTimes is nil when the cycle
// failed, and Error says why.
type Payload struct {
	CycleID     string               `json:"cycle_id"`
	Timestamp   string               `json:"timestamp"`
	Lanes       LaneResults          `json:"lanes"`
	SignalTimes optimizer.Allocation `json:"signal_times,omitempty"`
	Mode        string               `json:"mode,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// OK reports whether the cycle produced an allocation.
func (p *Payload) OK() bool {
	return p.Error == "" && p.SignalTimes != nil
}

// WithoutImages returns a copy with every lane image removed.
func (p *Payload) WithoutImages() *Payload {
	cp := *p
	cp.Lanes = make(LaneResults, len(p.Lanes))
	for i, r := range p.Lanes {
		r.Image = nil
		cp.Lanes[i] = r
	}
	return &cp
}
