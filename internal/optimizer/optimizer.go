// Package optimizer converts per-lane vehicle counts and emergency flags
// into a green-light schedule.
//
// Allocate is pure: the same lanes and Config always produce the same
// Allocation. Lane order is significant. It selects the priority lane when
// several carry an emergency vehicle and breaks ties during proportional
// correction.
//
// Three regimes apply, checked in order:
//
//   - Preemption: some lane reports an emergency vehicle. The first such
//     lane receives EmergencyShare of the budget, bounded so that every
//     other lane keeps at least MinGreen. The rest is split evenly.
//   - Idle: no lane reports any vehicle. The budget is split evenly.
//   - Proportional: seconds follow each lane's share of the vehicles, with
//     a ±1 correction pass so the total equals TotalBudget exactly.
//
// Only the proportional regime renormalizes. Flooring and the MinGreen
// floor may leave the other two a few seconds away from TotalBudget (at
// most n-1 under, or over when MinGreen dominates).
package optimizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
)

// ErrInfeasible matches every *ConfigError via errors.Is.
var ErrInfeasible = errors.New("infeasible allocation")

// ConfigError reports parameters under which no valid allocation exists.
type ConfigError struct {
	Reason      string
	Lanes       int
	MinGreen    int
	TotalBudget int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("allocation config error: %s (lanes=%d min_green=%d total_budget=%d)",
		e.Reason, e.Lanes, e.MinGreen, e.TotalBudget)
}

// Is makes errors.Is(err, ErrInfeasible) true for any ConfigError.
func (e *ConfigError) Is(target error) bool { return target == ErrInfeasible }

// Config holds the allocation parameters. It is read-only once built.
type Config struct {
	MinGreen       int     // seconds every present lane receives at least
	TotalBudget    int     // seconds per cycle across all lanes
	EmergencyShare float64 // fraction of TotalBudget for the priority lane, in (0,1)
}

// DefaultConfig returns the stock parameters.
func DefaultConfig() Config {
	return Config{MinGreen: 5, TotalBudget: 60, EmergencyShare: 0.7}
}

// Validate checks the parameters independently of the lane count.
func (c Config) Validate() error {
	switch {
	case c.MinGreen <= 0:
		return &ConfigError{Reason: "min_green must be positive", MinGreen: c.MinGreen, TotalBudget: c.TotalBudget}
	case c.TotalBudget <= 0:
		return &ConfigError{Reason: "total_budget must be positive", MinGreen: c.MinGreen, TotalBudget: c.TotalBudget}
	case math.IsNaN(c.EmergencyShare) || c.EmergencyShare <= 0 || c.EmergencyShare >= 1:
		return &ConfigError{
			Reason:      fmt.Sprintf("emergency_share must be in (0,1), got %v", c.EmergencyShare),
			MinGreen:    c.MinGreen,
			TotalBudget: c.TotalBudget,
		}
	}
	return nil
}

// Feasible reports whether n lanes can each receive MinGreen.
func (c Config) Feasible(n int) bool {
	return n > 0 && c.TotalBudget >= c.MinGreen*n
}

// Lane is one present lane's sensing input.
type Lane struct {
	Name      string
	Count     int
	Emergency bool
}

// Mode identifies which allocation regime applied.
type Mode int

const (
	ModePreemption Mode = iota + 1
	ModeIdle
	ModeProportional
)

func (m Mode) String() string {
	switch m {
	case ModePreemption:
		return "preemption"
	case ModeIdle:
		return "idle"
	case ModeProportional:
		return "proportional"
	default:
		return "unknown"
	}
}

// ModeFor returns the regime Allocate would use for lanes.
func ModeFor(lanes []Lane) Mode {
	if priorityIndex(lanes) >= 0 {
		return ModePreemption
	}
	if totalVehicles(lanes) == 0 {
		return ModeIdle
	}
	return ModeProportional
}

// LaneTime is one lane's green time in seconds.
type LaneTime struct {
	Lane    string
	Seconds int
}

// Allocation is an ordered schedule, one entry per input lane in input
// order. It marshals to a JSON object whose keys keep that order.
type Allocation []LaneTime

// Get returns the seconds allocated to lane.
func (a Allocation) Get(lane string) (int, bool) {
	for _, lt := range a {
		if lt.Lane == lane {
			return lt.Seconds, true
		}
	}
	return 0, false
}

// Sum returns the total seconds allocated.
func (a Allocation) Sum() int {
	return lo.SumBy(a, func(lt LaneTime) int { return lt.Seconds })
}

// Map returns the allocation as a map.
func (a Allocation) Map() map[string]int {
	return lo.SliceToMap(a, func(lt LaneTime) (string, int) { return lt.Lane, lt.Seconds })
}

// Lanes returns the lane names in order.
func (a Allocation) Lanes() []string {
	return lo.Map(a, func(lt LaneTime, _ int) string { return lt.Lane })
}

// MarshalJSON encodes {"<lane>": seconds, ...} in allocation order.
func (a Allocation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, lt := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(lt.Lane)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", lt.Seconds)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Allocate computes the green time for each lane. Lanes must have unique
// names and non-negative counts; negative counts are treated as zero.
//
// It returns a *ConfigError when lanes is empty, when TotalBudget cannot
// give every lane MinGreen, or when the parameters are invalid.
func Allocate(lanes []Lane, cfg Config) (Allocation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := len(lanes)
	if n == 0 {
		return nil, &ConfigError{Reason: "no lanes to allocate", MinGreen: cfg.MinGreen, TotalBudget: cfg.TotalBudget}
	}
	if !cfg.Feasible(n) {
		return nil, &ConfigError{
			Reason:      "total_budget is less than min_green for every lane",
			Lanes:       n,
			MinGreen:    cfg.MinGreen,
			TotalBudget: cfg.TotalBudget,
		}
	}

	switch ModeFor(lanes) {
	case ModePreemption:
		return preempt(lanes, priorityIndex(lanes), cfg), nil
	case ModeIdle:
		return even(lanes, cfg), nil
	default:
		return proportional(lanes, cfg)
	}
}

func priorityIndex(lanes []Lane) int {
	_, idx, ok := lo.FindIndexOf(lanes, func(l Lane) bool { return l.Emergency })
	if !ok {
		return -1
	}
	return idx
}

func totalVehicles(lanes []Lane) int {
	return lo.SumBy(lanes, func(l Lane) int { return max(l.Count, 0) })
}

func preempt(lanes []Lane, priority int, cfg Config) Allocation {
	n := len(lanes)
	budget := cfg.TotalBudget
	share := int(math.Floor(cfg.EmergencyShare * float64(budget)))
	priorityGreen := max(min(share, budget-cfg.MinGreen*(n-1)), cfg.MinGreen)

	others := 0
	if n > 1 {
		others = max(cfg.MinGreen, (budget-priorityGreen)/(n-1))
	}

	out := make(Allocation, n)
	for i, l := range lanes {
		secs := others
		if i == priority {
			secs = priorityGreen
		}
		out[i] = LaneTime{Lane: l.Name, Seconds: secs}
	}
	return out
}

func even(lanes []Lane, cfg Config) Allocation {
	each := max(cfg.MinGreen, cfg.TotalBudget/len(lanes))
	return lo.Map(lanes, func(l Lane, _ int) LaneTime {
		return LaneTime{Lane: l.Name, Seconds: each}
	})
}

func proportional(lanes []Lane, cfg Config) (Allocation, error) {
	budget := cfg.TotalBudget
	total := int64(totalVehicles(lanes))

	out := make(Allocation, len(lanes))
	for i, l := range lanes {
		raw := int(int64(max(l.Count, 0)) * int64(budget) / total)
		out[i] = LaneTime{Lane: l.Name, Seconds: max(cfg.MinGreen, raw)}
	}

	diff := budget - out.Sum()
	steps := len(out) * abs(diff)
	for ; diff != 0 && steps > 0; steps-- {
		if diff > 0 {
			out[smallest(out)].Seconds++
			diff--
			continue
		}
		if i := largest(out); out[i].Seconds-1 >= cfg.MinGreen {
			out[i].Seconds--
			diff++
		}
	}
	if diff != 0 {
		return nil, &ConfigError{
			Reason:      fmt.Sprintf("proportional correction did not converge (off by %d)", diff),
			Lanes:       len(lanes),
			MinGreen:    cfg.MinGreen,
			TotalBudget: budget,
		}
	}
	return out, nil
}

// smallest and largest return the first index holding the extreme value.
func smallest(a Allocation) int {
	idx := 0
	for i := range a {
		if a[i].Seconds < a[idx].Seconds {
			idx = i
		}
	}
	return idx
}

func largest(a Allocation) int {
	idx := 0
	for i := range a {
		if a[i].Seconds > a[idx].Seconds {
			idx = i
		}
	}
	return idx
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
