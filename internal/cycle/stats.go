package cycle

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DurationSummary describes a set of durations.
type DurationSummary struct {
	Mean   time.Duration `json:"mean_ns"`
	StdDev time.Duration `json:"stddev_ns"`
	P50    time.Duration `json:"p50_ns"`
	P95    time.Duration `json:"p95_ns"`
	Max    time.Duration `json:"max_ns"`
}

// LaneSummary aggregates one lane across the retained cycles.
type LaneSummary struct {
	Lane         string  `json:"lane"`
	Presence     float64 `json:"presence"` // fraction of cycles with a frame
	MeanFrames   float64 `json:"mean_frames"`
	StdDevFrames float64 `json:"stddev_frames"`
	MeanGreen    float64 `json:"mean_green"` // over cycles that allocated
	Rewinds      int     `json:"rewinds"`
}

// Summary aggregates the retained cycle history.
type Summary struct {
	Cycles    int             `json:"cycles"`
	Failed    int             `json:"failed"`
	Modes     map[string]int  `json:"modes"`
	Total     DurationSummary `json:"total"`
	Sampling  DurationSummary `json:"sampling"`
	Detection DurationSummary `json:"detection"`
	Lanes     []LaneSummary   `json:"lanes"`
}

// Summarize computes statistics over records. Lanes are reported in the
// order given.
func Summarize(records []Record, lanes []string) Summary {
	s := Summary{Cycles: len(records), Modes: make(map[string]int)}
	if len(records) == 0 {
		return s
	}

	totals := make([]float64, len(records))
	sampling := make([]float64, len(records))
	detect := make([]float64, len(records))
	for i, r := range records {
		totals[i] = float64(r.Total)
		sampling[i] = float64(r.Sampling)
		detect[i] = float64(r.Detection)
		if r.Error != "" {
			s.Failed++
		}
		if r.Mode != "" {
			s.Modes[r.Mode]++
		}
	}
	s.Total = summarizeDurations(totals)
	s.Sampling = summarizeDurations(sampling)
	s.Detection = summarizeDurations(detect)

	for _, name := range lanes {
		ls := LaneSummary{Lane: name}
		var frames, green []float64
		present := 0
		for _, r := range records {
			for _, st := range r.Lanes {
				if st.Lane != name {
					continue
				}
				frames = append(frames, float64(st.Frames))
				ls.Rewinds += st.Rewinds
				if st.Present {
					present++
				}
			}
			if secs, ok := r.SignalTimes.Get(name); ok {
				green = append(green, float64(secs))
			}
		}
		if len(frames) > 0 {
			ls.Presence = float64(present) / float64(len(frames))
			ls.MeanFrames, ls.StdDevFrames = stat.MeanStdDev(frames, nil)
			if len(frames) < 2 {
				ls.StdDevFrames = 0
			}
		}
		if len(green) > 0 {
			ls.MeanGreen = stat.Mean(green, nil)
		}
		s.Lanes = append(s.Lanes, ls)
	}
	return s
}

func summarizeDurations(xs []float64) DurationSummary {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	return DurationSummary{
		Mean:   time.Duration(mean),
		StdDev: time.Duration(std),
		P50:    time.Duration(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		Max:    time.Duration(sorted[len(sorted)-1]),
	}
}
