package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/greenlight/internal/cycle"
	"github.com/banshee-data/greenlight/internal/httputil"
)

// recentCycles is how many raw records /debug/cycles returns by default.
const recentCycles = 10

// AttachAdminRoutes attaches debugging endpoints served at /debug/. These
// routes are accessible only over localhost/via Tailscale and are not
// publicly accessible.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("cycles", "cycle timing and per-lane sampling statistics", s.handleCycles)
	debug.HandleFunc("allocation-chart", "bar chart of the latest allocation", s.handleAllocationChart)
	debug.HandleFunc("signal-history.png", "green time per lane over recent cycles", s.handleSignalHistory)

	// Live payloads without images, for watching from a terminal.
	debug.HandleSilentFunc("tail", s.feed.Handler(func(p *cycle.Payload) ([]byte, error) {
		return json.Marshal(p.WithoutImages())
	}))
}

type cyclesResponse struct {
	Summary cycle.Summary  `json:"summary"`
	Recent  []cycle.Record `json:"recent"`
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.NotFound(w, "no cycle history available")
		return
	}
	n := recentCycles
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, "n must be a non-negative integer")
			return
		}
		n = parsed
	}

	records := s.history.History()
	recent := records
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	httputil.WriteJSONOK(w, cyclesResponse{
		Summary: cycle.Summarize(records, s.history.Lanes()),
		Recent:  recent,
	})
}

func (s *Server) handleAllocationChart(w http.ResponseWriter, r *http.Request) {
	p, ok := s.feed.Latest()
	if !ok {
		httputil.NotFound(w, "no cycle has completed yet")
		return
	}

	lanes := make([]string, 0, len(p.Lanes))
	green := make([]opts.BarData, 0, len(p.Lanes))
	counts := make([]opts.BarData, 0, len(p.Lanes))
	for _, res := range p.Lanes {
		secs, _ := p.SignalTimes.Get(res.Lane)
		lanes = append(lanes, res.Lane)
		green = append(green, opts.BarData{Value: secs})
		counts = append(counts, opts.BarData{Value: res.Count})
	}

	subtitle := fmt.Sprintf("cycle %s at %s", p.CycleID, p.Timestamp)
	if p.Error != "" {
		subtitle += " (error: " + p.Error + ")"
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Signal Allocation", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Signal Allocation", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(lanes).
		AddSeries("green (s)", green,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("vehicles", counts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

var laneColors = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		httputil.NotFound(w, "no cycle history available")
		return
	}
	records := s.history.History()

	p := plot.New()
	p.Title.Text = "Green time per lane"
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Seconds"

	for i, name := range s.history.Lanes() {
		pts := make(plotter.XYs, 0, len(records))
		for j, rec := range records {
			if secs, ok := rec.SignalTimes.Get(name); ok {
				pts = append(pts, plotter.XY{X: float64(j), Y: float64(secs)})
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot error: %v", err))
			return
		}
		line.Color = laneColors[i%len(laneColors)]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
