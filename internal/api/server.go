// Package api serves the engine over HTTP: the live traffic feed, the
// single-shot detection endpoint, read-only JSON views and the /debug/
// pages.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/greenlight/internal/config"
	"github.com/banshee-data/greenlight/internal/cycle"
	"github.com/banshee-data/greenlight/internal/detection"
	"github.com/banshee-data/greenlight/internal/feed"
	"github.com/banshee-data/greenlight/internal/httputil"
	"github.com/banshee-data/greenlight/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultMaxUploadBytes bounds a single-shot upload.
const DefaultMaxUploadBytes = 10 << 20

// FrameDetector runs detection on one uploaded frame.
type FrameDetector interface {
	DetectFrame(ctx context.Context, frame []byte) (detection.Result, error)
}

// CycleHistory exposes retained cycle records for the debug pages.
type CycleHistory interface {
	History() []cycle.Record
	Lanes() []string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	feed      *feed.Hub[*cycle.Payload]
	detector  FrameDetector
	history   CycleHistory
	cfg       *config.EngineConfig
	maxUpload int64
}

// Options configures a Server. Feed and Detector are required.
type Options struct {
	Feed           *feed.Hub[*cycle.Payload]
	Detector       FrameDetector
	History        CycleHistory
	Config         *config.EngineConfig
	MaxUploadBytes int64
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		feed:      opts.Feed,
		detector:  opts.Detector,
		history:   opts.History,
		cfg:       opts.Config,
		maxUpload: opts.MaxUploadBytes,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the public routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/traffic_feed", s.feed.Handler(encodePayload))
	mux.HandleFunc("/upload_image", s.uploadImage)
	mux.HandleFunc("/api/latest", s.showLatest)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func encodePayload(p *cycle.Payload) ([]byte, error) {
	return json.Marshal(p)
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	p, ok := s.feed.Latest()
	if !ok {
		httputil.NotFound(w, "no cycle has completed yet")
		return
	}
	httputil.WriteJSONOK(w, p)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg == nil {
		httputil.NotFound(w, "no configuration loaded")
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
