package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"hash/crc32"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/greenlight/internal/api"
	"github.com/banshee-data/greenlight/internal/config"
	"github.com/banshee-data/greenlight/internal/cycle"
	"github.com/banshee-data/greenlight/internal/detection"
	"github.com/banshee-data/greenlight/internal/feed"
	"github.com/banshee-data/greenlight/internal/health"
	"github.com/banshee-data/greenlight/internal/lane"
	"github.com/banshee-data/greenlight/internal/optimizer"
	"github.com/banshee-data/greenlight/internal/sampler"
	"github.com/banshee-data/greenlight/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to engine configuration (.json, .yaml or .yml)")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	devMode     = flag.Bool("dev", false, "Run in dev mode: detections are derived from frame bytes, no inference server needed")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		v := version.Current()
		fmt.Printf("greenlight %s (%s, built %s)\n", v.Version, v.GitSHA, v.BuildTime)
		return
	}

	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = listen
	}

	oracle, err := newOracle(cfg)
	if err != nil {
		log.Fatalf("failed to create detection oracle: %v", err)
	}

	specs := make([]lane.Spec, len(cfg.Lanes))
	for i, l := range cfg.Lanes {
		specs[i] = lane.Spec{Name: l.Name, Locator: l.Source}
	}
	lanes, err := lane.OpenAll(specs, lane.OpenOptions{Root: cfg.SourcesRoot})
	if err != nil {
		log.Fatalf("failed to open lane sources: %v", err)
	}

	smp, err := sampler.New(lanes, cfg.GetSampleWindow(), nil)
	if err != nil {
		lane.CloseAll(lanes)
		log.Fatalf("failed to create sampler: %v", err)
	}

	engine, err := cycle.NewEngine(cycle.Options{
		Sampler:    smp,
		Aggregator: detection.NewAggregator(oracle, cfg.GetMaxCount()),
		Allocation: optimizer.Config{
			MinGreen:       cfg.GetMinGreen(),
			TotalBudget:    cfg.GetTotalBudget(),
			EmergencyShare: cfg.GetEmergencyShare(),
		},
	})
	if err != nil {
		smp.Close()
		log.Fatalf("failed to create engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("failed to close lane sources: %v", err)
		}
	}()

	hub := feed.NewHub[*cycle.Payload](0)
	reporter := health.NewReporter()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// cadence loop: one payload per cycle to the feed and the health reporter
	g.Go(func() error {
		pub := cycle.NewPublisher(engine, cfg.GetCycleDelay(), nil)
		return pub.Run(gctx, cycle.Sinks(hub, reporter))
	})

	if cfg.GRPCListen != "" {
		g.Go(func() error {
			return reporter.Serve(gctx, cfg.GRPCListen)
		})
	}

	// HTTP server goroutine
	g.Go(func() error {
		srv := api.NewServer(api.Options{
			Feed:           hub,
			Detector:       engine.Aggregator(),
			History:        engine,
			Config:         cfg,
			MaxUploadBytes: cfg.GetMaxUploadBytes(),
		})
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("failed to start server: %w", err)
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-gctx.Done():
		}
		log.Println("shutting down HTTP server...")

		// end SSE streams first so Shutdown does not wait on them
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("shutting down after error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func newOracle(cfg *config.EngineConfig) (detection.Oracle, error) {
	if *devMode {
		log.Printf("dev mode: using frame-checksum detections")
		return devOracle(), nil
	}
	if cfg.Oracle.URL == "" {
		return nil, errors.New("oracle.url is required (or run with -dev)")
	}
	vocab := detection.NewVocabulary(cfg.Oracle.VehicleClasses, cfg.Oracle.EmergencyClasses)
	return detection.NewRemoteOracle(nil, detection.RemoteOracleConfig{
		URL:           cfg.Oracle.URL,
		Timeout:       cfg.GetOracleTimeout(),
		ConfThreshold: cfg.GetConfThreshold(),
		NMSThreshold:  cfg.GetNMSThreshold(),
		MaxCount:      cfg.GetMaxCount(),
		Vocabulary:    &vocab,
	})
}

// devOracle derives a stable count from each frame's checksum and returns
// the frame unannotated.
func devOracle() detection.Oracle {
	return detection.OracleFunc(func(ctx context.Context, frame []byte) (detection.Detection, error) {
		sum := crc32.ChecksumIEEE(frame)
		return detection.Detection{
			Count:     int(sum % 15),
			Emergency: sum%23 == 0,
			Image:     frame,
		}, nil
	})
}
