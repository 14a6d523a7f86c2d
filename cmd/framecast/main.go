package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"framecast/internal/auth"
	"framecast/internal/camera"
	"framecast/internal/config"
	"framecast/internal/database"
	"framecast/internal/metrics"
	"framecast/internal/services"
)

func main() {
	// Define command line flags. Everything else comes from config.yaml and
	// FRAMECAST_* environment variables.
	var (
		configF = flag.String("config", "", "Path to config.yaml (default: ./config.yaml, then /etc/framecast)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	// Setup logger.
	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[framecast] ", log.Ltime)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}
	debug := *dbgF || cfg.Log.Debug

	// Metrics registry shared by every camera
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Optional session journal
	var (
		db      *database.Database
		journal *database.Journal
	)
	if cfg.Database.Path != "" {
		db, err = database.New(cfg.Database.Path)
		if err != nil {
			logger.Fatalf("failed to open database: %v", err)
		}
		if err := db.Migrate(); err != nil {
			logger.Fatalf("failed to migrate database: %v", err)
		}
		journal = database.NewJournal(db, cfg.Database.Retention)
		logger.Printf("session journal at %s", cfg.Database.Path)
	}

	authenticator, err := auth.NewAuthenticator(auth.Options{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.JWTExpiry,
	})
	if err != nil {
		logger.Fatalf("failed to initialize auth: %v", err)
	}
	if authenticator.IsEnabled() {
		logger.Printf("authentication enabled for user %q", cfg.Auth.Username)
	}

	// Initialize the services.
	healthSvc := services.NewHealthService()
	cameraSvcs := make([]*services.CameraService, 0, len(cfg.Cameras))
	for _, cc := range cfg.Cameras {
		src, err := camera.NewSource(cc.Source())
		if err != nil {
			logger.Fatalf("camera %s: %v", cc.Name, err)
		}
		svc := services.NewCameraService(cc.Source(), src, services.Options{
			Metrics:  m,
			Journal:  journal,
			Database: db,
			Auth:     authenticator,
		})
		healthSvc.Watch(svc)
		cameraSvcs = append(cameraSvcs, svc)
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. SIGINT and SIGTERM stop the services
	// gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	// Start the capture loops and servers and send errors (if any) to the
	// error channel.
	for i, svc := range cameraSvcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Run(ctx)
		}()
		handleHTTPServer(ctx, cfg.Cameras[i].Addr(), svc, &wg, errc, logger, debug)
	}
	if cfg.Metrics.Addr != "" {
		handleMetricsServer(ctx, cfg.Metrics.Addr, m, &wg, errc, logger)
	}
	if cfg.GRPC.Addr != "" {
		handleGRPCServer(ctx, cfg.GRPC.Addr, healthSvc, &wg, errc, logger)
	}

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines and end every viewer
	// session so the HTTP servers can drain.
	cancel()
	for _, svc := range cameraSvcs {
		if err := svc.Close(); err != nil {
			logger.Printf("camera %s: close: %v", svc.Name(), err)
		}
	}
	healthSvc.Shutdown()

	wg.Wait()

	if journal != nil {
		journal.Close()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Printf("failed to close database: %v", err)
		}
	}
	logger.Println("exited")
}
