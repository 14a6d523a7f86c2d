package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"framecast/internal/metrics"
	fcmiddleware "framecast/internal/middleware"
	"framecast/internal/services"
)

// handleHTTPServer configures and starts the HTTP server of one camera on
// the given address. It shuts down the server when ctx is done.
func handleHTTPServer(ctx context.Context, addr string, svc *services.CameraService, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {

	// Setup goa log adapter.
	var (
		adapter middleware.Logger
	)
	{
		adapter = middleware.NewLogger(logger)
	}

	// Provide the transport specific request decoder and response encoder.
	var (
		dec = goahttp.RequestDecoder
		enc = goahttp.ResponseEncoder
	)

	// Build the service HTTP request multiplexer and configure it to serve
	// HTTP requests to the service endpoints.
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	// Wrap the service with the transport specific layers. Request logging
	// is applied per handler: the stream handlers hold their response open
	// for the whole session and log their own lifecycle.
	var cameraServer *services.Server
	{
		eh := errorHandler(logger)
		cameraServer = services.NewServer(svc, mux, dec, enc, eh)
		servers := goahttp.Servers{cameraServer}
		servers.Use(httpmdlwr.Log(adapter))
		if debug {
			servers.Use(httpmdlwr.Debug(mux, os.Stdout))
		}
	}
	// Configure the mux.
	services.Mount(mux, cameraServer)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = mux
	{
		handler = fcmiddleware.CORS()(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	// No WriteTimeout: stream responses stay open for as long as the viewer
	// watches.
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range cameraServer.Mounts {
		logger.Printf("HTTP %q mounted on %s %s (camera %s)", m.Method, m.Verb, m.Pattern, svc.Name())
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server for camera %s listening on %q", svc.Name(), addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}

// handleMetricsServer serves /metrics on its own listener
func handleMetricsServer(ctx context.Context, addr string, m *metrics.Metrics, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: time.Second * 10}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		go func() {
			logger.Printf("metrics server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown metrics server: %v", err)
		}
	}()
}

// errorHandler returns a function that writes and logs the given error.
// The function also writes and logs the error unique ID so that it's possible
// to correlate.
func errorHandler(logger *log.Logger) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		id, _ := ctx.Value(middleware.RequestIDKey).(string)
		_, _ = w.Write([]byte("[" + id + "] encoding: " + err.Error()))
		logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
}
