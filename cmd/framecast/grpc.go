package main

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"framecast/internal/services"
)

// handleGRPCServer serves the gRPC health protocol on addr. It stops the
// server when ctx is done.
func handleGRPCServer(ctx context.Context, addr string, health *services.HealthImplementation, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.Server())

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		go func() {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				errc <- err
				return
			}
			logger.Printf("gRPC health server listening on %q", addr)
			errc <- srv.Serve(lis)
		}()

		<-ctx.Done()
		logger.Printf("shutting down gRPC server at %q", addr)

		// Watch streams can hold GracefulStop open
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			srv.Stop()
		}
	}()
}
