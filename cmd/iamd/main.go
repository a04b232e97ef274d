// Command iamd runs the identity service: the HTTP API and, when
// IAM_GRPC_ADDR is set, a gRPC listener carrying the standard health
// service behind the bearer authentication interceptors.
//
// Configuration comes from IAM_* environment variables and the optional
// YAML or JSON file named by IAM_CONFIG_FILE:
//
//	IAM_SIGNING_KEY_PATH=/etc/iam/signing.pem IAM_STORAGE_DRIVER=postgres \
//	    IAM_STORAGE_POSTGRES_URI=postgres://iam@db/iam iamd
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/stricklysoft-iam/internal/app"
	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
)

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("iamd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.Load(os.Getenv("IAM_CONFIG_FILE"))
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := a.Service.Start(ctx); err != nil {
		_ = a.Service.Stop(context.WithoutCancel(ctx))
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	var (
		grpcServer *grpc.Server
		healthSrv  *health.Server
	)
	if cfg.GRPC.Addr != "" {
		exempt := auth.RequireAuthentication(healthCheckMethod, healthWatchMethod)
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(a.Authenticator, exempt)),
			grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(a.Authenticator, exempt)),
		)
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return err
			}
			logger.Info("grpc listening", slog.String("addr", cfg.GRPC.Addr))
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		if grpcServer != nil {
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
		}
		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := a.Service.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
