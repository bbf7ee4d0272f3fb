package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kunal/kernel-bench/pkg/config"
	"github.com/kunal/kernel-bench/pkg/device"
	"github.com/kunal/kernel-bench/pkg/logutil"
	"github.com/kunal/kernel-bench/pkg/worker"
)

func main() {
	cfg := config.Load()
	logutil.InitLogger(cfg.LogLevel)
	logger := logutil.GetLogger()
	atexit.Register(func() { _ = logger.Sync() })

	logger.Info("bench worker starting",
		zap.Int("port", cfg.WorkerPort),
		zap.Int("metrics_port", cfg.MetricsPort),
		zap.String("device", cfg.Device),
	)

	dev, err := device.New(cfg.Device, logger)
	if err != nil {
		atexit.Fatalf("benchworker: %v", err)
	}
	atexit.Register(func() {
		if err := dev.Reset(); err != nil {
			logger.Warn("device reset failed", zap.Error(err))
		}
	})

	w := worker.New(dev, logger)

	grpcServer := grpc.NewServer()
	w.RegisterGRPC(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.WorkerPort))
	if err != nil {
		atexit.Fatalf("benchworker: listen on port %d: %v", cfg.WorkerPort, err)
	}

	go func() {
		mux := http.NewServeMux()
		w.RegisterMetricsHTTP(mux)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		logger.Info("metrics endpoint", zap.String("addr", addr+"/metrics"))
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			atexit.Fatalf("benchworker: metrics server: %v", err)
		}
	}()

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			atexit.Fatalf("benchworker: gRPC server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down bench worker")
	grpcServer.GracefulStop()
	logger.Info("bench worker stopped")
	atexit.Exit(0)
}
