// Command relftpd is the relftp server: it accepts control-channel
// bootstrap requests and drives the corresponding upload/download over an
// ephemeral UDP data port (§6 "Operator surface").
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aetherlabs/relftp/internal/config"
	"github.com/aetherlabs/relftp/internal/metrics"
	"github.com/aetherlabs/relftp/internal/storage"
	"github.com/aetherlabs/relftp/internal/tracing"

	"github.com/aetherlabs/relftp/internal/session"
)

var (
	configFile = flag.String("f", "configs/relftpd.yaml", "config file path")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relftpd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relftpd: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting relftpd", zap.String("version", version))

	storageRoot, err := storage.New(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("relftpd: failed to open storage root", zap.Error(err))
	}

	m := metrics.New("relftp", "server")
	if cfg.Metrics.Enable {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port)
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", addr), zap.String("path", cfg.Metrics.Path))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	tracer, err := tracing.New(cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("relftpd: failed to init tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	srv, err := session.New(cfg.Server.Host, cfg.Server.ControlPort, storageRoot, logger, m, tracer)
	if err != nil {
		logger.Fatal("relftpd: failed to start control listener", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("relftpd: serve error", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("relftpd: received signal", zap.String("signal", sig.String()))
		cancel()
		<-errCh
	}

	logger.Info("relftpd: shutdown complete")
}
