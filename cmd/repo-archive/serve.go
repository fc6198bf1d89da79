package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wolfeidau/repo-archive/server"
	"github.com/wolfeidau/repo-archive/telemetry"
)

// ServeCmd runs the lookup server.
type ServeCmd struct {
	Address            string `help:"Address to bind the server to." default:"127.0.0.1"`
	Port               int    `help:"Port to listen on." default:"8081"`
	GitRepoArchive     string `help:"Git archive file (one url,path,commit,date,fetch line per repository)." required:"" type:"path"`
	HuggingfaceArchive string `help:"Model-repository archive file (one identifier per line)." type:"path"`
	Watch              bool   `help:"Reload archives when their files change."`
	MaxInFlight        int    `help:"Lookup requests handled at once (0 for no limit)." default:"1"`

	MetricsPrometheus   bool   `help:"Expose Prometheus metrics on /metrics."`
	MetricsOTLPEndpoint string `name:"metrics-otlp-endpoint" help:"OTLP gRPC endpoint for metrics export (e.g. localhost:4317)."`
}

// Run implements the serve command.
func (c *ServeCmd) Run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "repo-archive",
		ServiceVersion:   version,
		OTLPEndpoint:     c.MetricsOTLPEndpoint,
		EnablePrometheus: c.MetricsPrometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(ctx, server.Config{
		Address:                net.JoinHostPort(c.Address, strconv.Itoa(c.Port)),
		GitArchivePath:         c.GitRepoArchive,
		HuggingfaceArchivePath: c.HuggingfaceArchive,
		Watch:                  c.Watch,
		MaxInFlight:            c.MaxInFlight,
		Logger:                 logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("received signal, reloading archives", "signal", sig)
				if err := srv.ReloadAll(ctx); err != nil {
					logger.Error("reload incomplete, previous index kept", "error", err)
				}
				continue
			}
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return
		}
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"git_archive", c.GitRepoArchive,
		"huggingface_archive", c.HuggingfaceArchive,
		"prometheus", c.MetricsPrometheus,
	)

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
