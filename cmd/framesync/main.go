// CLAUDE:SUMMARY Entry point for the framesync daemon: config, JSON logging, HTTP surface and the periodic display sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hazyhaar/artsync/framesync"
)

func main() {
	flagSet := pflag.NewFlagSet("framesync", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", os.Getenv("FRAMESYNC_CONFIG"), "path to a YAML config file (environment overrides it)")
	logLevel := flagSet.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	once := flagSet.Bool("once", false, "run a single sync cycle and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := framesync.LoadConfig(*configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := framesync.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("build", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if *once {
		st := svc.RunCycle(ctx, 1)
		if !st.LastSuccess {
			svc.Close()
			os.Exit(1)
		}
		return
	}

	// Bind before the loop starts so a taken port fails fast.
	addr := ":" + strconv.Itoa(cfg.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("listen", "addr", addr, "error", err)
		svc.Close()
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           framesync.NewHandler(svc),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("sync loop", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		slog.Warn("sync loop did not stop in time")
	}
	slog.Info("server stopped")
}
