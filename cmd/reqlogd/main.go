package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/3xpluto/go-reqlog/internal/config"
	"github.com/3xpluto/go-reqlog/internal/logging"
	"github.com/3xpluto/go-reqlog/internal/mw"
	"github.com/3xpluto/go-reqlog/internal/server"
	"github.com/3xpluto/go-reqlog/internal/sink"
)

func main() {
	var configPath string
	var validateOnly bool
	flag.StringVar(&configPath, "config", "", "path to yaml config (defaults and REQLOG_* env when empty)")
	flag.BoolVar(&validateOnly, "validate-config", false, "validate config and exit")
	flag.Parse()

	log := logging.New(slog.LevelInfo, "json")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if validateOnly {
		log.Info("config ok")
		return
	}

	level, _ := config.ParseLevel(cfg.Logging.Level)
	log = logging.New(level, cfg.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error("reqlogd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()

	stack, err := sink.Open(cfg.Sink, cfg.Logging, reg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn("closing sinks", slog.String("error", err.Error()))
		}
	}()

	srv, err := server.New(server.Options{
		Config:   cfg,
		Sink:     stack.Sink,
		Registry: reg,
		Log:      log,
		AdminKey: os.Getenv(mw.AdminKeyEnv),
	})
	if err != nil {
		return err
	}
	httpSrv := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("reqlogd listening",
			slog.String("addr", httpSrv.Addr),
			slog.String("mode", cfg.Logging.Mode),
			slog.String("log_file", stack.File.Filename()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout())
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
