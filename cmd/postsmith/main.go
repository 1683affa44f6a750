package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"postsmith/app/internal/app/bootstrap"
	"postsmith/app/internal/platform/config"
	applog "postsmith/app/internal/platform/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failure loading configuration")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "postsmith@" + version,
	})
	if err != nil {
		return eris.Wrap(err, "failure initialising sentry")
	}
	defer flush()

	app, err := bootstrap.Build(ctx, bootstrap.Dependencies{
		Config:    *cfg,
		Logger:    logger,
		SentryHub: sentryHub,
	})
	if err != nil {
		return eris.Wrap(err, "bootstrapping application")
	}
	defer func() {
		if closeErr := app.Cleanup(); closeErr != nil {
			logger.WithField("error", closeErr.Error()).Error("closing application resources")
		}
	}()

	if cfg.RunMode == config.RunModeOnce {
		return runOnce(ctx, app, logger)
	}

	return serve(ctx, cfg, app, logger)
}

func runOnce(ctx context.Context, app bootstrap.Result, logger *logrus.Logger) error {
	report, err := app.Pipeline.Run(ctx)
	if err != nil {
		return eris.Wrap(err, "running pipeline")
	}

	logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"post_id":   string(report.PostID),
		"published": report.Published,
		"dry_run":   report.DryRun,
		"attempts":  len(report.Generation.Attempts),
	}).Info("run complete")

	return nil
}

func serve(ctx context.Context, cfg *config.Config, app bootstrap.Result, logger *logrus.Logger) error {
	httpServer := &stdhttp.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.ServerPort),
		Handler: app.HTTPServer.Handler(),
	}

	app.Scheduler.Start()
	for _, upcoming := range app.Scheduler.Next() {
		logger.WithFields(logrus.Fields{
			"entry": upcoming.Name,
			"next":  upcoming.Next,
		}).Info("post scheduled")
	}

	logger.WithFields(logrus.Fields{
		"addr": httpServer.Addr,
	}).Info("starting http server")

	serverErrCh := make(chan error, 1)
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			serveErr = eris.Wrap(err, "http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := app.Scheduler.Stop(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("stopping scheduler")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutting down http server")
	}

	if serveErr != nil {
		return serveErr
	}

	logger.Info("shut down cleanly")
	return nil
}
