package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"expensedash/internal/cli"
	"expensedash/internal/core"
	apphttp "expensedash/internal/http"
	applog "expensedash/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(applog.New(applog.DefaultConfig()), "Invalid configuration", err)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize application", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to release resources", applog.FieldError, err)
		}
	}()

	srv, err := apphttp.NewServer(cfg.Addr(), apphttp.Deps{
		Sessions: app.Sessions,
		Auth:     app.Auth,
		Records:  app.Records,
		Logger:   logger,
		PageSize: cfg.PageSize,
	})
	if err != nil {
		cli.Fatal(logger, "Failed to initialize HTTP server", err)
	}
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expensedash",
			applog.FieldOperation, applog.OpStartup,
			"addr", cfg.Addr(),
			"api", cfg.APIBaseURL,
			"session_backend", cfg.SessionBackend,
			"change_feed", app.Feed != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return app.WatchChanges(gctx, func(c core.Change) {
			logger.Debug("Expense list invalidated by change feed",
				applog.FieldOwnerID, c.OwnerID.String(),
				applog.FieldExpenseID, c.ExpenseID.String())
		})
	})

	if err := g.Wait(); err != nil {
		cli.Fatal(logger, "Server error", err)
	}
	logger.Info("Server stopped gracefully", applog.FieldOperation, applog.OpShutdown)
}
