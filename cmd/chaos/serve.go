package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/api"
	"github.com/JohnathanBurchill/chaos/internal/auth"
	"github.com/JohnathanBurchill/chaos/internal/cache"
	"github.com/JohnathanBurchill/chaos/internal/health"
	"github.com/JohnathanBurchill/chaos/internal/stream"
)

// runServe starts the HTTP service. Coefficients load in the background;
// evaluation routes answer 503 until they are in. SIGHUP reloads them from
// the coefficient directory.
func runServe(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	addr := fs.String("addr", "", "listen address (default from config)")
	if err := e.parse(fs, args); err != nil {
		return err
	}
	if *addr != "" {
		e.cfg.Server.Addr = *addr
	}
	logger := e.logger

	authCfg := auth.Config{Enabled: e.cfg.Server.AuthEnabled, Token: e.cfg.Server.AuthToken}
	models := cache.NewModelCache(cache.Config{MaxEntries: e.cfg.Server.CacheEntries}, nil, logger.With("component", "cache"))
	ready := &health.Readiness{}
	traceOpts := e.cfg.TraceOptions()
	sweeps := stream.NewHandler(models, stream.Config{Trace: traceOpts}, logger.With("component", "stream"))

	srv := api.NewServer(e.cfg.Server.Addr, logger, authCfg, models, ready, sweeps, traceOpts, version)

	errCh := make(chan error, 2)

	go func() {
		c, err := e.loadCoefficients()
		if err != nil {
			errCh <- fmt.Errorf("loading coefficients: %w", err)
			return
		}
		models.Replace(c)
		ready.SetReady(true)
	}()

	// Reload on SIGHUP. A failed reload keeps the current release.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				c, err := e.loadCoefficients()
				if err != nil {
					logger.Error("coefficient reload failed, keeping current release", "error", err)
					continue
				}
				models.Replace(c)
				ready.SetReady(true)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", e.cfg.Server.Addr,
			"auth_enabled", authCfg.Enabled,
			"cache_entries", e.cfg.Server.CacheEntries,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server listen: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("server shutdown: %w", err))
	}

	logger.Info("server stopped")
	return runErr
}
