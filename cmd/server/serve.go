package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/api"
	"github.com/shehryarbajwa/session-keeper/internal/browser"
	"github.com/shehryarbajwa/session-keeper/internal/config"
	"github.com/shehryarbajwa/session-keeper/internal/gate"
	"github.com/shehryarbajwa/session-keeper/internal/profiledir"
	"github.com/shehryarbajwa/session-keeper/internal/queue"
	"github.com/shehryarbajwa/session-keeper/internal/ratelimit"
	"github.com/shehryarbajwa/session-keeper/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting session keeper", zap.String("backend", cfg.Backend), zap.String("addr", cfg.Addr))

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	dirs, err := profiledir.NewManager(cfg.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to create profile directory manager: %w", err)
	}
	logger.Info("profile directories ready", zap.String("root", dirs.Root()))

	cleaners := browser.Cleaners{browser.NewProcessKiller(dirs.Root(), logger)}

	var acquirer browser.Acquirer
	switch cfg.Backend {
	case config.BackendDocker:
		docker, err := browser.NewDockerAcquirer(browser.DockerConfig{
			Image:          cfg.DockerImage,
			StartupTimeout: cfg.StartupTimeout,
			OpTimeout:      cfg.OpTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer docker.Close()

		pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		err = docker.EnsureImage(pullCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ensure browser image: %w", err)
		}

		// Containers left over from a previous run
		docker.ForceCleanup(ctx)

		acquirer = docker
		cleaners = append(cleaners, docker)
	default:
		acquirer = browser.NewLocalAcquirer(browser.LocalConfig{
			ExecPath:       cfg.ChromePath,
			Headless:       cfg.Headless,
			StartupTimeout: cfg.StartupTimeout,
			OpTimeout:      cfg.OpTimeout,
		}, logger)
	}

	launcher := browser.NewLauncher(browser.Config{
		AccountRootURL:      cfg.AccountRootURL,
		TargetURL:           cfg.TargetURL,
		LoginURL:            cfg.LoginURL,
		LoginWait:           cfg.LoginWait,
		Viewport:            browser.DefaultViewport,
		FallbackToSimulated: cfg.SimulatedFallback,
	}, st, dirs, acquirer, logger)

	controller := queue.New(launcher, st,
		queue.WithRetries(cfg.Retries, cfg.RetryDelay),
		queue.WithCleaner(cleaners),
		queue.WithLogger(logger),
	)

	var verifier gate.Verifier = gate.NewDemo(logger)
	if cfg.GateURL != "" {
		verifier = gate.NewHTTP(cfg.GateURL, logger)
	}

	handler := api.NewHandler(controller, st, verifier, logger)
	router := handler.SetupRoutes(api.RouteConfig{
		Profiles:      api.NewProfileHandler(st, dirs, logger),
		Console:       hub,
		Limiter:       ratelimit.NewLimiter(cfg.VerifyPerHour, cfg.VerifyBurst),
		VerifyPerHour: cfg.VerifyPerHour,
		TrustProxy:    cfg.TrustProxy,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: stepBudget(cfg),
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	// Saves and closes the active browser
	controller.Shutdown(shutdownCtx)

	logger.Info("server stopped cleanly")
	return nil
}

// stepBudget bounds how long one process-next request may take: every
// attempt can spend its startup, login wait and one operation timeout.
func stepBudget(cfg *config.Config) time.Duration {
	attempts := time.Duration(cfg.Retries + 1)
	perAttempt := cfg.StartupTimeout + cfg.LoginWait + cfg.OpTimeout
	return attempts*perAttempt + time.Duration(cfg.Retries)*cfg.RetryDelay + time.Minute
}
