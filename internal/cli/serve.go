package cli

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

	"github.com/fjod/go_cart/storefront/internal/gateway"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/telemetry"
)

type ServeOptions struct {
	*RootOptions
	Port string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local storefront API",
		Long: `Serves the cart, checkout and order endpoints on localhost for a UI
running on the same device. Stops gracefully on SIGINT or SIGTERM.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port (defaults to HTTP_PORT)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.TracingEnabled, "storefront")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	sf, err := opts.Open(ctx, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storefront", err)
	}
	defer sf.Close()

	port := opts.Port
	if port == "" {
		port = cfg.HTTPPort
	}
	streamsDone := make(chan struct{})
	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", port),
		Handler: gateway.NewRouter(sf, gateway.Options{
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log,
			Done:           streamsDone,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for active requests, so event streams must end first.
	srv.RegisterOnShutdown(func() { close(streamsDone) })

	errCh := make(chan error, 1)
	go func() {
		log.Info("storefront API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down storefront API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "forced shutdown", err)
	}
	log.Info("storefront API stopped")
	return nil
}
