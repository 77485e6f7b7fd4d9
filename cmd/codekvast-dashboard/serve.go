package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/spf13/cobra"

	"github.com/crispab/codekvast-dashboard/internal/config"
	httpapp "github.com/crispab/codekvast-dashboard/internal/http"
	"github.com/crispab/codekvast-dashboard/internal/http/handlers"
	"github.com/crispab/codekvast-dashboard/internal/logging"
	"github.com/crispab/codekvast-dashboard/internal/methods"
	"github.com/crispab/codekvast-dashboard/internal/metrics"
	"github.com/crispab/codekvast-dashboard/internal/poll"
	"github.com/crispab/codekvast-dashboard/internal/status"
	"github.com/crispab/codekvast-dashboard/internal/warehouse"
)

const sessionLifetime = 12 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard HTTP server and the status polling loop.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		setCommandExecutionContext(commandExecutionContext{
			CommandPath:       cmd.CommandPath(),
			UsesStructuredLog: true,
		})
		return runServe(cmd.CommandPath())
	},
}

func runServe(commandPath string) error {
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: commandPath})
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := scs.New()
	sessions.Lifetime = sessionLifetime
	sessions.Cookie.Secure = cfg.AuthCookieSecure
	sessions.Cookie.SameSite = http.SameSiteLaxMode

	client := warehouse.NewClient(cfg.WarehouseURL, cfg.QueryTimeout, nil)
	cache := status.NewCache(client)
	controller := methods.NewController(client.SearchMethods)

	poller := poll.New(func(ctx context.Context) {
		if err := cache.Refresh(ctx); err != nil {
			logger.Warn("status poll failed", "error", err)
		}
	}, cfg.PollInterval)
	poller.Start()
	defer poller.Stop()

	h := handlers.New(logger, sessions, client, cache, controller, poller)
	srv, err := httpapp.NewEchoServer(h, cfg.AuthCookieSecure)
	if err != nil {
		return err
	}

	_, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.HTTPAddr))
		errCh <- srv.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-metricsErrCh:
		return err
	}
}
