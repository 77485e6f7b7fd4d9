// Package metrics exposes the dashboard's Prometheus instrumentation and the
// standalone /metrics listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// StartServer serves /metrics on addr until ctx is cancelled. An empty or
// "off"/"disabled"/"false" addr disables the listener; listen errors arrive
// on the returned channel.
func StartServer(ctx context.Context, addr string) (*http.Server, <-chan error) {
	addr = strings.TrimSpace(addr)
	switch strings.ToLower(addr) {
	case "", "off", "disabled", "false":
		return nil, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, errCh
}
