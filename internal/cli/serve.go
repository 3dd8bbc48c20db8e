package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/convengine"
	httpadapter "github.com/aretw0/convengine/pkg/adapters/http"
)

// NewHTTPServer mounts the JSON API of rt.
func NewHTTPServer(rt *Runtime, addr string, logger *slog.Logger) *http.Server {
	opts := []httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithMetricsHandler(rt.MetricsHandler()),
		httpadapter.WithVersion(convengine.Version),
	}
	if rt.Watcher != nil {
		opts = append(opts, httpadapter.WithRuleWatcher(rt.Watcher))
	}
	api := httpadapter.NewServer(rt.Engine, opts...)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(api.Close)
	return srv
}

// Serve runs srv on ln until ctx is done, then shuts it down, giving
// in-flight requests up to timeout to complete.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, logger *slog.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete", "timeout", timeout, "error", err)
		if cerr := srv.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
