package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadloft/leadloft/internal/config"
	apperrors "github.com/leadloft/leadloft/internal/errors"
	"github.com/leadloft/leadloft/internal/logging"
)

// NewHTTPServer builds an http.Server with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler, tlsCfg config.TLSConfig) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if tlsCfg.Enabled {
		minVersion := uint16(tls.VersionTLS12)
		if tlsCfg.MinVersion == "1.3" {
			minVersion = tls.VersionTLS13
		}
		srv.TLSConfig = &tls.Config{MinVersion: minVersion}
	}
	return srv
}

// ListenAndServe starts the server, with or without TLS. A server
// closed by shutdown is not an error.
func ListenAndServe(srv *http.Server, tlsCfg config.TLSConfig) error {
	var err error
	if tlsCfg.Enabled {
		err = srv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return &apperrors.ErrServerStart{Addr: srv.Addr, Err: err}
	}
	return nil
}

// GracefulShutdown drains in-flight requests within the timeout.
func GracefulShutdown(srv *http.Server, timeout time.Duration, logger *logging.Logger) error {
	logger.Info("shutting down http server", "timeout", timeout.String())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return &apperrors.ErrServerShutdown{Err: err}
	}
	logger.Info("http server stopped")
	return nil
}

// SetupSignalHandler returns a context canceled on SIGINT or SIGTERM.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
