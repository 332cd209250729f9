// README: API gateway; holds module services and serves the gin router.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dropmart/internal/infra"
	"dropmart/internal/logger"
	"dropmart/internal/modules/catalog"
	"dropmart/internal/modules/inventory"
	"dropmart/internal/modules/location"
	"dropmart/internal/modules/order"
	"dropmart/internal/modules/pickup"
	"dropmart/internal/modules/transfer"
)

type ServerDeps struct {
	Orders    *order.Service
	Pickup    *pickup.Service
	Inventory *inventory.Ledger
	Transfers *transfer.Service
	Catalog   *catalog.Service
	Vendors   *location.VendorIndex
	Verifier  infra.TokenVerifier
	Log       *zap.Logger

	// RequestTimeout bounds each API request; zero disables it.
	RequestTimeout time.Duration
}

type ListenOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	deps ServerDeps
	log  *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	deps.Log = logger.OrNop(deps.Log)
	return &Server{deps: deps, log: deps.Log}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s.deps)
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests for up to opts.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, opts ListenOptions) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("[Server] listening", zap.String("addr", opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	s.log.Info("[Server] shutting down")
	return srv.Shutdown(shutdownCtx)
}
