// Package metrics exposes the module's diagnostics HTTP surface: prometheus
// metrics, a health probe, and a JSON mirror of the operator status packet.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotsgofarming/abls/internal/module/protocol"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/options"
)

// StatusFunc supplies the current status packet for the JSON endpoint.
type StatusFunc func() protocol.StatusPacket

// Server is the diagnostics HTTP server.
type Server struct {
	srv *http.Server
}

// NewServer builds the diagnostics server on the configured address.
func NewServer(opts *options.HttpOptions, status StatusFunc) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			log.Warn("Failed to encode status", "err", err)
		}
	}).Methods(http.MethodGet)

	return &Server{
		srv: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Diagnostics HTTP server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
