package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Health states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// ChainStatus is the health of one chain subscription.
type ChainStatus struct {
	Chain         string `json:"chain"`
	State         string `json:"state"`
	LastProcessed uint64 `json:"last_processed_block"`
	Tokens        int    `json:"tokens"`
}

// Health is the /healthz payload.
type Health struct {
	Status string        `json:"status"`
	Chains []ChainStatus `json:"chains"`
	Relay  string        `json:"relay"`
}

// Reloader refreshes one externally owned data set.
type Reloader func(ctx context.Context) error

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// Server is the operator HTTP API.
type Server struct {
	router    *mux.Router
	health    func() Health
	reloaders map[string]Reloader
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

func New(health func() Health, reloaders map[string]Reloader, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:    mux.NewRouter(),
		health:    health,
		reloaders: reloaders,
		gatherer:  gatherer,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/reload/{target}", s.handleReload()).Methods(http.MethodPost)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := Health{Status: StatusOK}
		if s.health != nil {
			h = s.health()
		}
		status := http.StatusOK
		if h.Status == StatusFailed {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

func (s *Server) handleReload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := mux.Vars(r)["target"]
		reload, ok := s.reloaders[target]
		if !ok {
			writeJSONError(w, http.StatusNotFound, "UNKNOWN_TARGET",
				fmt.Sprintf("unknown reload target %q, expected one of %v", target, s.targets()))
			return
		}

		start := time.Now()
		if err := reload(r.Context()); err != nil {
			s.logger.Warn("reload failed", zap.String("target", target), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "RELOAD_FAILED", err.Error())
			return
		}
		s.logger.Info("reload complete", zap.String("target", target), zap.Duration("took", time.Since(start)))
		writeJSON(w, http.StatusOK, map[string]string{"reloaded": target})
	}
}

func (s *Server) targets() []string {
	out := make([]string, 0, len(s.reloaders))
	for name := range s.reloaders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("operator api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
