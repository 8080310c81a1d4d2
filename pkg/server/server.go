// Package server exposes rhyme queries over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lanceczlt/Pun-Generator/pkg/query"
	"github.com/lanceczlt/Pun-Generator/pkg/rhyme"
)

// maxRequestBody bounds query request bodies.
const maxRequestBody = 1 << 20

// Querier answers rhyme queries.
type Querier interface {
	FindRhymes(ctx context.Context, req query.Request) ([]query.Result, error)
}

// Pinger reports store health. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the HTTP adapter.
type Options struct {
	BasePath string
	// CORS lists allowed origins; "*" allows any. Empty disables CORS headers.
	CORS    []string
	Version string
}

// Server routes HTTP requests to the query engine.
type Server struct {
	engine Querier
	store  Pinger
	opts   Options
	logger zerolog.Logger
}

// New creates a Server. store may be nil, in which case health checks only
// report that the process is up.
func New(engine Querier, store Pinger, opts Options, logger zerolog.Logger) *Server {
	if opts.BasePath == "" {
		opts.BasePath = "/api/v1"
	}
	opts.BasePath = "/" + strings.Trim(opts.BasePath, "/")
	return &Server{engine: engine, store: store, opts: opts, logger: logger}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	router := s.setupRoutes()

	var h http.Handler = router
	if len(s.opts.CORS) > 0 {
		h = s.corsMiddleware(h)
	}
	h = s.loggingMiddleware(h)
	return s.requestIDMiddleware(h)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(metricsMiddleware)

	base := router.PathPrefix(s.opts.BasePath).Subrouter()
	base.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	base.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", addr).Str("base_path", s.opts.BasePath).Msg("Starting query API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// inputs accepts either a single string or a list of strings.
type inputs []string

func (in *inputs) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*in = inputs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New(`"input" must be a string or a list of strings`)
	}
	*in = many
	return nil
}

type queryRequest struct {
	Input   *inputs  `json:"input"`
	Mode    string   `json:"mode"`
	Sources []string `json:"sources"`
	NSFW    bool     `json:"nsfw"`
}

type queryResponse struct {
	Results []query.Result `json:"results"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.sendError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Input == nil {
		s.sendError(w, r, http.StatusBadRequest, "Missing input", nil)
		return
	}
	mode, err := query.ParseMode(req.Mode)
	if err != nil {
		s.sendError(w, r, http.StatusBadRequest, "Invalid mode", err)
		return
	}

	results, err := s.engine.FindRhymes(r.Context(), query.Request{
		Inputs:    *req.Input,
		Mode:      mode,
		Sources:   req.Sources,
		AllowNSFW: req.NSFW,
	})
	if err != nil {
		s.sendError(w, r, statusFor(err), "Query failed", err)
		return
	}
	if results == nil {
		results = []query.Result{}
	}
	s.sendJSON(w, r, http.StatusOK, queryResponse{Results: results})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, rhyme.ErrResolver):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	// store failures and anything unexpected
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.opts.Version,
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.PingContext(ctx); err != nil {
			health["status"] = "unhealthy"
			health["store"] = err.Error()
			s.sendJSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
		health["store"] = "operational"
	}
	s.sendJSON(w, r, http.StatusOK, health)
}

// Helper methods

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	ev := zerolog.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = zerolog.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("message", message).Int("status", status).Msg("API error")

	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.sendJSON(w, r, status, response)
}
