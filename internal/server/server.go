// Package server exposes the HTTP API: event intake, the analytics
// read queries, label search, and user erasure.
package server

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/analytics"
	"github.com/creative-memory-graph/internal/graph"
	"github.com/creative-memory-graph/internal/pipeline"
	"github.com/creative-memory-graph/internal/search"
)

// Server wires the HTTP surface over the pipeline and analytics.
type Server struct {
	router    *mux.Router
	ingestor  *pipeline.Ingestor
	analytics *analytics.Service
	merger    *graph.Merger
	index     *search.LabelIndex
	validate  *validator.Validate
	logger    *zap.Logger
}

// New builds the router. The search index may be nil, which disables
// the search endpoint.
func New(ingestor *pipeline.Ingestor, svc *analytics.Service, merger *graph.Merger, index *search.LabelIndex, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		ingestor:  ingestor,
		analytics: svc,
		merger:    merger,
		index:     index,
		validate:  validator.New(),
		logger:    logger.Named("http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/events", s.handleIngest).Methods(http.MethodPost)

	users := s.router.PathPrefix("/v1/users/{userID}").Subrouter()
	users.HandleFunc("/fingerprint", s.handleFingerprint).Methods(http.MethodGet)
	users.HandleFunc("/motifs", s.handleMotifs).Methods(http.MethodGet)
	users.HandleFunc("/drift", s.handleDrift).Methods(http.MethodGet)
	users.HandleFunc("/timeline", s.handleTimeline).Methods(http.MethodGet)
	users.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	users.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	users.HandleFunc("/memory", s.handleErase).Methods(http.MethodDelete)
}

// Handler returns the router wrapped with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{s.logger}))(
		handlers.CombinedLoggingHandler(os.Stdout, s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryWindow parses the window query parameter, with a fallback.
func queryWindow(r *http.Request, name string, fallback time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return analytics.ParseWindow(raw)
}

func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

type recoveryLogger struct {
	logger *zap.Logger
}

func (rl *recoveryLogger) Println(v ...interface{}) {
	rl.logger.Error("panic in handler", zap.Any("detail", v))
}
