package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/weathertracker/internal/models"
	"github.com/lox/weathertracker/internal/store"
	"github.com/lox/weathertracker/internal/tracker"
)

// Tracker is the state holder the API drives.
type Tracker interface {
	State() tracker.State
	AddCity(ctx context.Context, name, country string) error
	RemoveCity(ctx context.Context, city models.City) error
	Refresh(ctx context.Context) error
	ClearError(ctx context.Context) error
}

// AuditStore exposes recorded batches and raw provider responses.
type AuditStore interface {
	GetRecentFetchRuns(ctx context.Context, limit int) ([]store.FetchRun, error)
	LatestRawPayload(ctx context.Context, cityKey string) (*store.RawPayload, error)
	GetRawPayload(ctx context.Context, id int64) ([]byte, error)
}

type Server struct {
	tracker Tracker
	audit   AuditStore
	port    string
}

func NewServer(t Tracker, port string) *Server {
	return &Server{
		tracker: t,
		port:    port,
	}
}

// SetAuditStore enables the fetch-run and raw-payload endpoints.
func (s *Server) SetAuditStore(a AuditStore) {
	s.audit = a
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Routes stay on the root router: a subrouter answers a method mismatch
	// with 404 instead of 405.
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/cities", s.handleAddCity).Methods(http.MethodPost)
	r.HandleFunc("/api/cities/{name}/{country}", s.handleRemoveCity).Methods(http.MethodDelete)
	r.HandleFunc("/api/cities/{name}/{country}/raw", s.handleRawPayload).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/error", s.handleClearError).Methods(http.MethodDelete)
	r.HandleFunc("/api/suggestions", s.handleSuggestions).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", s.handleRuns).Methods(http.MethodGet)
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
