package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lox/weathertracker/internal/display"
	"github.com/lox/weathertracker/internal/models"
	"github.com/lox/weathertracker/internal/tracker"
)

const defaultRunsLimit = 20

type addCityRequest struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// actionStatus maps tracker action errors to HTTP status codes. Persistence
// failures fall through to 500.
func actionStatus(err error) int {
	switch {
	case errors.Is(err, tracker.ErrDuplicateCity):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrInvalidCity):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeState(w http.ResponseWriter, status int) {
	writeJSON(w, status, newStateView(s.tracker.State()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.tracker.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"trackedCities": len(st.TrackedCities),
		"generation":    st.Generation,
		"isLoading":     st.IsLoading,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleAddCity(w http.ResponseWriter, r *http.Request) {
	var req addCityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.tracker.AddCity(r.Context(), req.Name, req.Country); err != nil {
		status := actionStatus(err)
		if status >= http.StatusInternalServerError {
			log.Printf("api: add city %s,%s: %v", req.Name, req.Country, err)
		}
		writeError(w, status, err.Error())
		return
	}
	s.writeState(w, http.StatusCreated)
}

func (s *Server) handleRemoveCity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	city := models.NewCity(vars["name"], vars["country"])

	if err := s.tracker.RemoveCity(r.Context(), city); err != nil {
		log.Printf("api: remove city %s: %v", city.Key(), err)
		writeError(w, actionStatus(err), err.Error())
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Refresh(r.Context()); err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}
	s.writeState(w, http.StatusAccepted)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.ClearError(r.Context()); err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", display.DefaultSuggestionLimit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, display.Suggest(r.URL.Query().Get("q"), limit))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "fetch runs are not recorded")
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultRunsLimit)
	if !ok {
		return
	}

	runs, err := s.audit.GetRecentFetchRuns(r.Context(), limit)
	if err != nil {
		log.Printf("api: recent fetch runs: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleRawPayload serves the newest provider response stored for a city.
func (s *Server) handleRawPayload(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "raw payloads are not recorded")
		return
	}
	vars := mux.Vars(r)
	key := models.NewCity(vars["name"], vars["country"]).Key()

	latest, err := s.audit.LatestRawPayload(r.Context(), key)
	if err != nil {
		log.Printf("api: latest raw payload %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "no payload recorded for "+key)
		return
	}

	body, err := s.audit.GetRawPayload(r.Context(), latest.ID)
	if err != nil {
		log.Printf("api: raw payload %d: %v", latest.ID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Payload-Hash", latest.PayloadHash)
	w.Write(body)
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid "+name+": "+raw)
		return 0, false
	}
	return n, true
}
