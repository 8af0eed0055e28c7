package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/gramster/midi-analyzer/internal/store"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueryPatterns answers clip queries from URL parameters.
func (s *Server) handleQueryPatterns(w http.ResponseWriter, r *http.Request) {
	q := store.ClipQuery{
		Role:          r.URL.Query().Get("role"),
		Genre:         r.URL.Query().Get("genre"),
		Artist:        r.URL.Query().Get("artist"),
		Meter:         r.URL.Query().Get("meter"),
		MinLengthBars: queryInt(r, "min_length_bars"),
		MaxLengthBars: queryInt(r, "max_length_bars"),
		Limit:         queryInt(r, "limit"),
		Offset:        queryInt(r, "offset"),
	}

	rows, err := s.store.QueryPatterns(q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handleGetPattern returns one pattern by id.
func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetPattern(chi.URLParam(r, "id"))
	if err != nil {
		s.writeNotFoundOrError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

// handleGetInstances returns a pattern's instances.
func (s *Server) handleGetInstances(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetInstances(chi.URLParam(r, "id"))
	if err != nil {
		s.writeNotFoundOrError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handleListSongs pages through the corpus.
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSongs(queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handleGetSong returns one song row.
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetSong(chi.URLParam(r, "id"))
	if err != nil {
		s.writeNotFoundOrError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

// handleStats returns corpus counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CorpusStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("request failed", "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeNotFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
