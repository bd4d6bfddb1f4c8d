// Package server exposes the envelope and classification JSON API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"viewcurve/internal/store"
	"viewcurve/pkg/classify"
	"viewcurve/pkg/envelope"
	"viewcurve/pkg/snapshot"
)

// Server provides the HTTP API.
type Server struct {
	store      store.Store
	engine     *envelope.Engine
	classifier *classify.Service
	port       int
}

// New creates a new HTTP server.
func New(s store.Store, engine *envelope.Engine, classifier *classify.Service, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:      s,
		engine:     engine,
		classifier: classifier,
		port:       port,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/envelope", s.handleEnvelope)
	mux.HandleFunc("/api/v1/classify", s.handleClassify)
	mux.HandleFunc("/api/v1/baseline", s.handleBaseline)
	mux.HandleFunc("/api/v1/recompute", s.handleRecompute)

	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("viewcurve server listening on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	// A channel_id rescales the curve to that channel's baseline.
	if channelID := r.URL.Query().Get("channel_id"); channelID != "" {
		s.handleScaledEnvelope(w, r, channelID)
		return
	}

	run, err := s.store.LatestEnvelopeRun(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNoCompletedRun) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed envelope run"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	from := queryInt(r, "from", 0)
	to := queryInt(r, "to", run.HorizonDays)

	rows, err := s.store.GetEnvelopeRows(r.Context(), run.ID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":   run.ID,
		"data":  rows,
		"count": len(rows),
	})
}

func (s *Server) handleScaledEnvelope(w http.ResponseWriter, r *http.Request, channelID string) {
	from := queryInt(r, "from", 0)
	to := queryInt(r, "to", 0)

	rows, factor, err := s.classifier.ScaledEnvelope(r.Context(), channelID, from, to)
	if err != nil {
		if errors.Is(err, classify.ErrNoEnvelope) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed envelope run"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id":   channelID,
		"scale_factor": factor,
		"data":         rows,
		"count":        len(rows),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var (
		res *classify.Result
		err error
	)

	if videoID := r.URL.Query().Get("video_id"); videoID != "" {
		res, err = s.classifier.ClassifyVideo(r.Context(), videoID)
	} else if channelID := r.URL.Query().Get("channel_id"); channelID != "" {
		actual, perr := strconv.ParseInt(r.URL.Query().Get("actual_views"), 10, 64)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actual_views required"})
			return
		}
		age, perr := strconv.Atoi(r.URL.Query().Get("age_days"))
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "age_days required"})
			return
		}
		res, err = s.classifier.ClassifyChannel(r.Context(), channelID, actual, age)
	} else {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "video_id or channel_id required"})
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, classify.ErrNoEnvelope):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no envelope computed yet"})
		case errors.Is(err, snapshot.ErrDataUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel_id required"})
		return
	}

	b, err := s.store.GetBaseline(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	summary, err := s.engine.Recompute(r.Context())
	if err != nil {
		if errors.Is(err, snapshot.ErrDataUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
