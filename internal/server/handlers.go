package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/analytics"
	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/jsonx"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raw event.RawEvent
	if err := jsonx.DecodeReader(r.Body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if err := s.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "missing required field: "+verrs[0].Field())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid event envelope")
		return
	}

	if err := s.ingestor.Enqueue(raw); err != nil {
		if event.IsMalformed(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to accept event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	window, err := queryWindow(r, "window", analytics.DefaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}

	fp, err := s.analytics.ComputeFingerprint(r.Context(), userID, window)
	if err != nil {
		s.writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

func (s *Server) handleMotifs(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	window, err := queryWindow(r, "window", analytics.DefaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}
	minRecurrence := queryInt(r, "min_recurrence", 2)

	motifs, err := s.analytics.DetectMotifs(r.Context(), userID, window, minRecurrence)
	if err != nil {
		s.writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"motifs":  motifs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	window, err := queryWindow(r, "window", analytics.DefaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}

	stats, err := s.analytics.ComputeStats(r.Context(), userID, window)
	if err != nil {
		s.writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	surface := analytics.Surface(r.URL.Query().Get("os"))
	if !surface.Valid() {
		writeError(w, http.StatusBadRequest, "os must be one of ascii, xp, aqua, daw, analogue")
		return
	}
	windowA, err := queryWindow(r, "window_a", 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window_a")
		return
	}
	windowB, err := queryWindow(r, "window_b", analytics.DefaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window_b")
		return
	}

	drift, err := s.analytics.ComputeDrift(r.Context(), userID, surface, windowA, windowB)
	if err != nil {
		s.writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drift)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	window, err := queryWindow(r, "window", analytics.DefaultWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window")
		return
	}
	bucket, err := queryWindow(r, "bucket", analytics.DefaultBucketSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bucket")
		return
	}

	var buckets []analytics.Bucket
	switch by := r.URL.Query().Get("by"); by {
	case "", "activity":
		buckets, err = s.analytics.BucketByActivity(r.Context(), userID, window, bucket)
	case "first-seen":
		buckets, err = s.analytics.BucketByFirstSeen(r.Context(), userID, window, bucket)
	default:
		writeError(w, http.StatusBadRequest, "by must be activity or first-seen")
		return
	}
	if err != nil {
		s.writeAnalyticsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"buckets": buckets,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotImplemented, "search is not enabled")
		return
	}
	userID := mux.Vars(r)["userID"]
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	hits, err := s.index.Search(r.Context(), userID, term, queryInt(r, "limit", 10))
	if err != nil {
		s.logger.Error("label search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"hits":    hits,
	})
}

// handleErase cascades the erasure across the store, the analytics
// caches, and the search index.
func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	if err := s.merger.EraseUser(r.Context(), userID); err != nil {
		s.logger.Error("erase failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "erase failed")
		return
	}
	s.analytics.PurgeUser(r.Context(), userID)
	if s.index != nil {
		if err := s.index.DeleteUser(r.Context(), userID); err != nil {
			s.logger.Warn("search index erase failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeAnalyticsError(w http.ResponseWriter, err error) {
	if errors.Is(err, analytics.ErrUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.logger.Error("analytics query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "query failed")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
