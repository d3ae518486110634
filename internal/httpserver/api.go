package httpserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"burnbin/internal/paste"
)

const (
	maxRequestBytes = 1 << 20
	// maxTTLSeconds keeps expires_in_seconds within a time.Duration.
	maxTTLSeconds = math.MaxInt64 / int64(time.Second)
)

type createRequest struct {
	Content          *string `json:"content"`
	ExpiresInSeconds *int64  `json:"expires_in_seconds"`
	MaxViews         *int    `json:"max_views"`
}

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type fetchResponse struct {
	Content        string     `json:"content"`
	RemainingViews *int       `json:"remaining_views"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAPICreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Content == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "content is required"})
		return
	}

	if req.ExpiresInSeconds != nil && *req.ExpiresInSeconds > maxTTLSeconds {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expires_in_seconds is too large"})
		return
	}

	params := paste.CreateParams{
		Content:  *req.Content,
		MaxViews: req.MaxViews,
	}
	if req.ExpiresInSeconds != nil && *req.ExpiresInSeconds > 0 {
		params.TTL = time.Duration(*req.ExpiresInSeconds) * time.Second
	}

	created, err := s.engine.Create(r.Context(), params)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: created.ID, URL: created.URL})
}

func (s *Server) handleAPIFetch(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Fetch(r.Context(), chi.URLParam(r, "id"), s.nowFor(r))
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	resp := fetchResponse{
		Content:        view.Content,
		RemainingViews: view.RemainingViews,
	}
	if !view.ExpiresAt.IsZero() {
		exp := view.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, paste.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "content must be a non-empty string"})
	case errors.Is(err, paste.ErrUnavailable):
		if reason, ok := paste.ReasonOf(err); ok && s.logger != nil {
			s.logger.Debug("api lookup refused", "path", r.URL.Path, "reason", reason)
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "paste not found or expired"})
	default:
		s.logError(r, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
