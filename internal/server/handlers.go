package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"docsum/internal/model"
	"docsum/internal/resolver"
	"docsum/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type submitRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type documentResponse struct {
	ID        uuid.UUID            `json:"id"`
	Name      string               `json:"name"`
	URL       string               `json:"url"`
	Summary   *string              `json:"summary"`
	Status    model.DocumentStatus `json:"status"`
	Progress  float64              `json:"progress"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func toResponse(doc *model.Document) documentResponse {
	return documentResponse{
		ID:        doc.ID,
		Name:      doc.Name,
		URL:       doc.URL,
		Summary:   doc.Summary,
		Status:    doc.Status,
		Progress:  doc.Progress(),
		Error:     doc.ErrorMessage,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := s.submitter.Submit(r.Context(), req.Name, req.URL)
	switch {
	case errors.Is(err, resolver.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, resolver.ErrConflict):
		s.writeError(w, http.StatusConflict, resolver.ErrConflict.Error())
		return
	case err != nil:
		s.logger.Error("Failed to submit document", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to submit document")
		return
	}

	s.writeJSON(w, http.StatusAccepted, toResponse(sub.Document))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be non-negative")
		return
	}

	docs, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to list documents", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toResponse(&docs[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	doc, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	} else if err != nil {
		s.logger.Error("Failed to load document", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	s.writeJSON(w, http.StatusOK, toResponse(doc))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	text, err := s.store.LoadText(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no extracted text for document")
		return
	} else if errors.Is(err, store.ErrNoContentStore) {
		s.writeError(w, http.StatusServiceUnavailable, "text archive is not available in this process")
		return
	} else if err != nil {
		s.logger.Error("Failed to load text", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

func (s *Server) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid document id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"redis_alive": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"redis_alive": true})
}
