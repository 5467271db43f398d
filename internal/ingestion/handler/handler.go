package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/logger"
)

// maxBodyBytes leaves room for JSON escaping around the largest accepted text.
const maxBodyBytes = 32 << 20

// Documents is the document service behind the HTTP API;
// *publisher.Publisher implements it.
type Documents interface {
	Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error)
	Get(ctx context.Context, id string) (*store.Document, error)
	List(ctx context.Context, limit, offset int) ([]store.Document, error)
	Reindex(ctx context.Context, id string) (*ingestion.IndexStatusResponse, error)
	IndexStatus(ctx context.Context, id string) (*ingestion.IndexStatusResponse, error)
}

type Handler struct {
	docs   Documents
	logger *slog.Logger
}

func New(docs Documents) *Handler {
	return &Handler{
		docs:   docs,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the document routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("GET /api/v1/documents", h.List)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/documents/{id}/index", h.Reindex)
	mux.HandleFunc("GET /api/v1/documents/{id}/index/status", h.IndexStatus)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngestRequest(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.docs.Ingest(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed", "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, apperrors.PublicMessage(err, "ingestion failed"))
		return
	}
	log.Info("document ingested",
		"doc_id", resp.DocumentID,
		"file_name", resp.FileName,
		"size_bytes", len(req.Text),
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, "loading document failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// List pages through documents, newest first. limit is 1 to 100 (default
// 20); offset defaults to 0.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := 20, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	docs, err := h.docs.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(r.Context(), w, "listing documents failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	status, err := h.docs.Reindex(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, "reindex failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, status)
}

func (h *Handler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.docs.IndexStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, "loading index status failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	statusCode := apperrors.HTTPStatusCode(err)
	if statusCode >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error(msg, "error", err, "status_code", statusCode)
	}
	h.writeError(w, statusCode, apperrors.PublicMessage(err, msg))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
