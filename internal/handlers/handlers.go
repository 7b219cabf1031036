package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Brownie44l1/describe-api/internal/cache"
	"github.com/Brownie44l1/describe-api/internal/model"
)

// Describer is the classification service as seen by the HTTP layer.
type Describer interface {
	Describe(ctx context.Context, image []byte) (model.RankedResult, error)
}

type Handler struct {
	service   Describer
	stats     *cache.Reporter
	maxUpload int64
	logger    *slog.Logger
}

func NewHandler(service Describer, stats *cache.Reporter, maxUpload int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   service,
		stats:     stats,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Describe classifies the multipart "image" upload and returns
// {label: confidence} for the top labels in rank order.
func (h *Handler) Describe(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds size limit", requestID)
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_form", "failed to parse form", requestID)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing_image", "no image file provided, use 'image' as the form field name", requestID)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_form", "failed to read upload", requestID)
		return
	}
	h.logger.Debug("received upload", "request_id", requestID, "file", header.Filename, "bytes", len(data))

	result, err := h.service.Describe(r.Context(), data)
	if err != nil {
		if r.Context().Err() != nil {
			// client is gone
			h.logger.Info("request abandoned", "request_id", requestID, "error", err)
			return
		}
		status, code := mapDomainError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("describe failed", "request_id", requestID, "error", err)
		}
		h.writeError(w, status, code, err.Error(), requestID)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidImage):
		return http.StatusBadRequest, "invalid_image"
	case errors.Is(err, model.ErrCacheUnavailable):
		return http.StatusServiceUnavailable, "cache_unavailable"
	case errors.Is(err, model.ErrComputationFailed):
		return http.StatusInternalServerError, "computation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
