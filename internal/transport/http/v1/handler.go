// Package v1 provides the versioned HTTP handlers for the trace service.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tracekit/tracekit/internal/domain"
	"github.com/tracekit/tracekit/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Trace API
	e.POST("/v1/traces", h.CreateTrace)
	e.GET("/v1/traces/:trace_id", h.GetTrace)
	e.POST("/v1/traces/:trace_id/events", h.AppendEvents)
	e.POST("/v1/traces/:trace_id/finalize", h.FinalizeTrace)

	// Blob API
	e.POST("/v1/blobs", h.UploadBlob)
	e.GET("/v1/blobs/:blob_id", h.GetBlob)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// writeError maps a service error to its HTTP response. Event-append
// rejections carry the trace's current seq_high so clients can
// resubmit from the right sequence value.
func writeError(c echo.Context, err error) error {
	body := map[string]interface{}{"error": err.Error()}

	var de *domain.Error
	if errors.As(err, &de) {
		body["code"] = string(de.Code)
		if de.Field != "" {
			body["field"] = de.Field
		}
		if de.SeqHigh > 0 {
			body["seq_high"] = de.SeqHigh
		}
		switch de.Code {
		case domain.ErrCodeValidation:
			return c.JSON(http.StatusBadRequest, body)
		case domain.ErrCodeConflict:
			return c.JSON(http.StatusConflict, body)
		case domain.ErrCodeNotFound:
			return c.JSON(http.StatusNotFound, body)
		}
	}
	return c.JSON(http.StatusInternalServerError, body)
}
