package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tracekit/tracekit/internal/domain"
)

// CreateTrace creates a new trace in status collecting.
// POST /v1/traces
func (h *Handler) CreateTrace(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.TraceCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.CreateTrace(ctx, &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetTrace returns a trace, optionally with its event log and QA block.
// GET /v1/traces/:trace_id?include_events=true&include_qa=true
func (h *Handler) GetTrace(c echo.Context) error {
	ctx := c.Request().Context()
	traceID := c.Param("trace_id")

	includeEvents := queryBool(c, "include_events")
	includeQA := queryBool(c, "include_qa")

	trace, events, err := h.service.GetTrace(ctx, traceID, includeEvents, includeQA)
	if err != nil {
		return writeError(c, err)
	}
	if includeEvents {
		trace.Events = events
		if trace.Events == nil {
			trace.Events = []domain.Event{}
		}
	}
	return c.JSON(http.StatusOK, trace)
}

// AppendEvents appends an event batch to a collecting trace.
// POST /v1/traces/:trace_id/events
func (h *Handler) AppendEvents(c echo.Context) error {
	ctx := c.Request().Context()
	traceID := c.Param("trace_id")

	var batch domain.EventBatch
	if err := c.Bind(&batch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.AppendEvents(ctx, traceID, &batch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// FinalizeTrace moves a collecting trace into the QA chain.
// POST /v1/traces/:trace_id/finalize
func (h *Handler) FinalizeTrace(c echo.Context) error {
	ctx := c.Request().Context()
	traceID := c.Param("trace_id")

	var req domain.FinalizeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.Finalize(ctx, traceID, &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

func queryBool(c echo.Context, name string) bool {
	v, err := strconv.ParseBool(c.QueryParam(name))
	return err == nil && v
}
