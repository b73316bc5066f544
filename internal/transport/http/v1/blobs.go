package v1

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxUploadBytes bounds a single blob upload request body.
const maxUploadBytes = 32 << 20

// UploadBlob stores the raw request body as a content-addressed blob.
// POST /v1/blobs
func (h *Handler) UploadBlob(c echo.Context) error {
	ctx := c.Request().Context()

	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	resp, err := h.service.UploadBlob(ctx, data, contentType)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetBlob streams stored blob content with its recorded content type.
// GET /v1/blobs/:blob_id
func (h *Handler) GetBlob(c echo.Context) error {
	ctx := c.Request().Context()
	blobID := c.Param("blob_id")

	data, meta, err := h.service.GetBlob(ctx, blobID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Blob(http.StatusOK, meta.ContentType, data)
}
