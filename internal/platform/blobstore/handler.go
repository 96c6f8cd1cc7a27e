package blobstore

import (
	"bufio"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/auth"
)

// Handler exposes the upload endpoint.
type Handler struct {
	store  BlobStore
	logger zerolog.Logger
}

func NewHandler(store BlobStore, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/uploads", h.Upload, auth.RequireCapability(auth.CapUploadCreate))
}

// Upload accepts a multipart "file" and an optional "folder".
func (h *Handler) Upload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if file.Size > MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, ErrFileTooLarge.Error())
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer src.Close()

	br := bufio.NewReaderSize(src, 512)
	head, _ := br.Peek(512)
	contentType := NormalizeContentType(file.Header.Get("Content-Type"), head)

	ctx := c.Request().Context()
	key, err := NewKey(c.FormValue("folder"), auth.UserIDFromContext(ctx), contentType)
	if err != nil {
		return uploadError(err)
	}

	obj, err := h.store.Put(ctx, key, contentType, br)
	if err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("upload failed")
		return uploadError(err)
	}
	return c.JSON(http.StatusCreated, obj)
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrInvalidFolder), errors.Is(err, ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "upload failed")
	}
}
