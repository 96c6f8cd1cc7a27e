package ai

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

type Handler struct {
	assistant *Assistant
}

func NewHandler(assistant *Assistant) *Handler {
	return &Handler{assistant: assistant}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	ask := auth.RequireCapability(auth.CapAIAsk)
	api.POST("/ai/ask", h.Ask, ask)
	api.POST("/ai/analyze-image", h.AnalyzeImage, ask)
}

type askRequest struct {
	Query string `json:"query"`
	Mode  Mode   `json:"mode"`
}

type analyzeRequest struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
}

func (h *Handler) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Mode != "" && !ValidMode(req.Mode) {
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be one of doctor, health-tips, medicine, symptoms")
	}
	reply, err := h.assistant.Ask(c.Request().Context(), req.Query, req.Mode)
	if err != nil {
		return aiError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

func (h *Handler) AnalyzeImage(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ImageURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "image_url is required")
	}
	reply, err := h.assistant.AnalyzeImage(c.Request().Context(), req.ImageURL, req.Prompt)
	if err != nil {
		return aiError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

func aiError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalidMode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "assistant is not configured")
	case IsRateLimited(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "assistant is busy, try again shortly")
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "assistant request failed")
	}
}
