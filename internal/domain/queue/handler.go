package queue

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/hospitals/:id/queue", h.Join, auth.RequireCapability(auth.CapQueueJoin))
	api.GET("/hospitals/:id/queue", h.Today, auth.RequireCapability(auth.CapQueueManage))
	api.POST("/hospitals/:id/queue/next", h.CallNext, auth.RequireCapability(auth.CapQueueManage))

	g := api.Group("/queue", auth.RequireAuthenticated())
	g.GET("/:id", h.Position)
	g.PATCH("/:id/status", h.UpdateStatus, auth.RequireCapability(auth.CapQueueManage))
	g.POST("/:id/leave", h.Leave, auth.RequireCapability(auth.CapQueueJoin))
}

func hospitalParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid hospital id")
	}
	return id, nil
}

func (h *Handler) Join(c echo.Context) error {
	hid, err := hospitalParam(c)
	if err != nil {
		return err
	}
	var req JoinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pos, err := h.svc.Join(c.Request().Context(), hid, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, pos)
}

func (h *Handler) Today(c echo.Context) error {
	hid, err := hospitalParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Today(c.Request().Context(), hid, c.QueryParam("status"))
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []*Entry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CallNext(c echo.Context) error {
	hid, err := hospitalParam(c)
	if err != nil {
		return err
	}
	e, err := h.svc.CallNext(c.Request().Context(), hid, c.QueryParam("department"))
	if errors.Is(err, ErrEmpty) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Position(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pos, err := h.svc.Position(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pos)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Leave(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Leave(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
	case errors.Is(err, hospital.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrForbidden), errors.Is(err, hospital.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyQueued):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperr.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return apperr.Internal(err)
	}
}
