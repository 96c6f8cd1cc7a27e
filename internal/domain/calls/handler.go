package calls

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/calls", auth.RequireAuthenticated())
	g.POST("", h.Place, auth.RequireCapability(auth.CapCallPlace))
	g.GET("/incoming", h.Incoming)
	g.GET("/current", h.Current)
	g.GET("/ringing", h.Ringing)
	g.GET("/history", h.History)
	g.GET("/:id", h.Get)
	g.POST("/:id/answer", h.Answer, auth.RequireCapability(auth.CapCallAnswer))
	g.POST("/:id/decline", h.Decline, auth.RequireCapability(auth.CapCallAnswer))
	g.POST("/:id/end", h.End)
}

func (h *Handler) Place(c echo.Context) error {
	var req PlaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	call, err := h.svc.Place(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, call)
}

// Incoming returns the oldest ringing call for the caller, or 204 when the
// line is quiet.
func (h *Handler) Incoming(c echo.Context) error {
	ctx := c.Request().Context()
	call, err := h.svc.Incoming(ctx, auth.UserIDFromContext(ctx))
	if errors.Is(err, ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) Current(c echo.Context) error {
	ctx := c.Request().Context()
	call, err := h.svc.Current(ctx, auth.UserIDFromContext(ctx))
	if errors.Is(err, ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) Ringing(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.Ringing(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return apperr.Internal(err)
	}
	if items == nil {
		items = []*Call{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(ctx, auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	call, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) Answer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		AnswerSDP string `json:"answer_sdp"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	call, err := h.svc.Answer(c.Request().Context(), id, body.AnswerSDP)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) Decline(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	call, err := h.svc.Decline(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) End(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	call, err := h.svc.End(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, call)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "call not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperr.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return apperr.Internal(err)
	}
}
