package notification

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
	g := api.Group("/notifications", auth.RequireAuthenticated())
	g.GET("", h.List)
	g.POST("/:id/read", h.MarkRead)
}

// List returns the caller's notifications. With ?scope=hospital a hospital
// account gets the notifications addressed to its hospital instead.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	if c.QueryParam("scope") == "hospital" {
		if !auth.CanAny(auth.RolesFromContext(ctx), auth.CapNotificationRead) {
			return echo.NewHTTPError(http.StatusForbidden, "not permitted: "+auth.CapNotificationRead)
		}
		var hospitalID uuid.UUID
		var err error
		if v := c.QueryParam("hospital_id"); v != "" {
			hospitalID, err = uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
			}
		} else if hospitalID, err = h.svc.ActingHospital(ctx); err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "no hospital associated with caller")
		}
		items, total, err := h.svc.ListForHospital(ctx, hospitalID, pg.Limit, pg.Offset)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	unread := c.QueryParam("unread") == "true"
	items, total, err := h.svc.ListForRecipient(ctx, auth.UserIDFromContext(ctx), unread, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.MarkRead(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case apperr.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return apperr.Internal(err)
	}
}
