package beds

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/domain/hospital"
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
	api.GET("/hospitals/:id/beds", h.ListBeds, auth.RequireAuthenticated())
	api.POST("/hospitals/:id/beds", h.CreateBed, auth.RequireCapability(auth.CapBedManage))

	b := api.Group("/beds", auth.RequireAuthenticated())
	b.GET("/:id", h.GetBed)
	b.PUT("/:id", h.UpdateBed, auth.RequireCapability(auth.CapBedManage))
	b.DELETE("/:id", h.DeleteBed, auth.RequireCapability(auth.CapBedManage))

	k := api.Group("/bed-bookings", auth.RequireAuthenticated())
	k.POST("", h.RequestBooking, auth.RequireCapability(auth.CapBookingRequest))
	k.GET("", h.ListBookings, auth.RequireCapability(auth.CapBookingReview))
	k.GET("/mine", h.ListMine)
	k.GET("/:id", h.GetBooking)
	k.POST("/:id/approve", h.Approve, auth.RequireCapability(auth.CapBookingReview))
	k.POST("/:id/reject", h.Reject, auth.RequireCapability(auth.CapBookingReview))
	k.POST("/:id/discharge", h.Discharge, auth.RequireCapability(auth.CapBookingReview))
	k.POST("/:id/cancel", h.Cancel, auth.RequireCapability(auth.CapBookingRequest))
}

func (h *Handler) CreateBed(c echo.Context) error {
	hid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital id")
	}
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.HospitalID = hid
	if err := h.svc.CreateBed(c.Request().Context(), &b); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	hid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital id")
	}
	pg := pagination.FromContext(c)
	f := BedFilter{Status: c.QueryParam("status"), BedType: c.QueryParam("bed_type")}
	items, total, err := h.svc.ListBeds(c.Request().Context(), hid, f, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.ID = id
	if err := h.svc.UpdateBed(c.Request().Context(), &b); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteBed(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RequestBooking(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.RequestBooking(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	pg := pagination.FromContext(c)
	var hid *uuid.UUID
	if v := c.QueryParam("hospital_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
		}
		hid = &id
	}
	items, total, err := h.svc.ListBookings(c.Request().Context(), hid, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMine(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMine(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		BedID *uuid.UUID `json:"bed_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.ApproveBooking(c.Request().Context(), id, body.BedID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Reject(c echo.Context) error {
	return h.transition(c, h.svc.RejectBooking)
}

func (h *Handler) Discharge(c echo.Context) error {
	return h.transition(c, h.svc.Discharge)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.CancelBooking)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Booking, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := fn(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrBedNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bed not found")
	case errors.Is(err, ErrBookingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "bed booking not found")
	case errors.Is(err, hospital.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrForbidden), errors.Is(err, hospital.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrBedUnavailable),
		errors.Is(err, ErrOpenBooking), errors.Is(err, ErrDuplicateBed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperr.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return apperr.Internal(err)
	}
}
