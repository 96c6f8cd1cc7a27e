package hospital

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
	"github.com/carelink/carelink/pkg/pagination"
)

type Handler struct {
	svc            *Service
	emergencyPhone string
}

func NewHandler(svc *Service, emergencyPhone string) *Handler {
	return &Handler{svc: svc, emergencyPhone: emergencyPhone}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/hospitals", auth.RequireCapability(auth.CapHospitalSearch))
	read.GET("/nearby", h.Nearby)
	read.GET("", h.List)
	read.GET("/:id", h.Get)

	write := api.Group("/hospitals", auth.RequireCapability(auth.CapHospitalProfile))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
}

// NearbyResponse carries the matches and the fallback number to offer when
// nothing is in range.
type NearbyResponse struct {
	Hospitals      []HospitalResponse `json:"hospitals"`
	Count          int                `json:"count"`
	RadiusKm       float64            `json:"radius_km"`
	EmergencyPhone string             `json:"emergency_phone"`
}

func parseFloat(c echo.Context, name string, required bool) (float64, error) {
	v := c.QueryParam(name)
	if v == "" {
		if required {
			return 0, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
		}
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return f, nil
}

func (h *Handler) Nearby(c echo.Context) error {
	lat, err := parseFloat(c, "lat", true)
	if err != nil {
		return err
	}
	lon, err := parseFloat(c, "lon", true)
	if err != nil {
		return err
	}
	radius, err := parseFloat(c, "radius", false)
	if err != nil {
		return err
	}
	if radius == 0 {
		radius = h.svc.DefaultRadius()
	}
	matches, err := h.svc.FindNearby(c.Request().Context(), lat, lon, radius)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, NearbyResponse{
		Hospitals:      matches,
		Count:          len(matches),
		RadiusKm:       radius,
		EmergencyPhone: h.emergencyPhone,
	})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("name"), pg.Limit, pg.Offset)
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
	hosp, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) Create(c echo.Context) error {
	var hosp Hospital
	if err := c.Bind(&hosp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &hosp); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, hosp)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var hosp Hospital
	if err := c.Bind(&hosp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hosp.ID = id
	if err := h.svc.Update(c.Request().Context(), &hosp); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case apperr.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return apperr.Internal(err)
	}
}
