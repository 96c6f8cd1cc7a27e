package places

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/geo"
)

type Handler struct {
	client *Client
}

func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	search := auth.RequireCapability(auth.CapHospitalSearch)
	api.GET("/places/nearby", h.Nearby, search)
	api.GET("/places/:id", h.Details, search)
	api.GET("/geocode/reverse", h.Reverse, search)
}

func parsePoint(c echo.Context) (geo.Point, error) {
	lat, err1 := strconv.ParseFloat(c.QueryParam("lat"), 64)
	lon, err2 := strconv.ParseFloat(c.QueryParam("lon"), 64)
	p := geo.Point{Lat: lat, Lon: lon}
	if err1 != nil || err2 != nil || !p.Valid() {
		return p, echo.NewHTTPError(http.StatusBadRequest, "valid lat and lon are required")
	}
	return p, nil
}

func (h *Handler) Nearby(c echo.Context) error {
	p, err := parsePoint(c)
	if err != nil {
		return err
	}
	radius, _ := strconv.Atoi(c.QueryParam("radius"))
	facilities, err := h.client.Nearby(c.Request().Context(), p.Lat, p.Lon, radius, c.QueryParam("type"))
	if err != nil {
		return placesError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  facilities,
		"total": len(facilities),
	})
}

func (h *Handler) Details(c echo.Context) error {
	f, err := h.client.Details(c.Request().Context(), c.Param("id"))
	if err != nil {
		return placesError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Reverse(c echo.Context) error {
	p, err := parsePoint(c)
	if err != nil {
		return err
	}
	f, err := h.client.ReverseGeocode(c.Request().Context(), p.Lat, p.Lon)
	if err != nil {
		return placesError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func placesError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "place not found")
	case errors.Is(err, ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "places lookup is not configured")
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "places lookup failed")
	}
}
