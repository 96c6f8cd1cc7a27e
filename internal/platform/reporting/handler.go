package reporting

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

const (
	dateLayout   = "2006-01-02"
	defaultRange = 30 * 24 * time.Hour
	maxRange     = 366 * 24 * time.Hour
)

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireCapability(auth.CapReportRead))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id", h.EvaluateMeasure)
	g.GET("/alerts.xlsx", h.ExportAlerts)
}

// parseRange reads ?from=YYYY-MM-DD&to=YYYY-MM-DD. "to" is inclusive, so the
// returned end is midnight after it. Without parameters the last 30 days are used.
func parseRange(c echo.Context, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = t.Add(24 * time.Hour)
	}
	from := to.Add(-defaultRange)
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must not be after to")
	}
	if to.Sub(from) > maxRange {
		return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "range must not exceed 366 days")
	}
	return from, to, nil
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL over the requested range.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	from, to, err := parseRange(c, h.svc.now())
	if err != nil {
		return err
	}
	report, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"), from, to)
	if err != nil {
		if errors.Is(err, ErrMeasureNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "measure not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "measure evaluation failed")
	}
	return c.JSON(http.StatusOK, report)
}

// ExportAlerts streams the alert workbook as an attachment.
func (h *Handler) ExportAlerts(c echo.Context) error {
	from, to, err := parseRange(c, h.svc.now())
	if err != nil {
		return err
	}
	data, err := h.svc.ExportAlerts(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "export failed")
	}
	name := fmt.Sprintf("alerts_%s_%s.xlsx", from.Format(dateLayout), to.Add(-24*time.Hour).Format(dateLayout))
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
