package emergency

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/apperr"
	"github.com/carelink/carelink/pkg/pagination"
)

const (
	streamPing  = 25 * time.Second
	streamRetry = 5000
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/emergency")
	g.GET("/types", h.Types, auth.RequireAuthenticated())

	alerts := g.Group("/alerts")
	alerts.POST("", h.Trigger, auth.RequireCapability(auth.CapAlertTrigger))
	alerts.GET("", h.List, auth.RequireAuthenticated())
	alerts.GET("/active", h.ListActive, auth.RequireCapability(auth.CapAlertReadActive))
	alerts.GET("/dispatched", h.ListDispatched, auth.RequireCapability(auth.CapAlertReadDispatched))
	alerts.GET("/stream", h.Stream, auth.RequireAuthenticated())
	alerts.GET("/:id", h.Get, auth.RequireAuthenticated())
	alerts.GET("/:id/history", h.History, auth.RequireAuthenticated())
	alerts.POST("/:id/respond", h.Respond, auth.RequireCapability(auth.CapAlertRespond))
	alerts.PATCH("/:id/status", h.UpdateStatus, auth.RequireCapability(auth.CapAlertRespond))
	alerts.POST("/:id/cancel", h.Cancel, auth.RequireCapability(auth.CapAlertCancel))
}

type typeInfo struct {
	Type             EmergencyType `json:"type"`
	Severity         Severity      `json:"severity"`
	ExplicitSeverity bool          `json:"explicit_severity"`
}

func (h *Handler) Types(c echo.Context) error {
	types := Types()
	out := make([]typeInfo, 0, len(types))
	for _, t := range types {
		out = append(out, typeInfo{Type: t, Severity: ClassifySeverity(t), ExplicitSeverity: HasExplicitSeverity(t)})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Trigger(c echo.Context) error {
	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Trigger(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	if res.Replayed {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// List returns the caller's own alerts. Staff may pass ?patient_id to read
// another patient's.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	patientID := auth.UserIDFromContext(ctx)
	if pid := c.QueryParam("patient_id"); pid != "" && pid != patientID {
		roles := auth.RolesFromContext(ctx)
		if !auth.CanAny(roles, auth.CapAlertReadActive) && !auth.CanAny(roles, auth.CapAlertReadDispatched) {
			return echo.NewHTTPError(http.StatusForbidden, "cannot read another patient's alerts")
		}
		patientID = pid
	}
	items, total, err := h.svc.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListActive(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListActive(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Internal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// ListDispatched lists the acting hospital's open alerts, or with ?scope=all
// every open alert in the hospitals' feed.
func (h *Handler) ListDispatched(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	var (
		items []*Alert
		total int
		err   error
	)
	if c.QueryParam("scope") == "all" {
		items, total, err = h.svc.ListForHospitals(ctx, pg.Limit, pg.Offset)
	} else {
		var hid *uuid.UUID
		if v := c.QueryParam("hospital_id"); v != "" {
			parsed, perr := uuid.Parse(v)
			if perr != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital_id")
			}
			hid = &parsed
		}
		items, total, err = h.svc.ListDispatched(ctx, hid, pg.Limit, pg.Offset)
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) History(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Respond(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req RespondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Respond(c.Request().Context(), id, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason *string `json:"reason"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, body.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Stream serves an alert feed as server-sent events: ?audience=doctors for
// the active feed, ?audience=hospitals for active and responded alerts.
func (h *Handler) Stream(c echo.Context) error {
	ctx := c.Request().Context()
	audience := Audience(c.QueryParam("audience"))
	var capability string
	switch audience {
	case AudienceDoctors:
		capability = auth.CapAlertReadActive
	case AudienceHospitals:
		capability = auth.CapAlertReadDispatched
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "audience must be doctors or hospitals")
	}
	if !auth.CanAny(auth.RolesFromContext(ctx), capability) {
		return echo.NewHTTPError(http.StatusForbidden, "not permitted: "+capability)
	}

	events, err := h.svc.Subscribe(ctx, audience)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alert stream unavailable").SetInternal(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", streamRetry)
	w.Flush()

	ping := time.NewTicker(streamPing)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			fmt.Fprint(w, "event: ping\ndata: {}\n\n")
			w.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			w.Flush()
		}
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperr.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return apperr.Internal(err)
	}
}
