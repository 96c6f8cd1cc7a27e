package queue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

func newTestHandler() (*echo.Echo, *testEnv) {
	env := newTestService()
	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(env.svc).RegisterRoutes(e.Group("/api/v1"))
	return e, env
}

func do(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_QueueFlow(t *testing.T) {
	e, env := newTestHandler()
	base := "/api/v1/hospitals/" + env.hid.String() + "/queue"
	patient := map[string]string{"X-User-ID": "p1", "X-User-Role": auth.RolePatient}
	staff := map[string]string{"X-User-ID": "h-user", "X-User-Role": auth.RoleHospital, "X-Hospital-ID": env.hid.String()}

	if rec := do(e, http.MethodPost, base+"/next", "", staff); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on empty queue, got %d", rec.Code)
	}

	rec := do(e, http.MethodPost, base, `{"department":"OPD"}`, patient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var pos Position
	json.Unmarshal(rec.Body.Bytes(), &pos)
	if pos.Entry == nil || pos.Entry.QueueNumber != 1 {
		t.Fatalf("unexpected position: %s", rec.Body.String())
	}
	if rec := do(e, http.MethodPost, base, `{}`, patient); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 joining twice, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, base, "", patient); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient listing, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, base+"?status=waiting", "", staff); rec.Code != http.StatusOK {
		t.Errorf("expected 200 listing, got %d", rec.Code)
	}

	entry := "/api/v1/queue/" + pos.Entry.ID.String()
	if rec := do(e, http.MethodGet, entry, "", patient); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for position, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, base+"/next", "", staff); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on call next, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPatch, entry+"/status", `{"status":"in_consultation"}`, staff); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on status update, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, entry+"/leave", "", patient); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 leaving during consultation, got %d", rec.Code)
	}
}
