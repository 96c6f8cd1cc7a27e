package messaging

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

func do(e *echo.Echo, method, path, body string, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Role", role)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_MessageFlow(t *testing.T) {
	e, _ := newTestHandler()

	rec := do(e, http.MethodPost, "/api/v1/messages", `{"recipient_id":"d1","body":"hello"}`, "p1", auth.RolePatient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var m Message
	_ = json.Unmarshal(rec.Body.Bytes(), &m)

	if rec := do(e, http.MethodPost, "/api/v1/messages", `{"recipient_id":"ghost","body":"hello"}`, "p1", auth.RolePatient); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/messages", `{"recipient_id":"p1","body":"hi"}`, "h1", auth.RoleHospital); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for hospital account, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/messages/"+m.ID.String(), "", "d2", auth.RoleDoctor); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-participant, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/messages/bogus", "", "d1", auth.RoleDoctor); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/messages/unread", "", "d1", auth.RoleDoctor)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"unread":1`) {
		t.Errorf("expected 1 unread, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/messages/with/p1/read", "", "d1", auth.RoleDoctor)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"marked":1`) {
		t.Errorf("expected 1 marked, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/messages/conversations", "", "d1", auth.RoleDoctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 conversation, got %d", page.Total)
	}
	if rec := do(e, http.MethodGet, "/api/v1/messages/with/d1", "", "p1", auth.RolePatient); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for thread, got %d", rec.Code)
	}
}
