package calls

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

func do(e *echo.Echo, method, path string, body interface{}, userID, role string) *httptest.ResponseRecorder {
	var payload string
	if body != nil {
		b, _ := json.Marshal(body)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Role", role)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CallFlow(t *testing.T) {
	e, _ := newTestHandler()

	rec := do(e, http.MethodPost, "/api/v1/calls", PlaceRequest{CalleeID: "d1", CallType: TypeAudio, OfferSDP: testOffer}, "p1", "patient")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var call Call
	json.Unmarshal(rec.Body.Bytes(), &call)

	if rec := do(e, http.MethodGet, "/api/v1/calls/incoming", nil, "d1", "doctor"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for incoming, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/calls/incoming", nil, "p1", "patient"); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for caller's incoming, got %d", rec.Code)
	}

	base := "/api/v1/calls/" + call.ID.String()
	if rec := do(e, http.MethodPost, base+"/answer", map[string]string{"answer_sdp": testAnswer}, "d1", "doctor"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on answer, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, base+"/decline", nil, "d1", "doctor"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 declining a connected call, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/calls/current", nil, "p1", "patient"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for current, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, base+"/end", nil, "d1", "doctor"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on end, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, base, nil, "x", "patient"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for outsider, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/calls/history", nil, "p1", "patient"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for history, got %d", rec.Code)
	}
}

func TestHandler_Place_Forbidden(t *testing.T) {
	e, _ := newTestHandler()
	rec := do(e, http.MethodPost, "/api/v1/calls", PlaceRequest{CalleeID: "d1", OfferSDP: testOffer}, "h1", "hospital")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for hospital account, got %d", rec.Code)
	}
}

func TestHandler_Ringing_Empty(t *testing.T) {
	e, _ := newTestHandler()
	rec := do(e, http.MethodGet, "/api/v1/calls/ringing", nil, "d1", "doctor")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}
}
