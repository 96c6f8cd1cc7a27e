package beds

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

func do(e *echo.Echo, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var payload string
	if body != nil {
		b, _ := json.Marshal(body)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func patient(id string) map[string]string {
	return map[string]string{"X-User-ID": id, "X-User-Role": auth.RolePatient}
}

func (env *testEnv) staff() map[string]string {
	return map[string]string{"X-User-ID": "h-user", "X-User-Role": auth.RoleHospital, "X-Hospital-ID": env.hid.String()}
}

func TestHandler_BookingFlow(t *testing.T) {
	e, env := newTestHandler()
	base := "/api/v1/hospitals/" + env.hid.String() + "/beds"

	rec := do(e, http.MethodPost, base, Bed{Ward: "A", BedNumber: "1", BedType: TypeICU}, env.staff())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, base, Bed{Ward: "A", BedNumber: "1"}, env.staff()); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate bed, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, base, Bed{Ward: "A", BedNumber: "2"}, patient("p1")); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient creating a bed, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, base+"?bed_type=icu", nil, patient("p1")); rec.Code != http.StatusOK {
		t.Errorf("expected 200 listing beds, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/bed-bookings", BookingRequest{HospitalID: env.hid, BedType: TypeICU}, patient("p1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var bk Booking
	json.Unmarshal(rec.Body.Bytes(), &bk)

	path := "/api/v1/bed-bookings/" + bk.ID.String()
	if rec := do(e, http.MethodPost, path+"/approve", nil, patient("p1")); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient approving, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, path+"/approve", map[string]string{}, env.staff())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on approve, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, path+"/reject", nil, env.staff()); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 rejecting an approved booking, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, path, nil, patient("p2")); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for other patient, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, path+"/discharge", nil, env.staff()); rec.Code != http.StatusOK {
		t.Errorf("expected 200 on discharge, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/bed-bookings/mine", nil, patient("p1")); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for own bookings, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/bed-bookings?status=discharged", nil, env.staff()); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for hospital bookings, got %d", rec.Code)
	}
}

func TestHandler_InvalidIDs(t *testing.T) {
	e, env := newTestHandler()
	if rec := do(e, http.MethodGet, "/api/v1/beds/nope", nil, env.staff()); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/bed-bookings/00000000-0000-0000-0000-000000000001", nil, patient("p1")); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
