package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(req *http.Request, userID string, roles ...string) *http.Request {
	return req.WithContext(WithIdentity(context.Background(), userID, roles, "", ""))
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), "u1", RoleDoctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole(RoleDoctor, RoleHospital)(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), "u1", RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireRole(RoleHospital)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), "root", RoleAdmin)
	c := e.NewContext(req, httptest.NewRecorder())

	if err := RequireRole(RoleHospital)(okHandler)(c); err != nil {
		t.Errorf("admin should pass any role check, got %v", err)
	}
}

func TestRequireCapability(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		roles  []string
		action string
		want   int
	}{
		{"patient triggers alert", "p1", []string{RolePatient}, CapAlertTrigger, http.StatusOK},
		{"doctor cannot trigger alert", "d1", []string{RoleDoctor}, CapAlertTrigger, http.StatusForbidden},
		{"hospital reviews booking", "h1", []string{RoleHospital}, CapBookingReview, http.StatusOK},
		{"patient cannot review booking", "p1", []string{RolePatient}, CapBookingReview, http.StatusForbidden},
		{"multi-role caller", "x1", []string{RolePatient, RoleDoctor}, CapPrescriptionWrite, http.StatusOK},
		{"admin", "a1", []string{RoleAdmin}, CapReportRead, http.StatusOK},
		{"unauthenticated", "", nil, CapHospitalSearch, http.StatusUnauthorized},
		{"unknown role", "z1", []string{"nurse"}, CapHospitalSearch, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), tt.userID, tt.roles...)
			c := e.NewContext(req, httptest.NewRecorder())

			err := RequireCapability(tt.action)(okHandler)(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestRequireAuthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	expectStatus(t, RequireAuthenticated()(okHandler)(c), http.StatusUnauthorized)

	req := contextWithRoles(httptest.NewRequest(http.MethodGet, "/", nil), "u1", RolePatient)
	c = e.NewContext(req, httptest.NewRecorder())
	if err := RequireAuthenticated()(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
