package places

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

const nearbyJSON = `{
  "status": "OK",
  "results": [
    {"place_id": "far", "name": "District Hospital", "vicinity": "Ring Road",
     "geometry": {"location": {"lat": 28.70, "lng": 77.10}}, "rating": 3.9},
    {"place_id": "near", "name": "City Clinic", "vicinity": "MG Road",
     "geometry": {"location": {"lat": 28.6140, "lng": 77.2091}}, "opening_hours": {"open_now": true}}
  ]
}`

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected api key on request")
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/place/nearbysearch/json":
			if r.URL.Query().Get("type") != "hospital" {
				t.Errorf("unexpected type %q", r.URL.Query().Get("type"))
			}
			_, _ = w.Write([]byte(nearbyJSON))
		case "/place/details/json":
			if r.URL.Query().Get("place_id") == "missing" {
				_, _ = w.Write([]byte(`{"status":"NOT_FOUND"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"OK","result":{"place_id":"near","name":"City Clinic",
				"formatted_address":"1 MG Road, Delhi","formatted_phone_number":"011 2345",
				"website":"https://cityclinic.test","geometry":{"location":{"lat":28.614,"lng":77.209}}}}`))
		case "/geocode/json":
			_, _ = w.Write([]byte(`{"status":"OK","results":[{"place_id":"g1","formatted_address":"Connaught Place, New Delhi",
				"geometry":{"location":{"lat":28.6315,"lng":77.2167}}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestClient(t *testing.T) (*Client, *int32) {
	var hits int32
	server := newTestServer(t, &hits)
	t.Cleanup(server.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: server.URL}), &hits
}

func TestNearby_SortsByDistanceAndCaches(t *testing.T) {
	client, hits := newTestClient(t)
	var observed int32
	client.Observe = func(service string, err error) {
		if service != "places" || err != nil {
			t.Errorf("unexpected observation %s %v", service, err)
		}
		atomic.AddInt32(&observed, 1)
	}

	got, err := client.Nearby(context.Background(), 28.6139, 77.2090, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].PlaceID != "near" || got[1].PlaceID != "far" {
		t.Fatalf("expected nearest first, got %+v", got)
	}
	if got[0].OpenNow == nil || !*got[0].OpenNow {
		t.Error("expected open_now on the clinic")
	}
	if got[0].Address != "MG Road" {
		t.Errorf("expected vicinity as address, got %q", got[0].Address)
	}

	// GPS jitter below the cache precision hits the cache.
	if _, err := client.Nearby(context.Background(), 28.61391, 77.20902, 0, "hospital"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *hits != 1 || observed != 1 {
		t.Errorf("expected a single upstream call, got %d", *hits)
	}
}

func TestNearby_Validation(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.Nearby(context.Background(), 0, 0, 100, "spa"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}

	unconfigured := NewClient(Config{})
	if _, err := unconfigured.Nearby(context.Background(), 0, 0, 100, ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDetails(t *testing.T) {
	client, _ := newTestClient(t)

	f, err := client.Details(context.Background(), "near")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Phone != "011 2345" || f.Website != "https://cityclinic.test" || f.Address != "1 MG Road, Delhi" {
		t.Errorf("unexpected facility %+v", f)
	}

	if _, err := client.Details(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReverseGeocode(t *testing.T) {
	client, _ := newTestClient(t)

	addr, err := client.Address(context.Background(), 28.6315, 77.2167)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "Connaught Place, New Delhi" {
		t.Errorf("unexpected address %q", addr)
	}
}

func TestHandler_Nearby(t *testing.T) {
	client, _ := newTestClient(t)
	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(client).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?lat=28.6139&lon=77.2090", nil)
	req.Header.Set("X-User-Role", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/places/nearby?lat=200&lon=77", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid latitude, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/places/missing", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
