// Package places looks up nearby medical facilities and reverse-geocodes
// coordinates through the Google Places and Geocoding web services.
package places

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/carelink/carelink/pkg/geo"
)

var (
	ErrNotConfigured = errors.New("places: api key not configured")
	ErrNotFound      = errors.New("places: not found")
	ErrInvalidKind   = errors.New("places: unsupported facility kind")
)

// Facility is a place returned to clients.
type Facility struct {
	PlaceID  string    `json:"place_id"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Location geo.Point `json:"location"`
	Rating   float64   `json:"rating,omitempty"`
	OpenNow  *bool     `json:"open_now,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Website  string    `json:"website,omitempty"`
	Distance float64   `json:"distance_km,omitempty"`
}

// Kinds accepted by Nearby, mapped to Places types.
var Kinds = map[string]string{
	"hospital": "hospital",
	"pharmacy": "pharmacy",
	"doctor":   "doctor",
	"clinic":   "doctor",
	"dentist":  "dentist",
}

const (
	DefaultRadiusM = 5000
	MaxRadiusM     = 50000
)

// Config for Client.
type Config struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// Client calls the Places API and caches answers keyed by rounded coordinates.
type Client struct {
	http  *resty.Client
	key   string
	cache *gocache.Cache

	// Observe, when set, is called after every upstream request.
	Observe func(service string, err error)
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://maps.googleapis.com/maps/api"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{
		http:  h,
		key:   cfg.APIKey,
		cache: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

type apiLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type apiPlace struct {
	PlaceID          string  `json:"place_id"`
	Name             string  `json:"name"`
	Vicinity         string  `json:"vicinity"`
	FormattedAddress string  `json:"formatted_address"`
	Rating           float64 `json:"rating"`
	Phone            string  `json:"formatted_phone_number"`
	Website          string  `json:"website"`
	Geometry         struct {
		Location apiLocation `json:"location"`
	} `json:"geometry"`
	OpeningHours *struct {
		OpenNow bool `json:"open_now"`
	} `json:"opening_hours"`
}

type searchResponse struct {
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
	Results      []apiPlace `json:"results"`
}

type detailsResponse struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message"`
	Result       apiPlace `json:"result"`
}

func (p apiPlace) facility(origin *geo.Point) Facility {
	f := Facility{
		PlaceID:  p.PlaceID,
		Name:     p.Name,
		Address:  p.FormattedAddress,
		Location: geo.Point{Lat: p.Geometry.Location.Lat, Lon: p.Geometry.Location.Lng},
		Rating:   p.Rating,
		Phone:    p.Phone,
		Website:  p.Website,
	}
	if f.Address == "" {
		f.Address = p.Vicinity
	}
	if p.OpeningHours != nil {
		open := p.OpeningHours.OpenNow
		f.OpenNow = &open
	}
	if origin != nil {
		f.Distance = geo.Round(geo.Distance(*origin, f.Location), 2)
	}
	return f
}

func checkStatus(status, message string) error {
	switch status {
	case "OK":
		return nil
	case "ZERO_RESULTS":
		return nil
	case "NOT_FOUND":
		return ErrNotFound
	default:
		if message != "" {
			return fmt.Errorf("places: %s: %s", status, message)
		}
		return fmt.Errorf("places: %s", status)
	}
}

func (c *Client) observe(service string, err error) {
	if c.Observe != nil {
		c.Observe(service, err)
	}
}

func coordKey(lat, lon float64) string {
	return strconv.FormatFloat(geo.Round(lat, 3), 'f', 3, 64) + "," + strconv.FormatFloat(geo.Round(lon, 3), 'f', 3, 64)
}

// Nearby returns facilities of kind within radiusM meters, nearest first.
func (c *Client) Nearby(ctx context.Context, lat, lon float64, radiusM int, kind string) ([]Facility, error) {
	if c.key == "" {
		return nil, ErrNotConfigured
	}
	if kind == "" {
		kind = "hospital"
	}
	placeType, ok := Kinds[kind]
	if !ok {
		return nil, ErrInvalidKind
	}
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}
	if radiusM > MaxRadiusM {
		radiusM = MaxRadiusM
	}

	cacheKey := fmt.Sprintf("nearby:%s:%d:%s", coordKey(lat, lon), radiusM, placeType)
	if v, ok := c.cache.Get(cacheKey); ok {
		return append([]Facility(nil), v.([]Facility)...), nil
	}

	var out searchResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"location": strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64),
			"radius":   strconv.Itoa(radiusM),
			"type":     placeType,
			"key":      c.key,
		}).
		SetResult(&out).
		Get("/place/nearbysearch/json")
	if err == nil {
		err = checkStatus(out.Status, out.ErrorMessage)
	}
	c.observe("places", err)
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	origin := geo.Point{Lat: lat, Lon: lon}
	facilities := make([]Facility, 0, len(out.Results))
	for _, p := range out.Results {
		facilities = append(facilities, p.facility(&origin))
	}
	sort.SliceStable(facilities, func(i, j int) bool { return facilities[i].Distance < facilities[j].Distance })

	c.cache.SetDefault(cacheKey, facilities)
	return facilities, nil
}

// Details fetches contact details for a single place.
func (c *Client) Details(ctx context.Context, placeID string) (*Facility, error) {
	if c.key == "" {
		return nil, ErrNotConfigured
	}
	cacheKey := "details:" + placeID
	if v, ok := c.cache.Get(cacheKey); ok {
		f := v.(Facility)
		return &f, nil
	}

	var out detailsResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"place_id": placeID,
			"fields":   "place_id,name,formatted_address,geometry,rating,formatted_phone_number,website,opening_hours",
			"key":      c.key,
		}).
		SetResult(&out).
		Get("/place/details/json")
	if err == nil {
		err = checkStatus(out.Status, out.ErrorMessage)
		if err == nil && out.Result.PlaceID == "" {
			err = ErrNotFound
		}
	}
	c.observe("places", err)
	if err != nil {
		return nil, fmt.Errorf("place details: %w", err)
	}

	f := out.Result.facility(nil)
	c.cache.SetDefault(cacheKey, f)
	return &f, nil
}

// ReverseGeocode returns the best address for a coordinate.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (*Facility, error) {
	if c.key == "" {
		return nil, ErrNotConfigured
	}
	cacheKey := "geocode:" + coordKey(lat, lon)
	if v, ok := c.cache.Get(cacheKey); ok {
		f := v.(Facility)
		return &f, nil
	}

	var out searchResponse
	_, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latlng": strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64),
			"key":    c.key,
		}).
		SetResult(&out).
		Get("/geocode/json")
	if err == nil {
		err = checkStatus(out.Status, out.ErrorMessage)
		if err == nil && len(out.Results) == 0 {
			err = ErrNotFound
		}
	}
	c.observe("geocode", err)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode: %w", err)
	}

	f := out.Results[0].facility(nil)
	c.cache.SetDefault(cacheKey, f)
	return &f, nil
}

// Address is ReverseGeocode reduced to the formatted address.
func (c *Client) Address(ctx context.Context, lat, lon float64) (string, error) {
	f, err := c.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	return f.Address, nil
}
