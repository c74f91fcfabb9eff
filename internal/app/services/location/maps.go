package location

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/saficlean/marketplace/internal/app/domain/location"
	apperr "github.com/saficlean/marketplace/internal/errors"
)

// MapsClient calls the Google Maps geocoding and directions APIs.
type MapsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewMapsClient creates a client. baseURL is overridable for tests; empty
// targets the live API.
func NewMapsClient(apiKey, baseURL string) *MapsClient {
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com"
	}
	return &MapsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Geocode resolves an address to coordinates and a formatted address.
func (c *MapsClient) Geocode(ctx context.Context, address string) (location.Coordinates, string, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("key", c.apiKey)
	q.Set("region", "ke")

	body, err := c.get(ctx, "/maps/api/geocode/json?"+q.Encode())
	if err != nil {
		return location.Coordinates{}, "", err
	}
	status := gjson.GetBytes(body, "status").String()
	if status == "ZERO_RESULTS" {
		return location.Coordinates{}, "", apperr.NotFound("address")
	}
	if status != "OK" {
		return location.Coordinates{}, "", apperr.External("maps",
			fmt.Errorf("geocode status %s", status))
	}

	first := gjson.GetBytes(body, "results.0")
	coords := location.Coordinates{
		Latitude:  first.Get("geometry.location.lat").Float(),
		Longitude: first.Get("geometry.location.lng").Float(),
	}
	return coords, first.Get("formatted_address").String(), nil
}

// ReverseGeocode resolves coordinates to the nearest formatted address.
func (c *MapsClient) ReverseGeocode(ctx context.Context, coords location.Coordinates) (string, error) {
	q := url.Values{}
	q.Set("latlng", fmt.Sprintf("%f,%f", coords.Latitude, coords.Longitude))
	q.Set("key", c.apiKey)

	body, err := c.get(ctx, "/maps/api/geocode/json?"+q.Encode())
	if err != nil {
		return "", err
	}
	status := gjson.GetBytes(body, "status").String()
	if status == "ZERO_RESULTS" {
		return "", apperr.NotFound("address")
	}
	if status != "OK" {
		return "", apperr.External("maps", fmt.Errorf("reverse geocode status %s", status))
	}
	return gjson.GetBytes(body, "results.0.formatted_address").String(), nil
}

// DistanceMatrix computes pairwise driving distance and duration. The result
// is indexed [origin][destination]; unreachable pairs have OK=false.
func (c *MapsClient) DistanceMatrix(ctx context.Context, origins, dests []location.Coordinates) ([][]location.MatrixElement, error) {
	q := url.Values{}
	q.Set("origins", joinCoords(origins))
	q.Set("destinations", joinCoords(dests))
	q.Set("mode", "driving")
	q.Set("key", c.apiKey)

	body, err := c.get(ctx, "/maps/api/distancematrix/json?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if status := gjson.GetBytes(body, "status").String(); status != "OK" {
		return nil, apperr.External("maps", fmt.Errorf("distance matrix status %s", status))
	}

	var matrix [][]location.MatrixElement
	gjson.GetBytes(body, "rows").ForEach(func(_, row gjson.Result) bool {
		var elements []location.MatrixElement
		row.Get("elements").ForEach(func(_, el gjson.Result) bool {
			elements = append(elements, location.MatrixElement{
				DistanceMeters:  el.Get("distance.value").Float(),
				DurationSeconds: el.Get("duration.value").Float(),
				OK:              el.Get("status").String() == "OK",
			})
			return true
		})
		matrix = append(matrix, elements)
		return true
	})
	return matrix, nil
}

func joinCoords(coords []location.Coordinates) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = fmt.Sprintf("%f,%f", c.Latitude, c.Longitude)
	}
	return strings.Join(parts, "|")
}

// Directions computes a driving route between two points.
func (c *MapsClient) Directions(ctx context.Context, origin, dest location.Coordinates) (location.RouteInfo, error) {
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%f,%f", origin.Latitude, origin.Longitude))
	q.Set("destination", fmt.Sprintf("%f,%f", dest.Latitude, dest.Longitude))
	q.Set("mode", "driving")
	q.Set("key", c.apiKey)

	body, err := c.get(ctx, "/maps/api/directions/json?"+q.Encode())
	if err != nil {
		return location.RouteInfo{}, err
	}
	status := gjson.GetBytes(body, "status").String()
	if status == "ZERO_RESULTS" {
		return location.RouteInfo{}, apperr.NotFound("route")
	}
	if status != "OK" {
		return location.RouteInfo{}, apperr.External("maps",
			fmt.Errorf("directions status %s", status))
	}

	leg := gjson.GetBytes(body, "routes.0.legs.0")
	info := location.RouteInfo{
		DistanceMeters:  leg.Get("distance.value").Float(),
		DurationSeconds: leg.Get("duration.value").Float(),
		Polyline:        gjson.GetBytes(body, "routes.0.overview_polyline.points").String(),
		Origin:          origin,
		Destination:     dest,
	}
	leg.Get("steps").ForEach(func(_, step gjson.Result) bool {
		info.Steps = append(info.Steps, location.RouteStep{
			DistanceMeters:  step.Get("distance.value").Float(),
			DurationSeconds: step.Get("duration.value").Float(),
			Instructions:    step.Get("html_instructions").String(),
			Polyline:        step.Get("polyline.points").String(),
		})
		return true
	})
	return info, nil
}

func (c *MapsClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.External("maps", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.External("maps", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External("maps",
			fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	return body, nil
}
