package location

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/location"
	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/storage/memory"
	apperr "github.com/saficlean/marketplace/internal/errors"
)

type stubMaps struct {
	geocodeCoords location.Coordinates
	routeInfo     location.RouteInfo
}

func (m *stubMaps) Geocode(context.Context, string) (location.Coordinates, string, error) {
	return m.geocodeCoords, "Westlands, Nairobi, Kenya", nil
}

func (m *stubMaps) ReverseGeocode(context.Context, location.Coordinates) (string, error) {
	return "Westlands, Nairobi, Kenya", nil
}

func (m *stubMaps) Directions(_ context.Context, origin, dest location.Coordinates) (location.RouteInfo, error) {
	info := m.routeInfo
	info.Origin = origin
	info.Destination = dest
	return info, nil
}

func (m *stubMaps) DistanceMatrix(_ context.Context, origins, dests []location.Coordinates) ([][]location.MatrixElement, error) {
	matrix := make([][]location.MatrixElement, len(origins))
	for i := range origins {
		matrix[i] = make([]location.MatrixElement, len(dests))
		for j := range dests {
			matrix[i][j] = location.MatrixElement{DistanceMeters: 1000, DurationSeconds: 300, OK: true}
		}
	}
	return matrix, nil
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	maps    *stubMaps
	client  user.User
	cleaner user.User
	job     job.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	maps := &stubMaps{
		geocodeCoords: location.Coordinates{Latitude: -1.2676, Longitude: 36.8108},
		routeInfo:     location.RouteInfo{DistanceMeters: 5200, DurationSeconds: 900},
	}
	svc := New(store, store, store, maps, nil, nil)

	client, _ := store.CreateUser(ctx, user.User{Email: "c@x.com", Type: user.TypeClient, Active: true})
	cleaner, _ := store.CreateUser(ctx, user.User{Email: "k@x.com", Type: user.TypeCleaner, Active: true})
	j, err := store.CreateJob(ctx, job.Job{
		ClientID: client.ID, CleanerID: cleaner.ID, Title: "t",
		Latitude: -1.2921, Longitude: 36.8219,
		Status: job.StatusInProgress,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return &fixture{svc: svc, store: store, maps: maps, client: client, cleaner: cleaner, job: j}
}

func TestRouteToJobPersistsWithETA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rt, err := f.svc.RouteToJob(ctx, f.job.ID, f.cleaner.ID,
		location.Coordinates{Latitude: -1.26, Longitude: 36.80})
	if err != nil {
		t.Fatalf("RouteToJob: %v", err)
	}
	if rt.DistanceMeters != 5200 || rt.ETA.IsZero() {
		t.Fatalf("unexpected route: %+v", rt)
	}

	stored, err := f.store.LatestRouteForJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("LatestRouteForJob: %v", err)
	}
	if stored.ID != rt.ID {
		t.Fatalf("route not persisted: %+v", stored)
	}
}

func TestRouteToJobRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RouteToJob(context.Background(), f.job.ID, "stranger",
		location.Coordinates{Latitude: -1.26, Longitude: 36.80})
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRecordUpdateOnlyAssignedCleaner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coords := location.Coordinates{Latitude: -1.27, Longitude: 36.81}

	if _, err := f.svc.RecordUpdate(ctx, f.job.ID, f.cleaner.ID, coords); err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}

	_, err := f.svc.RecordUpdate(ctx, f.job.ID, f.client.ID, coords)
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeForbidden {
		t.Fatalf("expected forbidden for client, got %v", err)
	}

	_, err = f.svc.RecordUpdate(ctx, f.job.ID, f.cleaner.ID,
		location.Coordinates{Latitude: 120, Longitude: 36.81})
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestETAFromLatestPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No position yet.
	_, err := f.svc.ETA(ctx, f.job.ID, f.client.ID)
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.svc.RecordUpdate(ctx, f.job.ID, f.cleaner.ID,
		location.Coordinates{Latitude: -1.27, Longitude: 36.81}); err != nil {
		t.Fatalf("RecordUpdate: %v", err)
	}

	eta, err := f.svc.ETA(ctx, f.job.ID, f.client.ID)
	if err != nil {
		t.Fatalf("ETA: %v", err)
	}
	if eta.DurationSeconds != 900 || eta.ETA.IsZero() {
		t.Fatalf("unexpected ETA: %+v", eta)
	}
}

func TestETAFallsBackToStoredRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A route was computed but no position has been reported yet.
	rt, err := f.svc.RouteToJob(ctx, f.job.ID, f.cleaner.ID,
		location.Coordinates{Latitude: -1.26, Longitude: 36.80})
	if err != nil {
		t.Fatalf("RouteToJob: %v", err)
	}

	eta, err := f.svc.ETA(ctx, f.job.ID, f.client.ID)
	if err != nil {
		t.Fatalf("ETA: %v", err)
	}
	if eta.DurationSeconds != rt.DurationSeconds || !eta.ETA.Equal(rt.ETA) {
		t.Fatalf("expected route-derived estimate, got %+v", eta)
	}
}

func TestHistoryVisibleToParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.RecordUpdate(ctx, f.job.ID, f.cleaner.ID,
			location.Coordinates{Latitude: -1.27, Longitude: 36.81}); err != nil {
			t.Fatalf("RecordUpdate: %v", err)
		}
	}
	history, err := f.svc.History(ctx, f.job.ID, f.client.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(history))
	}
}

func TestMapsClientGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/geocode/json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("address") == "" || r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"status":"OK","results":[{
			"formatted_address":"Westlands, Nairobi, Kenya",
			"geometry":{"location":{"lat":-1.2676,"lng":36.8108}}}]}`)
	}))
	defer srv.Close()

	client := NewMapsClient("test-key", srv.URL)
	coords, formatted, err := client.Geocode(context.Background(), "Westlands")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if coords.Latitude != -1.2676 || coords.Longitude != 36.8108 {
		t.Fatalf("unexpected coords: %+v", coords)
	}
	if formatted != "Westlands, Nairobi, Kenya" {
		t.Fatalf("unexpected address %q", formatted)
	}
}

func TestMapsClientDirections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/directions/json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"status":"OK","routes":[{
			"overview_polyline":{"points":"abc123"},
			"legs":[{
				"distance":{"value":5200},
				"duration":{"value":900},
				"steps":[
					{"distance":{"value":2000},"duration":{"value":300},
					 "html_instructions":"Head north","polyline":{"points":"p1"}},
					{"distance":{"value":3200},"duration":{"value":600},
					 "html_instructions":"Turn right","polyline":{"points":"p2"}}
				]}]}]}`)
	}))
	defer srv.Close()

	client := NewMapsClient("test-key", srv.URL)
	info, err := client.Directions(context.Background(),
		location.Coordinates{Latitude: -1.26, Longitude: 36.80},
		location.Coordinates{Latitude: -1.29, Longitude: 36.82})
	if err != nil {
		t.Fatalf("Directions: %v", err)
	}
	if info.DistanceMeters != 5200 || info.Polyline != "abc123" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(info.Steps) != 2 || info.Steps[1].Instructions != "Turn right" {
		t.Fatalf("unexpected steps: %+v", info.Steps)
	}
}

func TestMapsClientDistanceMatrix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/distancematrix/json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"status":"OK","rows":[
			{"elements":[
				{"status":"OK","distance":{"value":4100},"duration":{"value":780}},
				{"status":"ZERO_RESULTS"}
			]}]}`)
	}))
	defer srv.Close()

	client := NewMapsClient("test-key", srv.URL)
	matrix, err := client.DistanceMatrix(context.Background(),
		[]location.Coordinates{{Latitude: -1.26, Longitude: 36.80}},
		[]location.Coordinates{{Latitude: -1.29, Longitude: 36.82}, {Latitude: 0, Longitude: 0}})
	if err != nil {
		t.Fatalf("DistanceMatrix: %v", err)
	}
	if len(matrix) != 1 || len(matrix[0]) != 2 {
		t.Fatalf("unexpected shape: %+v", matrix)
	}
	if !matrix[0][0].OK || matrix[0][0].DistanceMeters != 4100 {
		t.Fatalf("unexpected first element: %+v", matrix[0][0])
	}
	if matrix[0][1].OK {
		t.Fatal("unreachable pair should not be OK")
	}
}

func TestMapsClientReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latlng") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"status":"OK","results":[{"formatted_address":"Kilimani, Nairobi, Kenya"}]}`)
	}))
	defer srv.Close()

	client := NewMapsClient("test-key", srv.URL)
	addr, err := client.ReverseGeocode(context.Background(),
		location.Coordinates{Latitude: -1.29, Longitude: 36.78})
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	if addr != "Kilimani, Nairobi, Kenya" {
		t.Fatalf("unexpected address %q", addr)
	}
}

func TestDistanceMatrixValidatesInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.DistanceMatrix(context.Background(), nil, nil); err == nil {
		t.Fatal("expected validation error for empty input")
	}
	_, err := f.svc.DistanceMatrix(context.Background(),
		[]location.Coordinates{{Latitude: 200, Longitude: 0}},
		[]location.Coordinates{{Latitude: 0, Longitude: 0}})
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMapsClientZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"ZERO_RESULTS","results":[]}`)
	}))
	defer srv.Close()

	client := NewMapsClient("test-key", srv.URL)
	_, _, err := client.Geocode(context.Background(), "nowhere")
	if svcErr := apperr.GetServiceError(err); svcErr == nil || svcErr.Code != apperr.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
