// Package location implements geocoding, routing, live position updates and
// arrival estimates.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/saficlean/marketplace/internal/app/domain/job"
	"github.com/saficlean/marketplace/internal/app/domain/location"
	"github.com/saficlean/marketplace/internal/app/storage"
	apperr "github.com/saficlean/marketplace/internal/errors"
	"github.com/saficlean/marketplace/pkg/logger"
)

// Maps is the external mapping surface. MapsClient satisfies it; tests stub
// it.
type Maps interface {
	Geocode(ctx context.Context, address string) (location.Coordinates, string, error)
	ReverseGeocode(ctx context.Context, coords location.Coordinates) (string, error)
	Directions(ctx context.Context, origin, dest location.Coordinates) (location.RouteInfo, error)
	DistanceMatrix(ctx context.Context, origins, dests []location.Coordinates) ([][]location.MatrixElement, error)
}

// Broadcaster pushes position updates to WebSocket subscribers. The reporter
// is excluded so their own updates are not echoed back.
type Broadcaster interface {
	BroadcastExcept(jobID, excludeUserID, event string, data interface{})
}

// Service handles all geography concerns.
type Service struct {
	routes    storage.RouteStore
	locations storage.LocationStore
	jobs      storage.JobStore
	maps      Maps
	hub       Broadcaster
	log       *logger.Logger
	now       func() time.Time
}

// New creates the location service. hub may be nil.
func New(routes storage.RouteStore, locations storage.LocationStore, jobs storage.JobStore,
	maps Maps, hub Broadcaster, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("location")
	}
	return &Service{
		routes: routes, locations: locations, jobs: jobs,
		maps: maps, hub: hub, log: log, now: time.Now,
	}
}

// GeocodeResult pairs coordinates with the canonical address.
type GeocodeResult struct {
	Coordinates      location.Coordinates `json:"coordinates"`
	FormattedAddress string               `json:"formatted_address"`
}

// Geocode resolves a free-form address.
func (s *Service) Geocode(ctx context.Context, address string) (GeocodeResult, error) {
	if address == "" {
		return GeocodeResult{}, apperr.Validation("address is required")
	}
	coords, formatted, err := s.maps.Geocode(ctx, address)
	if err != nil {
		return GeocodeResult{}, err
	}
	return GeocodeResult{Coordinates: coords, FormattedAddress: formatted}, nil
}

// ReverseGeocode resolves coordinates to the nearest formatted address.
func (s *Service) ReverseGeocode(ctx context.Context, coords location.Coordinates) (GeocodeResult, error) {
	if !coords.Valid() {
		return GeocodeResult{}, apperr.Validation("coordinates out of range")
	}
	formatted, err := s.maps.ReverseGeocode(ctx, coords)
	if err != nil {
		return GeocodeResult{}, err
	}
	return GeocodeResult{Coordinates: coords, FormattedAddress: formatted}, nil
}

// DistanceMatrix computes pairwise travel estimates.
func (s *Service) DistanceMatrix(ctx context.Context, origins, dests []location.Coordinates) ([][]location.MatrixElement, error) {
	if len(origins) == 0 || len(dests) == 0 {
		return nil, apperr.Validation("origins and destinations are required")
	}
	for _, c := range append(append([]location.Coordinates{}, origins...), dests...) {
		if !c.Valid() {
			return nil, apperr.Validation("coordinates out of range")
		}
	}
	return s.maps.DistanceMatrix(ctx, origins, dests)
}

// RouteToJob computes and persists the route from the cleaner's position to
// the job site, returning it with an arrival estimate.
func (s *Service) RouteToJob(ctx context.Context, jobID, userID string, origin location.Coordinates) (location.Route, error) {
	if !origin.Valid() {
		return location.Route{}, apperr.Validation("origin coordinates out of range")
	}
	j, err := s.participantJob(ctx, jobID, userID)
	if err != nil {
		return location.Route{}, err
	}
	dest := location.Coordinates{Latitude: j.Latitude, Longitude: j.Longitude}
	if !dest.Valid() || (dest.Latitude == 0 && dest.Longitude == 0) {
		return location.Route{}, apperr.BusinessRule("job has no destination coordinates")
	}

	info, err := s.maps.Directions(ctx, origin, dest)
	if err != nil {
		return location.Route{}, err
	}

	rt, err := s.routes.CreateRoute(ctx, location.Route{
		UserID:          userID,
		JobID:           jobID,
		Origin:          origin,
		Destination:     dest,
		DistanceMeters:  info.DistanceMeters,
		DurationSeconds: info.DurationSeconds,
		Polyline:        info.Polyline,
		ETA:             s.now().UTC().Add(time.Duration(info.DurationSeconds) * time.Second),
	})
	if err != nil {
		return location.Route{}, apperr.Internal("store route", err)
	}
	return rt, nil
}

// RecordUpdate stores a cleaner position report and pushes it to anyone
// watching the job.
func (s *Service) RecordUpdate(ctx context.Context, jobID, cleanerID string, coords location.Coordinates) (location.Update, error) {
	if !coords.Valid() {
		return location.Update{}, apperr.Validation("coordinates out of range")
	}
	j, err := s.participantJob(ctx, jobID, cleanerID)
	if err != nil {
		return location.Update{}, err
	}
	if j.CleanerID != cleanerID {
		return location.Update{}, apperr.Forbidden("only the assigned cleaner reports location")
	}
	if j.Status != job.StatusScheduled && j.Status != job.StatusInProgress {
		return location.Update{}, apperr.BusinessRule("job is not active")
	}

	upd, err := s.locations.CreateLocationUpdate(ctx, location.Update{
		JobID:     jobID,
		CleanerID: cleanerID,
		Coords:    coords,
	})
	if err != nil {
		return location.Update{}, apperr.Internal("store location update", err)
	}
	if s.hub != nil {
		s.hub.BroadcastExcept(jobID, cleanerID, "location_update", upd)
	}
	return upd, nil
}

// History returns recent position reports for a job participant.
func (s *Service) History(ctx context.Context, jobID, userID string, limit int) ([]location.Update, error) {
	if _, err := s.participantJob(ctx, jobID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	updates, err := s.locations.ListLocationUpdates(ctx, jobID, limit)
	if err != nil {
		return nil, apperr.Internal("list location updates", err)
	}
	return updates, nil
}

// ETAInfo is the current arrival estimate for a cleaner en route.
type ETAInfo struct {
	JobID           string    `json:"job_id"`
	DistanceMeters  float64   `json:"distance_meters"`
	DurationSeconds float64   `json:"duration_seconds"`
	ETA             time.Time `json:"eta"`
}

// ETA recomputes the arrival estimate from the cleaner's latest reported
// position.
func (s *Service) ETA(ctx context.Context, jobID, userID string) (ETAInfo, error) {
	j, err := s.participantJob(ctx, jobID, userID)
	if err != nil {
		return ETAInfo{}, err
	}
	latest, err := s.locations.LatestLocationUpdate(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		// No position report yet; answer from the last computed route.
		rt, rerr := s.routes.LatestRouteForJob(ctx, jobID)
		if errors.Is(rerr, storage.ErrNotFound) {
			return ETAInfo{}, apperr.NotFound("cleaner position")
		}
		if rerr != nil {
			return ETAInfo{}, apperr.Internal("load route", rerr)
		}
		return ETAInfo{
			JobID:           jobID,
			DistanceMeters:  rt.DistanceMeters,
			DurationSeconds: rt.DurationSeconds,
			ETA:             rt.ETA,
		}, nil
	}
	if err != nil {
		return ETAInfo{}, apperr.Internal("load position", err)
	}

	dest := location.Coordinates{Latitude: j.Latitude, Longitude: j.Longitude}
	info, err := s.maps.Directions(ctx, latest.Coords, dest)
	if err != nil {
		return ETAInfo{}, err
	}
	return ETAInfo{
		JobID:           jobID,
		DistanceMeters:  info.DistanceMeters,
		DurationSeconds: info.DurationSeconds,
		ETA:             s.now().UTC().Add(time.Duration(info.DurationSeconds) * time.Second),
	}, nil
}

func (s *Service) participantJob(ctx context.Context, jobID, userID string) (job.Job, error) {
	j, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return job.Job{}, apperr.NotFound("job")
	}
	if err != nil {
		return job.Job{}, apperr.Internal("load job", err)
	}
	if j.ClientID != userID && j.CleanerID != userID {
		return job.Job{}, apperr.Forbidden("not a participant in this job")
	}
	return j, nil
}
