// Package location defines coordinates, routes and cleaner location updates.
package location

import "time"

// Coordinates is a geographic point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates are within range.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// RouteStep is one leg instruction within a route.
type RouteStep struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	Instructions    string  `json:"instructions"`
	Polyline        string  `json:"polyline"`
}

// RouteInfo is a computed route between two points.
type RouteInfo struct {
	DistanceMeters  float64     `json:"distance_meters"`
	DurationSeconds float64     `json:"duration_seconds"`
	Polyline        string      `json:"polyline"`
	Steps           []RouteStep `json:"steps"`
	Origin          Coordinates `json:"origin"`
	Destination     Coordinates `json:"destination"`
}

// MatrixElement is one origin/destination pair in a distance matrix.
// OK is false when the pair is unreachable.
type MatrixElement struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	OK              bool    `json:"ok"`
}

// Route is a persisted route calculation for a job.
type Route struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	JobID           string      `json:"job_id"`
	Origin          Coordinates `json:"origin"`
	Destination     Coordinates `json:"destination"`
	DistanceMeters  float64     `json:"distance_meters"`
	DurationSeconds float64     `json:"duration_seconds"`
	Polyline        string      `json:"polyline"`
	ETA             time.Time   `json:"eta"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Update is a cleaner position report for an active job.
type Update struct {
	ID         string      `json:"id"`
	JobID      string      `json:"job_id"`
	CleanerID  string      `json:"cleaner_id"`
	Coords     Coordinates `json:"coordinates"`
	RecordedAt time.Time   `json:"recorded_at"`
}
