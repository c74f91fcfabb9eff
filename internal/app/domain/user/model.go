// Package user defines accounts for clients, cleaners and admins.
package user

import "time"

// Type discriminates the three account roles.
type Type string

const (
	TypeClient  Type = "client"
	TypeCleaner Type = "cleaner"
	TypeAdmin   Type = "admin"
)

// Valid reports whether t is a known account type.
func (t Type) Valid() bool {
	switch t {
	case TypeClient, TypeCleaner, TypeAdmin:
		return true
	}
	return false
}

// User is an account in the marketplace. Cleaner-specific fields are zero for
// clients and admins.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	HashedPassword string `json:"-"`
	FullName       string `json:"full_name"`
	PhoneNumber    string `json:"phone_number"`
	Type           Type   `json:"user_type"`
	Active         bool   `json:"is_active"`
	Verified       bool   `json:"is_verified"`

	// Cleaner profile.
	HourlyRate    float64 `json:"hourly_rate,omitempty"`
	Bio           string  `json:"bio,omitempty"`
	AverageRating float64 `json:"average_rating"`
	TotalJobs     int     `json:"total_jobs"`
	CompletedJobs int     `json:"completed_jobs"`

	FCMToken  string    `json:"-"`
	LastLogin time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCleaner reports whether the user offers cleaning services.
func (u User) IsCleaner() bool { return u.Type == TypeCleaner }
