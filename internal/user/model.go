package user

import (
	"time"

	"github.com/resqzone/server/internal/geo"
)

// Role of a user
type Role string

const (
	RoleResident  Role = "resident"
	RoleVolunteer Role = "volunteer"
	RoleOfficer   Role = "officer"
)

// User represents a user in the system. Position is nil until the user
// shares a location.
type User struct {
	ID         int64
	Name       string
	Phone      *string
	PostalCode *string
	Role       Role
	Position   *geo.Point
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
