package user

import (
	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/internal/group"
)

// CreateUserRequest represents the request body for creating a user
type CreateUserRequest struct {
	Name       string  `json:"name" validate:"required,min=1,max=100"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,e164"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
	Role       Role    `json:"role,omitempty" validate:"omitempty,oneof=resident volunteer officer"`
}

// UpdateUserRequest represents the request body for updating a user
type UpdateUserRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,e164"`
	PostalCode *string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
}

// UpdateLocationRequest is the body of PUT /users/me/location. Street and
// city name a new local group if one has to be created.
type UpdateLocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Street    string   `json:"street,omitempty" validate:"omitempty,max=200"`
	City      string   `json:"city,omitempty" validate:"omitempty,max=100"`
}

// UserResponse represents the response for a single user
type UserResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Phone      *string    `json:"phone,omitempty"`
	PostalCode *string    `json:"postal_code,omitempty"`
	Role       Role       `json:"role"`
	Position   *geo.Point `json:"position,omitempty"`
	CreatedAt  string     `json:"created_at"`
}

// LocationResponse is returned after a location update
type LocationResponse struct {
	User       *UserResponse       `json:"user"`
	LocalGroup *group.JoinResponse `json:"local_group"`
}

// ToResponse converts a User model to a UserResponse DTO
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Phone:      u.Phone,
		PostalCode: u.PostalCode,
		Role:       u.Role,
		Position:   u.Position,
		CreatedAt:  u.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}
