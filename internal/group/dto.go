package group

import (
	"github.com/resqzone/server/internal/geo"
)

// JoinLocalRequest is the body of POST /groups/local
type JoinLocalRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Street    string   `json:"street,omitempty" validate:"omitempty,max=200"`
	City      string   `json:"city,omitempty" validate:"omitempty,max=100"`
}

// TransferOwnershipRequest is the body of POST /groups/{id}/owner
type TransferOwnershipRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// GroupResponse represents the response for a group
type GroupResponse struct {
	ID          int64             `json:"id"`
	Kind        Kind              `json:"kind"`
	Name        *string           `json:"name,omitempty"`
	Center      *geo.Point        `json:"center,omitempty"`
	RadiusKm    *float64          `json:"radius_km,omitempty"`
	CreatedBy   *int64            `json:"created_by,omitempty"`
	MemberCount int               `json:"member_count,omitempty"`
	CreatedAt   string            `json:"created_at"`
	Members     []*MemberResponse `json:"members,omitempty"`
}

// MemberResponse represents a member in a group response
type MemberResponse struct {
	UserID   int64      `json:"user_id"`
	Name     string     `json:"name"`
	Role     MemberRole `json:"role"`
	JoinedAt string     `json:"joined_at"`
}

// JoinResponse is returned by the local group endpoints
type JoinResponse struct {
	Group   *GroupResponse `json:"group"`
	Created bool           `json:"created"`
	Joined  bool           `json:"joined"`
}

// RemoveResponse reports whether removing a member emptied the group
type RemoveResponse struct {
	Disbanded bool `json:"disbanded"`
}

// ToResponse converts a Group model to a GroupResponse DTO
func (g *Group) ToResponse() *GroupResponse {
	return &GroupResponse{
		ID:          g.ID,
		Kind:        g.Kind,
		Name:        g.Name,
		Center:      g.Center,
		RadiusKm:    g.RadiusKm,
		CreatedBy:   g.CreatedBy,
		MemberCount: g.MemberCount,
		CreatedAt:   g.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// ToResponse converts a Member model to a MemberResponse DTO
func (m *Member) ToResponse() *MemberResponse {
	return &MemberResponse{
		UserID:   m.UserID,
		Name:     m.Name,
		Role:     m.Role,
		JoinedAt: m.JoinedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (r *JoinResult) ToResponse() *JoinResponse {
	return &JoinResponse{
		Group:   r.Group.ToResponse(),
		Created: r.Created,
		Joined:  r.Joined,
	}
}
