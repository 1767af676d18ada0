package group

import (
	"time"

	"github.com/resqzone/server/internal/geo"
)

// Kind distinguishes one-to-one chats from group chats
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// MemberRole represents the role of a group member
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Group is a chat. A group with both Center and RadiusKm set is geo-bound:
// it covers every point within RadiusKm of Center and is a candidate for
// automatic enrollment.
type Group struct {
	ID        int64
	Kind      Kind
	Name      *string
	Center    *geo.Point
	RadiusKm  *float64
	CreatedBy *int64
	CreatedAt time.Time
	UpdatedAt time.Time

	// Populated by ListByUserID
	MemberCount int
}

// IsGeoBound reports whether the group has a center and a radius
func (g *Group) IsGeoBound() bool {
	return g.Center != nil && g.RadiusKm != nil
}

func (g *Group) area() geo.Area {
	return geo.Area{ID: g.ID, Center: g.Center, RadiusKm: g.RadiusKm}
}

// Member represents a user's membership in a group
type Member struct {
	ID       int64
	GroupID  int64
	UserID   int64
	Role     MemberRole
	JoinedAt time.Time

	// Populated from JOIN
	Name string
}

// Address is an optional reverse-geocoding hint used to name new groups
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
}

// JoinResult reports what JoinOrCreateLocalGroup did. Both flags are false
// when the user already belonged to the covering group.
type JoinResult struct {
	Group   *Group
	Created bool
	Joined  bool
}
