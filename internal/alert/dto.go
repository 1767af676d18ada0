package alert

import (
	"github.com/resqzone/server/internal/geo"
)

// EmergencyAlertRequest is the body of POST /alerts/emergency
type EmergencyAlertRequest struct {
	Title     string   `json:"title" validate:"required,max=200"`
	Message   string   `json:"message" validate:"required,max=2000"`
	Category  string   `json:"category,omitempty" validate:"omitempty,max=50"`
	Urgency   string   `json:"urgency,omitempty" validate:"omitempty,oneof=advisory moderate severe"`
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	RadiusKm  float64  `json:"radius_km" validate:"gt=0"`
}

// DirectedAlertRequest is the body of POST /alerts/directed
type DirectedAlertRequest struct {
	RecipientIDs []int64 `json:"recipient_ids" validate:"required,min=1,dive,gt=0"`
	Title        string  `json:"title" validate:"required,max=200"`
	Message      string  `json:"message" validate:"required,max=2000"`
	Category     string  `json:"category,omitempty" validate:"omitempty,max=50"`
	Urgency      string  `json:"urgency,omitempty" validate:"omitempty,oneof=advisory moderate severe"`
}

// EmergencyAlertInput is what SendEmergencyAlert fans out
type EmergencyAlertInput struct {
	Title     string
	Message   string
	Category  string
	Urgency   string
	Center    geo.Point
	RadiusKm  float64
	CreatedBy int64
}

// DirectedAlertInput targets explicit recipients
type DirectedAlertInput struct {
	RecipientIDs []int64
	Title        string
	Message      string
	Category     string
	Urgency      string
	Source       Source
}

// ToInput converts the request for the service layer
func (r *EmergencyAlertRequest) ToInput(createdBy int64) *EmergencyAlertInput {
	return &EmergencyAlertInput{
		Title:     r.Title,
		Message:   r.Message,
		Category:  r.Category,
		Urgency:   r.Urgency,
		Center:    geo.Point{Latitude: *r.Latitude, Longitude: *r.Longitude},
		RadiusKm:  r.RadiusKm,
		CreatedBy: createdBy,
	}
}

func (r *DirectedAlertRequest) ToInput() *DirectedAlertInput {
	return &DirectedAlertInput{
		RecipientIDs: r.RecipientIDs,
		Title:        r.Title,
		Message:      r.Message,
		Category:     r.Category,
		Urgency:      r.Urgency,
		Source:       SourceOfficer,
	}
}

// BroadcastResponse represents a broadcast in API responses and pushes
type BroadcastResponse struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Category  string     `json:"category"`
	Urgency   Urgency    `json:"urgency"`
	Center    *geo.Point `json:"center,omitempty"`
	RadiusKm  *float64   `json:"radius_km,omitempty"`
	Active    bool       `json:"is_active"`
	Read      bool       `json:"is_read"`
	CreatedAt string     `json:"created_at"`
}

// DeliveryResponse represents an inbox alert
type DeliveryResponse struct {
	ID          int64      `json:"id"`
	BroadcastID *int64     `json:"system_alert_id,omitempty"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Category    string     `json:"category"`
	Urgency     Urgency    `json:"urgency"`
	Source      Source     `json:"source"`
	Center      *geo.Point `json:"center,omitempty"`
	RadiusKm    *float64   `json:"radius_km,omitempty"`
	Read        bool       `json:"is_read"`
	CreatedAt   string     `json:"created_at"`
}

// InboxResponse is the payload of GET /alerts
type InboxResponse struct {
	Alerts     []*DeliveryResponse  `json:"alerts"`
	Broadcasts []*BroadcastResponse `json:"broadcasts"`
}

// UnreadCount splits unread items by kind
type UnreadCount struct {
	Alerts     int `json:"alerts"`
	Broadcasts int `json:"broadcasts"`
	Total      int `json:"total"`
}

func (b *Broadcast) ToResponse() *BroadcastResponse {
	return &BroadcastResponse{
		ID:        b.ID,
		Title:     b.Title,
		Message:   b.Message,
		Category:  b.Category,
		Urgency:   b.Urgency,
		Center:    b.Center,
		RadiusKm:  b.RadiusKm,
		Active:    b.Active,
		Read:      b.Read,
		CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (d *Delivery) ToResponse() *DeliveryResponse {
	return &DeliveryResponse{
		ID:          d.ID,
		BroadcastID: d.BroadcastID,
		Title:       d.Title,
		Message:     d.Message,
		Category:    d.Category,
		Urgency:     d.Urgency,
		Source:      d.Source,
		Center:      d.Center,
		RadiusKm:    d.RadiusKm,
		Read:        d.Read,
		CreatedAt:   d.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}
