package alert

import (
	"strings"
	"time"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/geo"
)

// Urgency of an alert
type Urgency string

const (
	UrgencyAdvisory Urgency = "advisory"
	UrgencyModerate Urgency = "moderate"
	UrgencySevere   Urgency = "severe"
)

// Source records what produced a delivery
type Source string

const (
	SourceEmergency Source = "emergency"
	SourceSystem    Source = "system"
	SourceOfficer   Source = "officer"
)

// DeliveryStatus is the outcome recorded in the delivery log
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// ReadKind selects which record MarkRead flips
type ReadKind string

const (
	KindSystem ReadKind = "system"
	KindUser   ReadKind = "user"
)

const DefaultCategory = "emergency"

var ErrUnknownUrgency = apperror.New(apperror.ErrInvalidInput, "urgency must be advisory, moderate or severe")

// ParseUrgency defaults an empty value to advisory
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case "":
		return UrgencyAdvisory, nil
	case UrgencyAdvisory, UrgencyModerate, UrgencySevere:
		return u, nil
	default:
		return "", ErrUnknownUrgency
	}
}

// Broadcast is an area-wide announcement. Only Active changes after creation.
type Broadcast struct {
	ID        int64
	Title     string
	Message   string
	Category  string
	Urgency   Urgency
	Center    *geo.Point
	RadiusKm  *float64
	CreatedBy *int64
	Active    bool
	CreatedAt time.Time

	// Populated for inbox listings
	Read bool
}

// Covers reports whether a user at p falls inside the broadcast area.
// Broadcasts without an area cover everyone.
func (b *Broadcast) Covers(p *geo.Point) bool {
	if b.Center == nil || b.RadiusKm == nil {
		return true
	}
	if p == nil {
		return false
	}
	return geo.Within(*b.Center, *p, *b.RadiusKm)
}

// Delivery is a per-recipient inbox record
type Delivery struct {
	ID          int64
	RecipientID int64
	BroadcastID *int64
	Title       string
	Message     string
	Category    string
	Urgency     Urgency
	Source      Source
	Center      *geo.Point
	RadiusKm    *float64
	Read        bool
	CreatedAt   time.Time
}

// DeliveryLog is the audit row written for each emergency recipient
type DeliveryLog struct {
	BroadcastID int64
	RecipientID int64
	Status      DeliveryStatus
	Error       *string
}

// BroadcastStats summarizes the delivery log of a broadcast
type BroadcastStats struct {
	BroadcastID int64 `json:"broadcast_id"`
	Sent        int   `json:"sent"`
	Failed      int   `json:"failed"`
}

// FanoutResult reports the outcome of an emergency or directed alert.
// DeliveredCount is the number of matched recipients; Failed lists those whose
// delivery could not be recorded.
type FanoutResult struct {
	BroadcastID    int64   `json:"broadcast_id,omitempty"`
	DeliveredCount int     `json:"delivered_count"`
	Failed         []int64 `json:"failed_recipients,omitempty"`
}
