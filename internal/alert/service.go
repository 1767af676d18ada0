package alert

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/internal/notification"
)

// Common errors
var (
	ErrAlertNotFound     = apperror.New(apperror.ErrNotFound, "alert not found")
	ErrBroadcastNotFound = apperror.New(apperror.ErrNotFound, "broadcast not found")
)

// Store is the persistence the service needs; *Repository implements it
type Store interface {
	CreateBroadcast(ctx context.Context, b *Broadcast) (*Broadcast, error)
	GetBroadcast(ctx context.Context, id int64) (*Broadcast, error)
	SetBroadcastActive(ctx context.Context, id int64, active bool) (bool, error)
	ListActiveBroadcasts(ctx context.Context, userID int64) ([]*Broadcast, error)
	MarkBroadcastRead(ctx context.Context, userID, broadcastID int64) error
	BroadcastStats(ctx context.Context, broadcastID int64) (*BroadcastStats, error)
	CreateDelivery(ctx context.Context, d *Delivery) (*Delivery, error)
	CreateLog(ctx context.Context, l *DeliveryLog) error
	MarkDeliveryRead(ctx context.Context, id, userID int64) (bool, error)
	ListDeliveries(ctx context.Context, userID int64, limit, offset int) ([]*Delivery, int, error)
	CountUnreadDeliveries(ctx context.Context, userID int64) (int, error)
	DeleteDelivery(ctx context.Context, id, userID int64) (bool, error)
}

// RecipientSource lists users with a recorded position
type RecipientSource interface {
	ListPositioned(ctx context.Context) ([]geo.Located, error)
	GetPosition(ctx context.Context, userID int64) (*geo.Point, error)
}

// Notifier pushes realtime events; failures are handled by the implementation
type Notifier interface {
	PushToUser(ctx context.Context, userID int64, event string, payload interface{})
}

// Options tunes the per-recipient fanout
type Options struct {
	Concurrency int
	Retries     int
}

// Service handles alert business logic
type Service struct {
	repo       Store
	recipients RecipientSource
	notifier   Notifier
	opts       Options
	log        logrus.FieldLogger
}

// NewService creates a new alert service
func NewService(repo Store, recipients RecipientSource, notifier Notifier, opts Options, log logrus.FieldLogger) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 16
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Service{repo: repo, recipients: recipients, notifier: notifier, opts: opts, log: log}
}

// SendEmergencyAlert records a broadcast and delivers it to every positioned
// user within the radius. The broadcast stands even when some recipients fail;
// in that case the result is returned together with an *apperror.PartialFailure.
func (s *Service) SendEmergencyAlert(ctx context.Context, in *EmergencyAlertInput) (*FanoutResult, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, apperror.Invalid("title and message are required")
	}
	if !(in.RadiusKm > 0) || math.IsInf(in.RadiusKm, 0) {
		return nil, apperror.Invalid("radius_km must be a positive number")
	}
	if err := in.Center.Validate(); err != nil {
		return nil, err
	}
	urgency, err := ParseUrgency(in.Urgency)
	if err != nil {
		return nil, err
	}

	center, radius := in.Center, in.RadiusKm
	var createdBy *int64
	if in.CreatedBy > 0 {
		createdBy = &in.CreatedBy
	}
	broadcast, err := s.repo.CreateBroadcast(ctx, &Broadcast{
		Title:     in.Title,
		Message:   in.Message,
		Category:  categoryOrDefault(in.Category),
		Urgency:   urgency,
		Center:    &center,
		RadiusKm:  &radius,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, err
	}

	log := s.log.WithField("broadcast_id", broadcast.ID)
	result := &FanoutResult{BroadcastID: broadcast.ID}

	candidates, err := s.recipients.ListPositioned(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load recipients: %w", err)
	}
	matched, err := geo.UsersWithinRadius(center, radius, candidates)
	if err != nil {
		return result, err
	}

	ids := make([]int64, len(matched))
	for i, m := range matched {
		ids[i] = m.ID
	}
	result.DeliveredCount = len(ids)

	tmpl := Delivery{
		BroadcastID: &broadcast.ID,
		Title:       broadcast.Title,
		Message:     broadcast.Message,
		Category:    broadcast.Category,
		Urgency:     broadcast.Urgency,
		Source:      SourceEmergency,
		Center:      broadcast.Center,
		RadiusKm:    broadcast.RadiusKm,
	}
	delivered, failed, errs := s.fanout(ctx, ids, tmpl, broadcast.ID)
	result.Failed = failed

	payload := broadcast.ToResponse()
	for _, id := range delivered {
		s.notifier.PushToUser(ctx, id, notification.EventEmergencyAlert, payload)
	}

	log.WithFields(logrus.Fields{
		"matched": len(ids),
		"failed":  len(failed),
	}).Info("emergency alert fanned out")

	if pf := apperror.NewPartialFailure(failed, errs); pf != nil {
		log.WithError(pf).Warn("emergency alert partially delivered")
		return result, pf
	}
	return result, nil
}

// SendDirectedAlert delivers an alert to explicit recipients without a
// broadcast row
func (s *Service) SendDirectedAlert(ctx context.Context, in *DirectedAlertInput) (*FanoutResult, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, apperror.Invalid("title and message are required")
	}
	ids := uniqueIDs(in.RecipientIDs)
	if len(ids) == 0 {
		return nil, apperror.Invalid("at least one recipient is required")
	}
	urgency, err := ParseUrgency(in.Urgency)
	if err != nil {
		return nil, err
	}
	source := in.Source
	if source == "" {
		source = SourceSystem
	}

	tmpl := Delivery{
		Title:    in.Title,
		Message:  in.Message,
		Category: categoryOrDefault(in.Category),
		Urgency:  urgency,
		Source:   source,
	}
	delivered, failed, errs := s.fanout(ctx, ids, tmpl, 0)

	payload := map[string]interface{}{
		"title":    tmpl.Title,
		"message":  tmpl.Message,
		"category": tmpl.Category,
		"urgency":  tmpl.Urgency,
		"source":   tmpl.Source,
	}
	for _, id := range delivered {
		s.notifier.PushToUser(ctx, id, notification.EventNotification, payload)
	}

	result := &FanoutResult{DeliveredCount: len(ids), Failed: failed}
	if pf := apperror.NewPartialFailure(failed, errs); pf != nil {
		return result, pf
	}
	return result, nil
}

// fanout inserts one delivery per recipient with bounded concurrency. When
// broadcastID is set, each outcome is also written to the delivery log; log
// failures are collected and never stop the fanout.
func (s *Service) fanout(ctx context.Context, recipients []int64, tmpl Delivery, broadcastID int64) (delivered, failed []int64, errs []error) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for _, id := range recipients {
		id := id
		g.Go(func() error {
			d := tmpl
			d.RecipientID = id
			deliverErr := s.deliver(ctx, &d)

			var logErr error
			if broadcastID != 0 {
				entry := &DeliveryLog{BroadcastID: broadcastID, RecipientID: id, Status: StatusSent}
				if deliverErr != nil {
					msg := deliverErr.Error()
					entry.Status, entry.Error = StatusFailed, &msg
				}
				logErr = s.repo.CreateLog(ctx, entry)
			}

			mu.Lock()
			defer mu.Unlock()
			if deliverErr != nil {
				failed = append(failed, id)
				s.log.WithError(deliverErr).WithField("recipient_id", id).Warn("alert delivery failed")
			} else {
				delivered = append(delivered, id)
			}
			if logErr != nil {
				errs = append(errs, fmt.Errorf("recipient %d: %w", id, logErr))
			}
			return nil
		})
	}
	g.Wait()

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	sort.Slice(delivered, func(i, j int) bool { return delivered[i] < delivered[j] })
	return delivered, failed, errs
}

func (s *Service) deliver(ctx context.Context, d *Delivery) error {
	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, err = s.repo.CreateDelivery(ctx, d); err == nil {
			return nil
		}
	}
	return err
}

// MarkRead marks a broadcast (kind system) or a delivery (any other kind) as
// read by the user. Repeating it has no further effect.
func (s *Service) MarkRead(ctx context.Context, id int64, kind ReadKind, userID int64) error {
	if kind == KindSystem {
		b, err := s.repo.GetBroadcast(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBroadcastNotFound
		}
		return s.repo.MarkBroadcastRead(ctx, userID, id)
	}

	found, err := s.repo.MarkDeliveryRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrAlertNotFound
	}
	return nil
}

// ListForUser returns a page of the user's deliveries plus every active
// broadcast covering the user's position that did not reach them directly
func (s *Service) ListForUser(ctx context.Context, userID int64, page, perPage int) ([]*Delivery, []*Broadcast, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	deliveries, total, err := s.repo.ListDeliveries(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, 0, err
	}
	broadcasts, err := s.coveringBroadcasts(ctx, userID)
	if err != nil {
		return nil, nil, 0, err
	}
	return deliveries, broadcasts, total, nil
}

// UnreadCount counts unread deliveries and covering broadcasts
func (s *Service) UnreadCount(ctx context.Context, userID int64) (*UnreadCount, error) {
	alerts, err := s.repo.CountUnreadDeliveries(ctx, userID)
	if err != nil {
		return nil, err
	}
	broadcasts, err := s.coveringBroadcasts(ctx, userID)
	if err != nil {
		return nil, err
	}

	count := &UnreadCount{Alerts: alerts}
	for _, b := range broadcasts {
		if !b.Read {
			count.Broadcasts++
		}
	}
	count.Total = count.Alerts + count.Broadcasts
	return count, nil
}

func (s *Service) coveringBroadcasts(ctx context.Context, userID int64) ([]*Broadcast, error) {
	position, err := s.recipients.GetPosition(ctx, userID)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.ListActiveBroadcasts(ctx, userID)
	if err != nil {
		return nil, err
	}

	covering := make([]*Broadcast, 0, len(all))
	for _, b := range all {
		if b.Covers(position) {
			covering = append(covering, b)
		}
	}
	return covering, nil
}

// DeleteDelivery removes one of the user's own deliveries
func (s *Service) DeleteDelivery(ctx context.Context, id, userID int64) error {
	found, err := s.repo.DeleteDelivery(ctx, id, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrAlertNotFound
	}
	return nil
}

// Deactivate hides a broadcast from inbox listings
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	found, err := s.repo.SetBroadcastActive(ctx, id, false)
	if err != nil {
		return err
	}
	if !found {
		return ErrBroadcastNotFound
	}
	return nil
}

// GetBroadcastStats summarizes the delivery log of a broadcast
func (s *Service) GetBroadcastStats(ctx context.Context, id int64) (*BroadcastStats, error) {
	b, err := s.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBroadcastNotFound
	}
	return s.repo.BroadcastStats(ctx, id)
}

func categoryOrDefault(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return DefaultCategory
	}
	return c
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
