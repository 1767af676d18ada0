package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/resqzone/server/internal/alert"
	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/internal/notification"
)

// Common errors
var (
	ErrGroupNotFound     = apperror.New(apperror.ErrNotFound, "group not found")
	ErrMemberNotFound    = apperror.New(apperror.ErrNotFound, "member not found")
	ErrNotOwner          = apperror.New(apperror.ErrForbidden, "only the group owner can do this")
	ErrCannotRemoveSelf  = apperror.New(apperror.ErrInvalidOperation, "owners cannot remove themselves, leave the group instead")
	ErrOwnerMustTransfer = apperror.New(apperror.ErrInvalidOperation, "transfer ownership before leaving a group with other members")
	ErrAlreadyOwner      = apperror.New(apperror.ErrInvalidOperation, "user already owns this group")
)

// Store is the persistence the service needs; *Repository implements it
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error
	LockArea(ctx context.Context, key int64) error
	ListGeoBound(ctx context.Context) ([]*Group, error)
	GetByID(ctx context.Context, id int64) (*Group, error)
	LockByID(ctx context.Context, id int64) (*Group, error)
	ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Group, int, error)
	ListGroupIDs(ctx context.Context, userID int64) ([]int64, error)
	Create(ctx context.Context, g *Group) (*Group, error)
	Delete(ctx context.Context, id int64) error
	GetMembers(ctx context.Context, groupID int64) ([]*Member, error)
	GetMember(ctx context.Context, groupID, userID int64) (*Member, error)
	AddMember(ctx context.Context, groupID, userID int64, role MemberRole) (bool, error)
	RemoveMember(ctx context.Context, groupID, userID int64) (bool, error)
	CountMembers(ctx context.Context, groupID int64) (int, error)
	SetMemberRole(ctx context.Context, groupID, userID int64, role MemberRole) error
}

// Notifier pushes realtime events; failures are handled by the implementation
type Notifier interface {
	PushToUser(ctx context.Context, userID int64, event string, payload interface{})
	PushToRoom(ctx context.Context, room, event string, payload interface{})
	Evict(ctx context.Context, userID int64, room string)
}

// DirectedAlerter writes inbox alerts for explicit recipients
type DirectedAlerter interface {
	SendDirectedAlert(ctx context.Context, in *alert.DirectedAlertInput) (*alert.FanoutResult, error)
}

// Options configures local group creation
type Options struct {
	DefaultRadiusKm float64
	// CreateLock serializes creation per geohash cell with an advisory lock
	CreateLock bool
}

// Service handles group business logic
type Service struct {
	repo     Store
	alerts   DirectedAlerter
	notifier Notifier
	opts     Options
	log      logrus.FieldLogger
}

// NewService creates a new group service
func NewService(repo Store, alerts DirectedAlerter, notifier Notifier, opts Options, log logrus.FieldLogger) *Service {
	if opts.DefaultRadiusKm <= 0 {
		opts.DefaultRadiusKm = 0.2
	}
	return &Service{repo: repo, alerts: alerts, notifier: notifier, opts: opts, log: log}
}

// JoinOrCreateLocalGroup enrolls the user in the nearest geo-bound group
// covering point, creating one centered on point when none does.
//
// Two users arriving at the same uncovered spot at the same moment can each
// create a group. CreateLock narrows this to users on either side of a
// geohash cell boundary.
func (s *Service) JoinOrCreateLocalGroup(ctx context.Context, userID int64, point geo.Point, addr *Address) (*JoinResult, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}

	groups, err := s.repo.ListGeoBound(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.joinCovering(ctx, s.repo, userID, point, groups)
	if err != nil {
		return nil, err
	}

	if result == nil {
		err = s.repo.InTx(ctx, func(tx Store) error {
			if s.opts.CreateLock {
				if err := tx.LockArea(ctx, geo.LockKey(geo.Cell(point, geo.DefaultCellPrecision))); err != nil {
					return err
				}
				groups, err := tx.ListGeoBound(ctx)
				if err != nil {
					return err
				}
				if result, err = s.joinCovering(ctx, tx, userID, point, groups); err != nil || result != nil {
					return err
				}
			}

			center, radius, name := point, s.opts.DefaultRadiusKm, groupName(point, addr)
			g, err := tx.Create(ctx, &Group{
				Kind:      KindGroup,
				Name:      &name,
				Center:    &center,
				RadiusKm:  &radius,
				CreatedBy: &userID,
			})
			if err != nil {
				return err
			}
			if _, err := tx.AddMember(ctx, g.ID, userID, RoleOwner); err != nil {
				return err
			}
			result = &JoinResult{Group: g, Created: true, Joined: true}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	log := s.log.WithFields(logrus.Fields{"user_id": userID, "group_id": result.Group.ID})
	switch {
	case result.Created:
		log.Info("local group created")
		s.announce(ctx, userID, result.Group, "Local group created",
			fmt.Sprintf("You started %s for your area.", displayName(result.Group)))
		s.notifier.PushToUser(ctx, userID, notification.EventGroupCreated, result.Group.ToResponse())
	case result.Joined:
		log.Info("joined local group")
		s.announce(ctx, userID, result.Group, "Joined local group",
			fmt.Sprintf("You are now a member of %s.", displayName(result.Group)))
		s.notifier.PushToRoom(ctx, notification.GroupRoom(result.Group.ID), notification.EventMemberJoined,
			map[string]int64{"group_id": result.Group.ID, "user_id": userID})
	default:
		// already a member: refresh the chat list without an inbox alert
		s.notifier.PushToUser(ctx, userID, notification.EventChatListChanged, map[string]int64{"group_id": result.Group.ID})
	}
	return result, nil
}

// joinCovering adds the user to the nearest covering group. It returns nil
// when no group covers point.
func (s *Service) joinCovering(ctx context.Context, repo Store, userID int64, point geo.Point, groups []*Group) (*JoinResult, error) {
	areas := make([]geo.Area, 0, len(groups))
	byID := make(map[int64]*Group, len(groups))
	for _, g := range groups {
		if g.Kind == KindGroup && g.IsGeoBound() {
			areas = append(areas, g.area())
			byID[g.ID] = g
		}
	}

	nearest, ok, err := geo.NearestCoveringGroup(point, areas)
	if err != nil || !ok {
		return nil, err
	}

	joined, err := repo.AddMember(ctx, nearest.ID, userID, RoleMember)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Group: byID[nearest.ID], Joined: joined}, nil
}

// announce writes an inbox alert and refreshes the user's chat list. The
// membership is already committed, so failures are only logged.
func (s *Service) announce(ctx context.Context, userID int64, g *Group, title, message string) {
	_, err := s.alerts.SendDirectedAlert(ctx, &alert.DirectedAlertInput{
		RecipientIDs: []int64{userID},
		Title:        title,
		Message:      message,
		Category:     "community",
		Source:       alert.SourceSystem,
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "group_id": g.ID}).Warn("failed to write group alert")
	}
	s.notifier.PushToUser(ctx, userID, notification.EventChatListChanged, map[string]int64{"group_id": g.ID})
}

// RemoveMember removes targetUserID from the group on behalf of its owner
func (s *Service) RemoveMember(ctx context.Context, groupID, targetUserID, requestedBy int64) (bool, error) {
	res, err := s.removeMember(ctx, groupID, targetUserID, requestedBy, ownerRemoves)
	if err != nil {
		return false, err
	}

	s.log.WithFields(logrus.Fields{"group_id": groupID, "user_id": targetUserID, "removed_by": requestedBy}).Info("member removed")
	payload := map[string]int64{"group_id": groupID, "user_id": targetUserID}
	if !res.disbanded {
		s.notifier.PushToUser(ctx, targetUserID, notification.EventRemovedFromChat, payload)
	}
	s.departed(ctx, groupID, targetUserID, res)
	return res.disbanded, nil
}

// Leave removes the user from the group. The last member leaving disbands it;
// an owner must transfer ownership first while others remain.
func (s *Service) Leave(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := s.removeMember(ctx, groupID, userID, userID, ownerMustTransfer)
	if err != nil {
		return false, err
	}

	s.log.WithFields(logrus.Fields{"group_id": groupID, "user_id": userID, "disbanded": res.disbanded}).Info("member left group")
	s.departed(ctx, groupID, userID, res)
	return res.disbanded, nil
}

// LeaveAll takes the user out of every group before their account goes away.
// Owned groups pass to the longest-standing remaining member, and groups the
// user was alone in are disbanded.
func (s *Service) LeaveAll(ctx context.Context, userID int64) error {
	ids, err := s.repo.ListGroupIDs(ctx, userID)
	if err != nil {
		return err
	}

	for _, groupID := range ids {
		res, err := s.removeMember(ctx, groupID, userID, userID, ownerHandsOff)
		if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrMemberNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		log := s.log.WithFields(logrus.Fields{"group_id": groupID, "user_id": userID, "disbanded": res.disbanded})
		if res.newOwner != 0 {
			log = log.WithField("new_owner_id", res.newOwner)
		}
		log.Info("member removed with account")
		s.departed(ctx, groupID, userID, res)
	}
	return nil
}

// departed tells the group and the user about a committed removal and stops
// the user's live clients from following the group room
func (s *Service) departed(ctx context.Context, groupID, userID int64, res removal) {
	room := notification.GroupRoom(groupID)
	payload := map[string]int64{"group_id": groupID, "user_id": userID}

	s.notifier.Evict(ctx, userID, room)
	if res.disbanded {
		s.notifier.PushToRoom(ctx, room, notification.EventGroupDisbanded, payload)
	} else {
		s.notifier.PushToRoom(ctx, room, notification.EventMemberLeft, payload)
	}
	if res.newOwner != 0 {
		s.notifier.PushToRoom(ctx, room, notification.EventOwnerChanged,
			map[string]int64{"group_id": groupID, "owner_id": res.newOwner})
	}
	s.notifier.PushToUser(ctx, userID, notification.EventChatListChanged, payload)
}

// ownerPolicy decides what happens when a removal touches the owner
type ownerPolicy int

const (
	// requestedBy must own the group and cannot remove itself
	ownerRemoves ownerPolicy = iota
	// the owner cannot leave while others remain
	ownerMustTransfer
	// the owner leaves and the oldest remaining member takes over
	ownerHandsOff
)

type removal struct {
	disbanded bool
	newOwner  int64
}

// removeMember deletes the membership and, when nobody is left, the group
// itself. The group row stays locked for the whole check so a concurrent join
// or ownership transfer cannot slip in between the role check, the count and
// the delete.
func (s *Service) removeMember(ctx context.Context, groupID, userID, requestedBy int64, policy ownerPolicy) (removal, error) {
	var res removal
	err := s.repo.InTx(ctx, func(tx Store) error {
		res = removal{}
		g, err := tx.LockByID(ctx, groupID)
		if err != nil {
			return err
		}
		if g == nil {
			return ErrGroupNotFound
		}

		if policy == ownerRemoves {
			requester, err := tx.GetMember(ctx, groupID, requestedBy)
			if err != nil {
				return err
			}
			if requester == nil || requester.Role != RoleOwner {
				return ErrNotOwner
			}
			if userID == requestedBy {
				return ErrCannotRemoveSelf
			}
		}

		m, err := tx.GetMember(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrMemberNotFound
		}
		if _, err := tx.RemoveMember(ctx, groupID, userID); err != nil {
			return err
		}

		remaining, err := tx.CountMembers(ctx, groupID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			res.disbanded = true
			return tx.Delete(ctx, groupID)
		}
		if m.Role != RoleOwner {
			return nil
		}

		switch policy {
		case ownerMustTransfer:
			return ErrOwnerMustTransfer
		case ownerHandsOff:
			members, err := tx.GetMembers(ctx, groupID)
			if err != nil {
				return err
			}
			// members come back oldest first
			heir := members[0]
			if err := tx.SetMemberRole(ctx, groupID, heir.UserID, RoleOwner); err != nil {
				return err
			}
			res.newOwner = heir.UserID
		}
		return nil
	})
	return res, err
}

// TransferOwnership hands the owner role to another member
func (s *Service) TransferOwnership(ctx context.Context, groupID, newOwnerID, requestedBy int64) error {
	if newOwnerID == requestedBy {
		return ErrAlreadyOwner
	}

	err := s.repo.InTx(ctx, func(tx Store) error {
		g, err := tx.LockByID(ctx, groupID)
		if err != nil {
			return err
		}
		if g == nil {
			return ErrGroupNotFound
		}

		current, err := tx.GetMember(ctx, groupID, requestedBy)
		if err != nil {
			return err
		}
		if current == nil || current.Role != RoleOwner {
			return ErrNotOwner
		}
		target, err := tx.GetMember(ctx, groupID, newOwnerID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrMemberNotFound
		}

		if err := tx.SetMemberRole(ctx, groupID, requestedBy, RoleMember); err != nil {
			return err
		}
		return tx.SetMemberRole(ctx, groupID, newOwnerID, RoleOwner)
	})
	if err != nil {
		return err
	}

	s.notifier.PushToRoom(ctx, notification.GroupRoom(groupID), notification.EventOwnerChanged,
		map[string]int64{"group_id": groupID, "owner_id": newOwnerID})
	return nil
}

// GetByID retrieves a group by its ID
func (s *Service) GetByID(ctx context.Context, id int64) (*Group, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

// GetByIDWithMembers retrieves a group with all its members
func (s *Service) GetByIDWithMembers(ctx context.Context, id int64) (*Group, []*Member, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	members, err := s.repo.GetMembers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return g, members, nil
}

// ListByUserID retrieves all groups for a user
func (s *Service) ListByUserID(ctx context.Context, userID int64, page, perPage int) ([]*Group, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage
	return s.repo.ListByUserID(ctx, userID, perPage, offset)
}

// GetMembers retrieves all members of a group
func (s *Service) GetMembers(ctx context.Context, groupID int64) ([]*Member, error) {
	if _, err := s.GetByID(ctx, groupID); err != nil {
		return nil, err
	}
	return s.repo.GetMembers(ctx, groupID)
}

// IsMember reports whether the user belongs to the group
func (s *Service) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	m, err := s.repo.GetMember(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

func groupName(p geo.Point, addr *Address) string {
	if addr != nil {
		if street := strings.TrimSpace(addr.Street); street != "" {
			return street
		}
		if city := strings.TrimSpace(addr.City); city != "" {
			return city
		}
	}
	r := p.Rounded(3)
	return fmt.Sprintf("Local group %.3f, %.3f", r.Latitude, r.Longitude)
}

func displayName(g *Group) string {
	if g.Name != nil && *g.Name != "" {
		return *g.Name
	}
	return fmt.Sprintf("group %d", g.ID)
}
