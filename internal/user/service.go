package user

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/internal/group"
)

// Common errors
var (
	ErrUserNotFound      = apperror.New(apperror.ErrNotFound, "user not found")
	ErrPhoneAlreadyInUse = apperror.New(apperror.ErrInvalidOperation, "phone number already in use")
)

// Store is the persistence the service needs; *Repository implements it
type Store interface {
	Create(ctx context.Context, req *CreateUserRequest) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
	Update(ctx context.Context, id int64, req *UpdateUserRequest) (*User, error)
	UpdateLocation(ctx context.Context, id int64, p geo.Point) (*User, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Groups enrolls users in local groups and takes them out again
type Groups interface {
	JoinOrCreateLocalGroup(ctx context.Context, userID int64, point geo.Point, addr *group.Address) (*group.JoinResult, error)
	LeaveAll(ctx context.Context, userID int64) error
}

// Service handles user business logic
type Service struct {
	repo   Store
	groups Groups
	log    logrus.FieldLogger
}

// NewService creates a new user service
func NewService(repo Store, groups Groups, log logrus.FieldLogger) *Service {
	return &Service{repo: repo, groups: groups, log: log}
}

// Create creates a new user
func (s *Service) Create(ctx context.Context, req *CreateUserRequest) (*User, error) {
	if req.Phone != nil {
		existing, err := s.repo.GetByPhone(ctx, *req.Phone)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrPhoneAlreadyInUse
		}
	}

	return s.repo.Create(ctx, req)
}

// GetByID retrieves a user by their ID
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// List retrieves all users with pagination
func (s *Service) List(ctx context.Context, page, perPage int) ([]*User, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage
	return s.repo.List(ctx, perPage, offset)
}

// Update modifies an existing user
func (s *Service) Update(ctx context.Context, id int64, req *UpdateUserRequest) (*User, error) {
	if req.Phone != nil {
		existing, err := s.repo.GetByPhone(ctx, *req.Phone)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, ErrPhoneAlreadyInUse
		}
	}

	u, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// UpdateLocation stores the user's position and enrolls them in the local
// group covering it
func (s *Service) UpdateLocation(ctx context.Context, id int64, point geo.Point, addr *group.Address) (*User, *group.JoinResult, error) {
	if err := point.Validate(); err != nil {
		return nil, nil, err
	}

	u, err := s.repo.UpdateLocation(ctx, id, point)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, ErrUserNotFound
	}

	joined, err := s.groups.JoinOrCreateLocalGroup(ctx, id, point, addr)
	if err != nil {
		s.log.WithError(err).WithField("user_id", id).Error("location saved but local group enrollment failed")
		return nil, nil, err
	}
	return u, joined, nil
}

// Delete removes a user after taking them out of their groups, so no group is
// left without an owner or without members
func (s *Service) Delete(ctx context.Context, id int64) error {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}

	if err := s.groups.LeaveAll(ctx, id); err != nil {
		s.log.WithError(err).WithField("user_id", id).Error("failed to release group memberships")
		return err
	}

	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrUserNotFound
	}
	return nil
}
