package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/database"
	"github.com/resqzone/server/internal/geo"
)

// Repository handles user data persistence
type Repository struct {
	db database.DBTX
}

// NewRepository creates a new user repository
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, phone, postal_code, role, latitude, longitude, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var (
		u             User
		phone, postal sql.NullString
		lat, lon      sql.NullFloat64
	)
	if err := row.Scan(&u.ID, &u.Name, &phone, &postal, &u.Role, &lat, &lon, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Phone = database.NullString(phone)
	u.PostalCode = database.NullString(postal)
	u.Position = database.NullPoint(lat, lon)
	return &u, nil
}

// Create inserts a new user into the database
func (r *Repository) Create(ctx context.Context, req *CreateUserRequest) (*User, error) {
	query := `
		INSERT INTO users (name, phone, postal_code, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	role := req.Role
	if role == "" {
		role = RoleResident
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, query, req.Name, req.Phone, req.PostalCode, role))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", apperror.Store(err))
	}
	return u, nil
}

// GetByID retrieves a user by their ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByPhone retrieves a user by phone number
func (r *Repository) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *Repository) getOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", apperror.Store(err))
	}
	return u, nil
}

// List retrieves users with pagination
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", apperror.Store(err))
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", apperror.Store(err))
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", apperror.Store(err))
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", apperror.Store(err))
	}
	return users, total, nil
}

// Update modifies an existing user
func (r *Repository) Update(ctx context.Context, id int64, req *UpdateUserRequest) (*User, error) {
	query := `
		UPDATE users
		SET name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			postal_code = COALESCE($4, postal_code),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id, req.Name, req.Phone, req.PostalCode))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update user: %w", apperror.Store(err))
	}
	return u, nil
}

// UpdateLocation records the user's current position
func (r *Repository) UpdateLocation(ctx context.Context, id int64, p geo.Point) (*User, error) {
	query := `
		UPDATE users
		SET latitude = $2, longitude = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id, p.Latitude, p.Longitude))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update location: %w", apperror.Store(err))
	}
	return u, nil
}

// Delete removes a user and reports whether one existed
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", apperror.Store(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", apperror.Store(err))
	}
	return n > 0, nil
}

// ListPositioned returns every user with a recorded position
func (r *Repository) ListPositioned(ctx context.Context) ([]geo.Located, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, latitude, longitude FROM users WHERE latitude IS NOT NULL AND longitude IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list positioned users: %w", apperror.Store(err))
	}
	defer rows.Close()

	var located []geo.Located
	for rows.Next() {
		var (
			id int64
			p  geo.Point
		)
		if err := rows.Scan(&id, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", apperror.Store(err))
		}
		located = append(located, geo.Located{ID: id, Position: &p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list positioned users: %w", apperror.Store(err))
	}
	return located, nil
}

// GetPosition returns the user's recorded position, or nil
func (r *Repository) GetPosition(ctx context.Context, id int64) (*geo.Point, error) {
	var lat, lon sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT latitude, longitude FROM users WHERE id = $1`, id).Scan(&lat, &lon)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position: %w", apperror.Store(err))
	}
	return database.NullPoint(lat, lon), nil
}
