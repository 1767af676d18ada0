package group

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/database"
)

// Repository handles group data persistence
type Repository struct {
	db   database.DBTX
	conn *sql.DB // nil inside a transaction
}

// NewRepository creates a new group repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, conn: db}
}

// InTx runs fn with a repository bound to one transaction. Nested calls reuse
// the outer transaction.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.conn == nil {
		return fn(r)
	}
	return database.WithTransaction(ctx, r.conn, func(tx *sql.Tx) error {
		return fn(&Repository{db: tx})
	})
}

// LockArea takes a transaction-scoped advisory lock on an area key
func (r *Repository) LockArea(ctx context.Context, key int64) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("failed to lock area: %w", apperror.Store(err))
	}
	return nil
}

const groupColumns = `c.id, c.kind, c.name, c.center_lat, c.center_lon, c.radius_km, c.created_by, c.created_at, c.updated_at`

func scanGroup(row interface{ Scan(...interface{}) error }, extra ...interface{}) (*Group, error) {
	var (
		g           Group
		name        sql.NullString
		lat, lon, r sql.NullFloat64
		createdBy   sql.NullInt64
	)
	dest := []interface{}{&g.ID, &g.Kind, &name, &lat, &lon, &r, &createdBy, &g.CreatedAt, &g.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	g.Name = database.NullString(name)
	g.Center = database.NullPoint(lat, lon)
	g.RadiusKm = database.NullFloat(r)
	g.CreatedBy = database.NullInt(createdBy)
	return &g, nil
}

// ListGeoBound retrieves every geo-bound group chat
func (r *Repository) ListGeoBound(ctx context.Context) ([]*Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM chats c
		WHERE c.kind = 'group' AND c.radius_km IS NOT NULL
		ORDER BY c.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list geo-bound groups: %w", apperror.Store(err))
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", apperror.Store(err))
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list geo-bound groups: %w", apperror.Store(err))
	}
	return groups, nil
}

// GetByID retrieves a group by its ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*Group, error) {
	return r.getByID(ctx, id, "")
}

// LockByID retrieves a group and locks its row until the transaction ends
func (r *Repository) LockByID(ctx context.Context, id int64) (*Group, error) {
	return r.getByID(ctx, id, "FOR UPDATE")
}

func (r *Repository) getByID(ctx context.Context, id int64, lock string) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM chats c WHERE c.id = $1 ` + lock

	g, err := scanGroup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group: %w", apperror.Store(err))
	}
	return g, nil
}

// ListGroupIDs returns the ids of every chat the user belongs to
func (r *Repository) ListGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chat_id FROM chat_members WHERE user_id = $1 ORDER BY chat_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", apperror.Store(err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", apperror.Store(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", apperror.Store(err))
	}
	return ids, nil
}

// ListByUserID retrieves all groups for a user
func (r *Repository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Group, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM chat_members WHERE user_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count groups: %w", apperror.Store(err))
	}

	query := `
		SELECT ` + groupColumns + `,
			(SELECT COUNT(*) FROM chat_members m WHERE m.chat_id = c.id)
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", apperror.Store(err))
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var count int
		g, err := scanGroup(rows, &count)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan group: %w", apperror.Store(err))
		}
		g.MemberCount = count
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", apperror.Store(err))
	}
	return groups, total, nil
}

// Create inserts a new group chat
func (r *Repository) Create(ctx context.Context, g *Group) (*Group, error) {
	query := `
		INSERT INTO chats (kind, name, center_lat, center_lon, radius_km, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, kind, name, center_lat, center_lon, radius_km, created_by, created_at, updated_at
	`

	lat, lon := database.PointArgs(g.Center)
	created, err := scanGroup(r.db.QueryRowContext(ctx, query, g.Kind, g.Name, lat, lon, g.RadiusKm, g.CreatedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", apperror.Store(err))
	}
	return created, nil
}

// Delete removes a group with its messages, read receipts and memberships
func (r *Repository) Delete(ctx context.Context, id int64) error {
	statements := []struct{ query, what string }{
		{`DELETE FROM message_reads WHERE message_id IN (SELECT id FROM chat_messages WHERE chat_id = $1)`, "read receipts"},
		{`DELETE FROM chat_messages WHERE chat_id = $1`, "messages"},
		{`DELETE FROM chat_members WHERE chat_id = $1`, "members"},
		{`DELETE FROM chats WHERE id = $1`, "group"},
	}
	for _, s := range statements {
		if _, err := r.db.ExecContext(ctx, s.query, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", s.what, apperror.Store(err))
		}
	}
	return nil
}

const memberColumns = `cm.id, cm.chat_id, cm.user_id, cm.role, cm.joined_at, u.name`

func scanMember(row interface{ Scan(...interface{}) error }) (*Member, error) {
	m := &Member{}
	if err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.JoinedAt, &m.Name); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMembers retrieves all members of a group, owner first
func (r *Repository) GetMembers(ctx context.Context, groupID int64) ([]*Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = $1
		ORDER BY (cm.role = 'owner') DESC, cm.joined_at, cm.id
	`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", apperror.Store(err))
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", apperror.Store(err))
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get members: %w", apperror.Store(err))
	}
	return members, nil
}

// GetMember retrieves a specific member of a group
func (r *Repository) GetMember(ctx context.Context, groupID, userID int64) (*Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = $1 AND cm.user_id = $2
	`

	m, err := scanMember(r.db.QueryRowContext(ctx, query, groupID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", apperror.Store(err))
	}
	return m, nil
}

// AddMember inserts a membership. It reports false when the user already
// belonged to the group.
func (r *Repository) AddMember(ctx context.Context, groupID, userID int64, role MemberRole) (bool, error) {
	query := `
		INSERT INTO chat_members (chat_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, groupID, userID, role)
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", apperror.Store(err))
	}
	return affected(result)
}

// RemoveMember deletes a membership and reports whether one existed
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", apperror.Store(err))
	}
	return affected(result)
}

// CountMembers counts the memberships of a group
func (r *Repository) CountMembers(ctx context.Context, groupID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_members WHERE chat_id = $1`, groupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", apperror.Store(err))
	}
	return n, nil
}

// SetMemberRole changes a member's role
func (r *Repository) SetMemberRole(ctx context.Context, groupID, userID int64, role MemberRole) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_members SET role = $3 WHERE chat_id = $1 AND user_id = $2`, groupID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", apperror.Store(err))
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", apperror.Store(err))
	}
	return n > 0, nil
}
