package alert

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/internal/database"
)

// Repository handles alert persistence
type Repository struct {
	db database.DBTX
}

// NewRepository creates a new alert repository
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const broadcastColumns = `id, title, message, category, urgency, center_lat, center_lon, radius_km, created_by, is_active, created_at`

const deliveryColumns = `id, recipient_id, system_alert_id, title, message, category, urgency, source,
		center_lat, center_lon, radius_km, is_read, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBroadcast(row scanner, extra ...interface{}) (*Broadcast, error) {
	var (
		b           Broadcast
		lat, lon, r sql.NullFloat64
		createdBy   sql.NullInt64
	)
	dest := []interface{}{&b.ID, &b.Title, &b.Message, &b.Category, &b.Urgency, &lat, &lon, &r, &createdBy, &b.Active, &b.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	b.Center = database.NullPoint(lat, lon)
	b.RadiusKm = database.NullFloat(r)
	b.CreatedBy = database.NullInt(createdBy)
	return &b, nil
}

func scanDelivery(row scanner) (*Delivery, error) {
	var (
		d           Delivery
		broadcastID sql.NullInt64
		lat, lon, r sql.NullFloat64
	)
	if err := row.Scan(&d.ID, &d.RecipientID, &broadcastID, &d.Title, &d.Message, &d.Category, &d.Urgency, &d.Source,
		&lat, &lon, &r, &d.Read, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.BroadcastID = database.NullInt(broadcastID)
	d.Center = database.NullPoint(lat, lon)
	d.RadiusKm = database.NullFloat(r)
	return &d, nil
}

// CreateBroadcast inserts a new active broadcast
func (r *Repository) CreateBroadcast(ctx context.Context, b *Broadcast) (*Broadcast, error) {
	query := `
		INSERT INTO system_alerts (title, message, category, urgency, center_lat, center_lon, radius_km, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + broadcastColumns

	lat, lon := database.PointArgs(b.Center)
	created, err := scanBroadcast(r.db.QueryRowContext(ctx, query,
		b.Title, b.Message, b.Category, b.Urgency, lat, lon, b.RadiusKm, b.CreatedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast: %w", apperror.Store(err))
	}
	return created, nil
}

// GetBroadcast retrieves a broadcast by its ID
func (r *Repository) GetBroadcast(ctx context.Context, id int64) (*Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM system_alerts WHERE id = $1`

	b, err := scanBroadcast(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get broadcast: %w", apperror.Store(err))
	}
	return b, nil
}

// SetBroadcastActive flips the active flag. It reports false when no
// broadcast has the given id.
func (r *Repository) SetBroadcastActive(ctx context.Context, id int64, active bool) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE system_alerts SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return false, fmt.Errorf("failed to update broadcast: %w", apperror.Store(err))
	}
	return affected(result)
}

// ListActiveBroadcasts returns active broadcasts the user has no delivery for,
// newest first, with the user's read marker
func (r *Repository) ListActiveBroadcasts(ctx context.Context, userID int64) ([]*Broadcast, error) {
	query := `
		SELECT sa.id, sa.title, sa.message, sa.category, sa.urgency, sa.center_lat, sa.center_lon,
			sa.radius_km, sa.created_by, sa.is_active, sa.created_at, (r.user_id IS NOT NULL)
		FROM system_alerts sa
		LEFT JOIN system_alert_reads r ON r.system_alert_id = sa.id AND r.user_id = $1
		WHERE sa.is_active
			AND NOT EXISTS (
				SELECT 1 FROM user_alerts ua
				WHERE ua.system_alert_id = sa.id AND ua.recipient_id = $1
			)
		ORDER BY sa.created_at DESC, sa.id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", apperror.Store(err))
	}
	defer rows.Close()

	var broadcasts []*Broadcast
	for rows.Next() {
		var read bool
		b, err := scanBroadcast(rows, &read)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", apperror.Store(err))
		}
		b.Read = read
		broadcasts = append(broadcasts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", apperror.Store(err))
	}
	return broadcasts, nil
}

// MarkBroadcastRead records a read marker; repeating it is a no-op
func (r *Repository) MarkBroadcastRead(ctx context.Context, userID, broadcastID int64) error {
	query := `
		INSERT INTO system_alert_reads (user_id, system_alert_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, system_alert_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, broadcastID); err != nil {
		return fmt.Errorf("failed to mark broadcast read: %w", apperror.Store(err))
	}
	return nil
}

// BroadcastStats counts delivery log rows by status
func (r *Repository) BroadcastStats(ctx context.Context, broadcastID int64) (*BroadcastStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM emergency_logs
		WHERE system_alert_id = $1
	`
	stats := &BroadcastStats{BroadcastID: broadcastID}
	if err := r.db.QueryRowContext(ctx, query, broadcastID).Scan(&stats.Sent, &stats.Failed); err != nil {
		return nil, fmt.Errorf("failed to get broadcast stats: %w", apperror.Store(err))
	}
	return stats, nil
}

// CreateDelivery inserts one recipient's inbox record
func (r *Repository) CreateDelivery(ctx context.Context, d *Delivery) (*Delivery, error) {
	query := `
		INSERT INTO user_alerts (recipient_id, system_alert_id, title, message, category, urgency, source,
			center_lat, center_lon, radius_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + deliveryColumns

	lat, lon := database.PointArgs(d.Center)
	created, err := scanDelivery(r.db.QueryRowContext(ctx, query,
		d.RecipientID, d.BroadcastID, d.Title, d.Message, d.Category, d.Urgency, d.Source, lat, lon, d.RadiusKm))
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", apperror.Store(err))
	}
	return created, nil
}

// CreateLog appends a delivery log row
func (r *Repository) CreateLog(ctx context.Context, l *DeliveryLog) error {
	query := `
		INSERT INTO emergency_logs (system_alert_id, recipient_id, status, error)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, l.BroadcastID, l.RecipientID, l.Status, l.Error); err != nil {
		return fmt.Errorf("failed to write delivery log: %w", apperror.Store(err))
	}
	return nil
}

// MarkDeliveryRead flips the read flag on the user's own delivery. Postgres
// reports matched rows, so marking twice still returns true.
func (r *Repository) MarkDeliveryRead(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_alerts SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark alert read: %w", apperror.Store(err))
	}
	return affected(result)
}

// ListDeliveries retrieves a page of the user's inbox, newest first
func (r *Repository) ListDeliveries(ctx context.Context, userID int64, limit, offset int) ([]*Delivery, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_alerts WHERE recipient_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", apperror.Store(err))
	}

	query := `
		SELECT ` + deliveryColumns + `
		FROM user_alerts
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", apperror.Store(err))
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", apperror.Store(err))
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", apperror.Store(err))
	}
	return deliveries, total, nil
}

// CountUnreadDeliveries counts the user's unread inbox records
func (r *Repository) CountUnreadDeliveries(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_alerts WHERE recipient_id = $1 AND NOT is_read`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread alerts: %w", apperror.Store(err))
	}
	return count, nil
}

// DeleteDelivery removes the user's own delivery
func (r *Repository) DeleteDelivery(ctx context.Context, id, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_alerts WHERE id = $1 AND recipient_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert: %w", apperror.Store(err))
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", apperror.Store(err))
	}
	return n > 0, nil
}
