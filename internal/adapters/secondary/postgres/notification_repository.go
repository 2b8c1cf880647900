package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/salon-notifications/internal/core/domain"
	apperrors "github.com/lorrc/salon-notifications/internal/core/errors"
	"github.com/lorrc/salon-notifications/internal/core/ports"
)

const notificationColumns = `id, type, title, message, tenant_id, staff_id, customer_id, metadata, priority, is_read, read_at, created_at`

// NotificationRepository persists notifications in the notifications table.
type NotificationRepository struct {
	pool *pgxpool.Pool
	tx   *TransactionManager
}

var _ ports.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool, tx: NewTransactionManager(pool)}
}

// Create inserts a notification built by domain.NewNotification.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	const query = `
INSERT INTO notifications (` + notificationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

	metadata, err := encodeMetadata(n.Metadata)
	if err != nil {
		return apperrors.Persistence("encode metadata", err)
	}

	var readAt pgtype.Timestamptz
	if n.ReadAt != nil {
		readAt = toTimestamptz(*n.ReadAt)
	}

	_, err = GetDBTX(ctx, r.pool).Exec(ctx, query,
		n.ID,
		string(n.Type),
		n.Title,
		n.Message,
		n.TenantID,
		toNullText(n.StaffID),
		toNullText(n.CustomerID),
		metadata,
		string(n.Priority),
		n.IsRead,
		readAt,
		toTimestamptz(n.CreatedAt),
	)
	if err != nil {
		return apperrors.Persistence("insert notification", err)
	}
	return nil
}

// MarkRead sets is_read and keeps the first read_at. Notifications of other
// tenants are reported as not found.
func (r *NotificationRepository) MarkRead(ctx context.Context, tenantID, id string, at time.Time) error {
	const query = `
UPDATE notifications
SET is_read = TRUE,
    read_at = COALESCE(read_at, $3)
WHERE id = $1
  AND tenant_id = $2
`

	tag, err := GetDBTX(ctx, r.pool).Exec(ctx, query, id, tenantID, toTimestamptz(at))
	if err != nil {
		return apperrors.Persistence("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotificationNotFound
	}
	return nil
}

// CountUnread counts unread notifications of a tenant, optionally for one staff member.
func (r *NotificationRepository) CountUnread(ctx context.Context, tenantID string, staffID *string) (int64, error) {
	const query = `
SELECT COUNT(*)
FROM notifications
WHERE tenant_id = $1
  AND is_read = FALSE
  AND ($2::text IS NULL OR staff_id = $2)
`

	var count int64
	if err := GetDBTX(ctx, r.pool).QueryRow(ctx, query, tenantID, toNullText(staffID)).Scan(&count); err != nil {
		return 0, apperrors.Persistence("count unread", err)
	}
	return count, nil
}

// ListUnread returns the newest unread notifications, newest first.
func (r *NotificationRepository) ListUnread(ctx context.Context, tenantID string, staffID *string, limit int) ([]*domain.Notification, error) {
	const query = `
SELECT ` + notificationColumns + `
FROM notifications
WHERE tenant_id = $1
  AND is_read = FALSE
  AND ($2::text IS NULL OR staff_id = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3
`

	rows, err := GetDBTX(ctx, r.pool).Query(ctx, query, tenantID, toNullText(staffID), limit)
	if err != nil {
		return nil, apperrors.Persistence("list unread", err)
	}
	items, err := scanNotifications(rows)
	if err != nil {
		return nil, apperrors.Persistence("list unread", err)
	}
	return items, nil
}

// ListPaged returns one page matching filter plus the total match count.
func (r *NotificationRepository) ListPaged(ctx context.Context, filter domain.NotificationFilter, page, pageSize int) ([]*domain.Notification, int64, error) {
	where, args := buildFilter(filter)
	db := GetDBTX(ctx, r.pool)

	var total int64
	countQuery := `SELECT COUNT(*) FROM notifications WHERE ` + where
	if err := db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Persistence("count notifications", err)
	}

	offset := (page - 1) * pageSize
	listQuery := fmt.Sprintf(`
SELECT %s
FROM notifications
WHERE %s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d
`, notificationColumns, where, len(args)+1, len(args)+2)

	rows, err := db.Query(ctx, listQuery, append(args, pageSize, offset)...)
	if err != nil {
		return nil, 0, apperrors.Persistence("list notifications", err)
	}
	items, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, apperrors.Persistence("list notifications", err)
	}
	return items, total, nil
}

// MarkAllRead marks every unread notification in scope and returns the count.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, tenantID string, staffID *string, at time.Time) (int64, error) {
	const query = `
UPDATE notifications
SET is_read = TRUE,
    read_at = $3
WHERE tenant_id = $1
  AND is_read = FALSE
  AND ($2::text IS NULL OR staff_id = $2)
`

	tag, err := GetDBTX(ctx, r.pool).Exec(ctx, query, tenantID, toNullText(staffID), toTimestamptz(at))
	if err != nil {
		return 0, apperrors.Persistence("mark all read", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a notification.
func (r *NotificationRepository) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := GetDBTX(ctx, r.pool).Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return apperrors.Persistence("delete notification", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotificationNotFound
	}
	return nil
}

// Stats aggregates a tenant's notifications created at or after since. All
// queries read one snapshot.
func (r *NotificationRepository) Stats(ctx context.Context, tenantID string, since time.Time) (*domain.NotificationStats, error) {
	stats := &domain.NotificationStats{Since: since}

	err := r.tx.WithReadOnlyTransaction(ctx, func(ctx context.Context) error {
		db := GetDBTX(ctx, r.pool)

		if err := r.fetchTotals(ctx, db, tenantID, since, stats); err != nil {
			return err
		}
		byType, err := r.fetchByType(ctx, db, tenantID, since)
		if err != nil {
			return err
		}
		byPriority, err := r.fetchByPriority(ctx, db, tenantID, since)
		if err != nil {
			return err
		}
		byDay, err := r.fetchByDay(ctx, db, tenantID, since)
		if err != nil {
			return err
		}

		stats.ByType = byType
		stats.ByPriority = byPriority
		stats.ByDay = byDay
		return nil
	})
	if err != nil {
		return nil, apperrors.Persistence("notification stats", err)
	}
	return stats, nil
}

func (r *NotificationRepository) fetchTotals(ctx context.Context, db DBTX, tenantID string, since time.Time, stats *domain.NotificationStats) error {
	const query = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE is_read = FALSE)
FROM notifications
WHERE tenant_id = $1
  AND created_at >= $2
`
	return db.QueryRow(ctx, query, tenantID, toTimestamptz(since)).Scan(&stats.Total, &stats.Unread)
}

func (r *NotificationRepository) fetchByType(ctx context.Context, db DBTX, tenantID string, since time.Time) ([]domain.TypeCount, error) {
	const query = `
SELECT type, COUNT(*)
FROM notifications
WHERE tenant_id = $1
  AND created_at >= $2
GROUP BY type
`

	rows, err := db.Query(ctx, query, tenantID, toTimestamptz(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.NotificationType]int64, len(domain.NotificationTypes))
	for rows.Next() {
		var (
			typ   string
			count int64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		counts[domain.NotificationType(typ)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.TypeCount, 0, len(domain.NotificationTypes))
	for _, t := range domain.NotificationTypes {
		out = append(out, domain.TypeCount{Type: t, Count: counts[t]})
	}
	return out, nil
}

func (r *NotificationRepository) fetchByPriority(ctx context.Context, db DBTX, tenantID string, since time.Time) ([]domain.PriorityCount, error) {
	const query = `
SELECT priority, COUNT(*)
FROM notifications
WHERE tenant_id = $1
  AND created_at >= $2
GROUP BY priority
`

	rows, err := db.Query(ctx, query, tenantID, toTimestamptz(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Priority]int64, len(domain.Priorities))
	for rows.Next() {
		var (
			priority string
			count    int64
		)
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		counts[domain.Priority(priority)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.PriorityCount, 0, len(domain.Priorities))
	for _, p := range domain.Priorities {
		out = append(out, domain.PriorityCount{Priority: p, Count: counts[p]})
	}
	return out, nil
}

func (r *NotificationRepository) fetchByDay(ctx context.Context, db DBTX, tenantID string, since time.Time) ([]domain.DailyCount, error) {
	const query = `
WITH days AS (
  SELECT generate_series($2::timestamptz, GREATEST($2::timestamptz, NOW()), interval '1 day') AS day
),
created AS (
  SELECT date_trunc('day', created_at, 'UTC') AS day, COUNT(*) AS created_count
  FROM notifications
  WHERE tenant_id = $1
    AND created_at >= $2
  GROUP BY 1
)
SELECT d.day, COALESCE(c.created_count, 0)
FROM days d
LEFT JOIN created c ON c.day = d.day
ORDER BY d.day
`

	rows, err := db.Query(ctx, query, tenantID, toTimestamptz(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]domain.DailyCount, 0)
	for rows.Next() {
		var (
			day   time.Time
			count int64
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		points = append(points, domain.DailyCount{Day: day.UTC(), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// buildFilter renders the WHERE clause for a listing. The tenant is always bound.
func buildFilter(f domain.NotificationFilter) (string, []any) {
	clauses := []string{"tenant_id = $1"}
	args := []any{f.TenantID}

	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if f.StaffID != nil && *f.StaffID != "" {
		add("staff_id", *f.StaffID)
	}
	if f.IsRead != nil {
		add("is_read", *f.IsRead)
	}
	if f.Type != nil {
		add("type", string(*f.Type))
	}
	if f.Priority != nil {
		add("priority", string(*f.Priority))
	}

	return strings.Join(clauses, " AND "), args
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	defer rows.Close()

	items := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n          domain.Notification
		typ        string
		priority   string
		staffID    pgtype.Text
		customerID pgtype.Text
		metadata   []byte
		readAt     pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
	)

	if err := row.Scan(
		&n.ID,
		&typ,
		&n.Title,
		&n.Message,
		&n.TenantID,
		&staffID,
		&customerID,
		&metadata,
		&priority,
		&n.IsRead,
		&readAt,
		&createdAt,
	); err != nil {
		return nil, err
	}

	n.Type = domain.NotificationType(typ)
	n.Priority = domain.Priority(priority)
	n.StaffID = fromNullText(staffID)
	n.CustomerID = fromNullText(customerID)
	n.ReadAt = fromNullTimestamptz(readAt)
	n.CreatedAt = createdAt.Time.UTC()

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &n, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
