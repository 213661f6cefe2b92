package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/compliance/deadline-engine/internal/domain"
)

// NotificationRepo persists alert notifications. Identity fields are written
// once on insert; status fields change through Update under an optimistic
// status guard.
type NotificationRepo struct {
	db *DB
}

func NewNotificationRepo(db *DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

const notificationColumns = `id, deadline_id, risk_assessment_id, recipient_type, recipient_ref,
	recipient_id, notification_type, priority, channels, subject, message, status,
	scheduled_for, sent_at, delivered_at, acknowledged_at, response_note, retry_count,
	escalation_level, requires_response, escalated_at, escalated_from_id, error_message,
	created_at, updated_at`

func (r *NotificationRepo) Insert(ctx context.Context, n *domain.AlertNotification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO alert_notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, n.ID, n.DeadlineID, n.RiskAssessmentID, n.RecipientType, n.RecipientRef,
		n.RecipientID, n.NotificationType, n.Priority, channels, n.Subject, n.Message, n.Status,
		n.ScheduledFor, n.SentAt, n.DeliveredAt, n.AcknowledgedAt, n.ResponseNote, n.RetryCount,
		n.EscalationLevel, n.RequiresResponse, n.EscalatedAt, n.EscalatedFromID, n.ErrorMessage,
		n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Get(ctx context.Context, id uuid.UUID) (*domain.AlertNotification, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM alert_notifications
		WHERE id = $1
	`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *NotificationRepo) List(ctx context.Context, filter domain.NotificationFilter) ([]domain.AlertNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM alert_notifications WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.DeadlineID != nil {
		query += ` AND deadline_id = ` + arg(*filter.DeadlineID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(filter.Status)
	}
	if filter.Priority != "" {
		query += ` AND priority = ` + arg(filter.Priority)
	}
	if filter.Type != "" {
		query += ` AND notification_type = ` + arg(filter.Type)
	}
	if filter.Channel != "" {
		query += ` AND channels @> ` + arg(`["`+string(filter.Channel)+`"]`)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	return r.queryNotifications(ctx, query, args...)
}

// Update writes the mutable fields guarded by expectStatus. Zero affected
// rows means the persisted status moved on concurrently.
func (r *NotificationRepo) Update(ctx context.Context, n *domain.AlertNotification, expectStatus domain.NotificationStatus) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE alert_notifications
		SET status = $1, scheduled_for = $2, sent_at = $3, delivered_at = $4,
		    acknowledged_at = $5, response_note = $6, retry_count = $7,
		    escalation_level = $8, escalated_at = $9, error_message = $10,
		    updated_at = $11
		WHERE id = $12 AND status = $13
	`, n.Status, n.ScheduledFor, n.SentAt, n.DeliveredAt,
		n.AcknowledgedAt, n.ResponseNote, n.RetryCount,
		n.EscalationLevel, n.EscalatedAt, n.ErrorMessage,
		n.UpdatedAt, n.ID, expectStatus)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, n.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrStaleTransition
	}
	return nil
}

func (r *NotificationRepo) FindUnresolved(ctx context.Context, deadlineID uuid.UUID, t domain.NotificationType) ([]domain.AlertNotification, error) {
	return r.queryNotifications(ctx, `
		SELECT `+notificationColumns+`
		FROM alert_notifications
		WHERE deadline_id = $1
		  AND notification_type = $2
		  AND status NOT IN ($3, $4)
		  AND NOT (status = $5 AND escalation_level >= $6)
	`, deadlineID, t, domain.StatusAcknowledged, domain.StatusCancelled,
		domain.StatusFailed, domain.MaxEscalationLevel)
}

func (r *NotificationRepo) Dispatchable(ctx context.Context, now time.Time) ([]domain.AlertNotification, error) {
	return r.queryNotifications(ctx, `
		SELECT `+notificationColumns+`
		FROM alert_notifications
		WHERE status = $1
		   OR (status = $2 AND scheduled_for IS NOT NULL AND scheduled_for <= $3)
		ORDER BY created_at
	`, domain.StatusPending, domain.StatusScheduled, now)
}

func (r *NotificationRepo) AwaitingResponse(ctx context.Context) ([]domain.AlertNotification, error) {
	return r.queryNotifications(ctx, `
		SELECT `+notificationColumns+`
		FROM alert_notifications
		WHERE requires_response
		  AND status IN ($1, $2)
		  AND escalated_at IS NULL
	`, domain.StatusDelivered, domain.StatusRead)
}

func (r *NotificationRepo) FailedForEscalation(ctx context.Context, maxRetries int) ([]domain.AlertNotification, error) {
	return r.queryNotifications(ctx, `
		SELECT `+notificationColumns+`
		FROM alert_notifications
		WHERE status = $1
		  AND retry_count >= $2
		  AND escalated_at IS NULL
	`, domain.StatusFailed, maxRetries)
}

func (r *NotificationRepo) ActiveForDeadline(ctx context.Context, deadlineID uuid.UUID) ([]domain.AlertNotification, error) {
	return r.queryNotifications(ctx, `
		SELECT `+notificationColumns+`
		FROM alert_notifications
		WHERE deadline_id = $1 AND status IN ($2, $3)
	`, deadlineID, domain.StatusPending, domain.StatusScheduled)
}

func (r *NotificationRepo) CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM alert_notifications GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count notifications by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.NotificationStatus]int)
	for rows.Next() {
		var status domain.NotificationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (r *NotificationRepo) CountByPriority(ctx context.Context) (map[domain.NotificationPriority]int, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT priority, COUNT(*) FROM alert_notifications GROUP BY priority
	`)
	if err != nil {
		return nil, fmt.Errorf("count notifications by priority: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.NotificationPriority]int)
	for rows.Next() {
		var priority domain.NotificationPriority
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		out[priority] = count
	}
	return out, rows.Err()
}

func (r *NotificationRepo) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_notifications WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *NotificationRepo) queryNotifications(ctx context.Context, query string, args ...any) ([]domain.AlertNotification, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.AlertNotification, error) {
	var (
		n        domain.AlertNotification
		channels []byte
	)
	err := row.Scan(&n.ID, &n.DeadlineID, &n.RiskAssessmentID, &n.RecipientType, &n.RecipientRef,
		&n.RecipientID, &n.NotificationType, &n.Priority, &channels, &n.Subject, &n.Message, &n.Status,
		&n.ScheduledFor, &n.SentAt, &n.DeliveredAt, &n.AcknowledgedAt, &n.ResponseNote, &n.RetryCount,
		&n.EscalationLevel, &n.RequiresResponse, &n.EscalatedAt, &n.EscalatedFromID, &n.ErrorMessage,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(channels, &n.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	return &n, nil
}
