package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/compliance/deadline-engine/internal/domain"
)

// DeadlineReader reads the deadlines table owned by the external CRUD layer.
// No write path exists on purpose.
type DeadlineReader struct {
	db *DB
}

func NewDeadlineReader(db *DB) *DeadlineReader {
	return &DeadlineReader{db: db}
}

const deadlineColumns = `id, title, category, due_at, status, completion_percentage, priority, owner_id, created_at, updated_at`

func (r *DeadlineReader) ListDeadlines(ctx context.Context, filter domain.DeadlineFilter) ([]domain.ComplianceDeadline, error) {
	query := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query += ` AND status = ANY(` + arg(statuses) + `)`
	}
	if filter.Priority != "" {
		query += ` AND priority = ` + arg(filter.Priority)
	}
	if filter.Category != "" {
		query += ` AND category = ` + arg(filter.Category)
	}
	if filter.DueBefore != nil {
		query += ` AND due_at < ` + arg(*filter.DueBefore)
	}
	if filter.OwnerID != nil {
		query += ` AND owner_id = ` + arg(*filter.OwnerID)
	}
	query += ` ORDER BY due_at`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deadlines: %w", err)
	}
	defer rows.Close()

	var out []domain.ComplianceDeadline
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DeadlineReader) GetDeadline(ctx context.Context, id uuid.UUID) (*domain.ComplianceDeadline, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+deadlineColumns+`
		FROM deadlines
		WHERE id = $1
	`, id)

	d, err := scanDeadline(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func scanDeadline(row pgx.Row) (*domain.ComplianceDeadline, error) {
	var d domain.ComplianceDeadline
	err := row.Scan(&d.ID, &d.Title, &d.Category, &d.DueAt, &d.Status,
		&d.CompletionPercentage, &d.Priority, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
