package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/compliance/deadline-engine/internal/domain"
)

// AssessmentRepo persists immutable risk assessment rows
type AssessmentRepo struct {
	db *DB
}

func NewAssessmentRepo(db *DB) *AssessmentRepo {
	return &AssessmentRepo{db: db}
}

const assessmentColumns = `id, deadline_id, risk_score, risk_level, factors, overridden, computed_at, superseded_by`

// Insert stores a new assessment and points the previous current row at it.
// Both writes happen in one transaction so there is never more than one
// current row per deadline.
func (r *AssessmentRepo) Insert(ctx context.Context, a *domain.RiskAssessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE risk_assessments
		SET superseded_by = $1
		WHERE deadline_id = $2 AND superseded_by IS NULL
	`, a.ID, a.DeadlineID)
	if err != nil {
		return fmt.Errorf("supersede previous assessment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO risk_assessments (`+assessmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.DeadlineID, a.RiskScore, a.RiskLevel, factors, a.Overridden, a.ComputedAt, a.SupersededBy)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	return tx.Commit(ctx)
}

// Latest returns the current (non-superseded) assessment for a deadline
func (r *AssessmentRepo) Latest(ctx context.Context, deadlineID uuid.UUID) (*domain.RiskAssessment, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE deadline_id = $1 AND superseded_by IS NULL
		ORDER BY computed_at DESC
		LIMIT 1
	`, deadlineID)

	a, err := scanAssessment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// History returns up to limit assessments for a deadline, newest first
func (r *AssessmentRepo) History(ctx context.Context, deadlineID uuid.UUID, limit int) ([]domain.RiskAssessment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE deadline_id = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`, deadlineID, limit)
	if err != nil {
		return nil, fmt.Errorf("query assessment history: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountByLevel aggregates current assessments per risk level
func (r *AssessmentRepo) CountByLevel(ctx context.Context) (map[domain.RiskLevel]int, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT risk_level, COUNT(*)
		FROM risk_assessments
		WHERE superseded_by IS NULL
		GROUP BY risk_level
	`)
	if err != nil {
		return nil, fmt.Errorf("count assessments by level: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.RiskLevel]int)
	for rows.Next() {
		var level domain.RiskLevel
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		out[level] = count
	}
	return out, rows.Err()
}

func scanAssessment(row pgx.Row) (*domain.RiskAssessment, error) {
	var (
		a       domain.RiskAssessment
		factors []byte
	)
	err := row.Scan(&a.ID, &a.DeadlineID, &a.RiskScore, &a.RiskLevel, &factors,
		&a.Overridden, &a.ComputedAt, &a.SupersededBy)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(factors, &a.Factors); err != nil {
		return nil, fmt.Errorf("unmarshal risk factors: %w", err)
	}
	return &a, nil
}
