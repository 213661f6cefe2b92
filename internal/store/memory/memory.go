// Package memory provides in-memory store implementations used by tests and
// local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliance/deadline-engine/internal/domain"
)

// DeadlineStore is an in-memory read model of external deadlines.
type DeadlineStore struct {
	mu        sync.RWMutex
	deadlines map[uuid.UUID]domain.ComplianceDeadline
	// unavailable simulates unreadable source records for failure tests
	unavailable map[uuid.UUID]bool
}

func NewDeadlineStore() *DeadlineStore {
	return &DeadlineStore{
		deadlines:   make(map[uuid.UUID]domain.ComplianceDeadline),
		unavailable: make(map[uuid.UUID]bool),
	}
}

// Put inserts or replaces a deadline record
func (s *DeadlineStore) Put(d domain.ComplianceDeadline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[d.ID] = d
}

// SetUnavailable makes GetDeadline fail for id, simulating a source outage
func (s *DeadlineStore) SetUnavailable(id uuid.UUID, unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[id] = unavailable
}

func (s *DeadlineStore) GetDeadline(ctx context.Context, id uuid.UUID) (*domain.ComplianceDeadline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable[id] {
		return nil, domain.NewDomainError(domain.KindDataUnavailable, "deadline", "source record unreadable")
	}
	d, ok := s.deadlines[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := d
	return &out, nil
}

func (s *DeadlineStore) ListDeadlines(ctx context.Context, filter domain.DeadlineFilter) ([]domain.ComplianceDeadline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Unavailable rows still show up in listings; only the detail read
	// fails, mirroring a source whose index outlives its records.
	var out []domain.ComplianceDeadline
	for _, d := range s.deadlines {
		if !matchesDeadline(d, filter) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func matchesDeadline(d domain.ComplianceDeadline, f domain.DeadlineFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if d.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Priority != "" && d.Priority != f.Priority {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.DueBefore != nil && !d.DueAt.Before(*f.DueBefore) {
		return false
	}
	if f.OwnerID != nil && d.OwnerID != *f.OwnerID {
		return false
	}
	return true
}

// AssessmentRepository keeps immutable assessment rows in memory.
type AssessmentRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*domain.RiskAssessment
	// latest tracks the current row per deadline
	latest map[uuid.UUID]uuid.UUID
}

func NewAssessmentRepository() *AssessmentRepository {
	return &AssessmentRepository{
		rows:   make(map[uuid.UUID]*domain.RiskAssessment),
		latest: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *AssessmentRepository) Insert(ctx context.Context, a *domain.RiskAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := cloneAssessment(a)
	if prevID, ok := r.latest[a.DeadlineID]; ok {
		if prev, ok := r.rows[prevID]; ok {
			id := cp.ID
			prev.SupersededBy = &id
		}
	}
	r.rows[cp.ID] = cp
	r.latest[cp.DeadlineID] = cp.ID
	return nil
}

func (r *AssessmentRepository) Latest(ctx context.Context, deadlineID uuid.UUID) (*domain.RiskAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.latest[deadlineID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAssessment(r.rows[id]), nil
}

func (r *AssessmentRepository) History(ctx context.Context, deadlineID uuid.UUID, limit int) ([]domain.RiskAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RiskAssessment
	for _, a := range r.rows {
		if a.DeadlineID == deadlineID {
			out = append(out, *cloneAssessment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComputedAt.After(out[j].ComputedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AssessmentRepository) CountByLevel(ctx context.Context) (map[domain.RiskLevel]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.RiskLevel]int)
	for _, id := range r.latest {
		counts[r.rows[id].RiskLevel]++
	}
	return counts, nil
}

func cloneAssessment(a *domain.RiskAssessment) *domain.RiskAssessment {
	cp := *a
	cp.Factors = append([]domain.RiskFactor(nil), a.Factors...)
	if a.SupersededBy != nil {
		id := *a.SupersededBy
		cp.SupersededBy = &id
	}
	return &cp
}

// NotificationRepository keeps alert notifications in memory with the same
// optimistic status guard the postgres implementation enforces.
type NotificationRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*domain.AlertNotification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{rows: make(map[uuid.UUID]*domain.AlertNotification)}
}

func (r *NotificationRepository) Insert(ctx context.Context, n *domain.AlertNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[n.ID]; exists {
		return domain.NewDomainError(domain.KindConflict, "notification", "duplicate id")
	}
	r.rows[n.ID] = cloneNotification(n)
	return nil
}

func (r *NotificationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (r *NotificationRepository) Update(ctx context.Context, n *domain.AlertNotification, expectStatus domain.NotificationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expectStatus {
		return domain.ErrStaleTransition
	}
	r.rows[n.ID] = cloneNotification(n)
	return nil
}

func (r *NotificationRepository) List(ctx context.Context, filter domain.NotificationFilter) ([]domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AlertNotification
	for _, n := range r.rows {
		if !matchesNotification(n, filter) {
			continue
		}
		out = append(out, *cloneNotification(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesNotification(n *domain.AlertNotification, f domain.NotificationFilter) bool {
	if f.DeadlineID != nil && n.DeadlineID != *f.DeadlineID {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.Type != "" && n.NotificationType != f.Type {
		return false
	}
	if f.Channel != "" {
		found := false
		for _, c := range n.Channels {
			if c == f.Channel {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *NotificationRepository) FindUnresolved(ctx context.Context, deadlineID uuid.UUID, t domain.NotificationType) ([]domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AlertNotification
	for _, n := range r.rows {
		if n.DeadlineID == deadlineID && n.NotificationType == t && !n.IsResolved() {
			out = append(out, *cloneNotification(n))
		}
	}
	return out, nil
}

func (r *NotificationRepository) Dispatchable(ctx context.Context, now time.Time) ([]domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AlertNotification
	for _, n := range r.rows {
		switch n.Status {
		case domain.StatusPending:
			out = append(out, *cloneNotification(n))
		case domain.StatusScheduled:
			if n.ScheduledFor == nil || !n.ScheduledFor.After(now) {
				out = append(out, *cloneNotification(n))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *NotificationRepository) AwaitingResponse(ctx context.Context) ([]domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AlertNotification
	for _, n := range r.rows {
		if n.AwaitingResponse() && n.EscalatedAt == nil {
			out = append(out, *cloneNotification(n))
		}
	}
	return out, nil
}

func (r *NotificationRepository) FailedForEscalation(ctx context.Context, maxRetries int) ([]domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AlertNotification
	for _, n := range r.rows {
		if n.Status == domain.StatusFailed && n.RetryCount >= maxRetries && n.EscalatedAt == nil {
			out = append(out, *cloneNotification(n))
		}
	}
	return out, nil
}

func (r *NotificationRepository) ActiveForDeadline(ctx context.Context, deadlineID uuid.UUID) ([]domain.AlertNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AlertNotification
	for _, n := range r.rows {
		if n.DeadlineID != deadlineID {
			continue
		}
		if n.Status == domain.StatusPending || n.Status == domain.StatusScheduled {
			out = append(out, *cloneNotification(n))
		}
	}
	return out, nil
}

func (r *NotificationRepository) CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.NotificationStatus]int)
	for _, n := range r.rows {
		counts[n.Status]++
	}
	return counts, nil
}

func (r *NotificationRepository) CountByPriority(ctx context.Context) (map[domain.NotificationPriority]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.NotificationPriority]int)
	for _, n := range r.rows {
		counts[n.Priority]++
	}
	return counts, nil
}

func cloneNotification(n *domain.AlertNotification) *domain.AlertNotification {
	cp := *n
	cp.Channels = append([]domain.Channel(nil), n.Channels...)
	cp.RiskAssessmentID = cloneUUIDPtr(n.RiskAssessmentID)
	cp.EscalatedFromID = cloneUUIDPtr(n.EscalatedFromID)
	cp.ScheduledFor = cloneTimePtr(n.ScheduledFor)
	cp.SentAt = cloneTimePtr(n.SentAt)
	cp.DeliveredAt = cloneTimePtr(n.DeliveredAt)
	cp.AcknowledgedAt = cloneTimePtr(n.AcknowledgedAt)
	cp.EscalatedAt = cloneTimePtr(n.EscalatedAt)
	return &cp
}

func cloneUUIDPtr(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
