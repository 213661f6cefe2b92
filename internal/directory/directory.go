// Package directory adapts the external user/recipient directory
// collaborator. The engine never owns recipient data; it only resolves
// abstract references (role, department, stakeholder set) into concrete
// addressable targets.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/compliance/deadline-engine/internal/domain"
)

// Directory resolves recipient references into concrete recipients
type Directory interface {
	ResolveRecipients(ctx context.Context, t domain.RecipientType, ref string) ([]domain.Recipient, error)
}

// Static is an in-memory directory used by tests and local runs. Production
// deployments plug in an adapter over the institution's user service.
type Static struct {
	mu         sync.RWMutex
	recipients map[uuid.UUID]domain.Recipient
}

// NewStatic creates an empty static directory
func NewStatic() *Static {
	return &Static{recipients: make(map[uuid.UUID]domain.Recipient)}
}

// Add registers a recipient
func (s *Static) Add(r domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[r.ID] = r
}

func (s *Static) ResolveRecipients(ctx context.Context, t domain.RecipientType, ref string) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Recipient
	switch t {
	case domain.RecipientIndividual:
		id, err := uuid.Parse(ref)
		if err != nil {
			return nil, domain.WrapDomainError(domain.KindRecipientResolution, "recipient", "invalid individual ref "+ref, err)
		}
		if r, ok := s.recipients[id]; ok {
			out = append(out, r)
		}
	case domain.RecipientRole:
		for _, r := range s.recipients {
			if strings.EqualFold(r.Role, ref) {
				out = append(out, r)
			}
		}
	case domain.RecipientDepartment:
		for _, r := range s.recipients {
			if strings.EqualFold(r.Department, ref) {
				out = append(out, r)
			}
		}
	case domain.RecipientAllStakeholders:
		for _, r := range s.recipients {
			out = append(out, r)
		}
	}
	return out, nil
}
