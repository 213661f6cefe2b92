package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/compliance/deadline-engine/internal/domain"
)

// SendRequest is one provider call for one channel of a notification
type SendRequest struct {
	NotificationID uuid.UUID
	// AttemptKey deduplicates this exact attempt; providers must be
	// idempotent-safe given the same key.
	AttemptKey string
	Contact    string // channel-specific address
	Recipient  domain.Recipient
	Subject    string
	Message    string
	Priority   domain.NotificationPriority
}

// SendResult is a successful provider response
type SendResult struct {
	ProviderMessageID string
}

// ChannelProvider is the capability interface for one delivery medium.
// Adding a channel means adding an implementation and registering it, not
// editing a switch.
type ChannelProvider interface {
	Kind() domain.Channel
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// ProviderRegistry is the lookup table of channel providers
type ProviderRegistry struct {
	providers map[domain.Channel]ChannelProvider
}

// NewProviderRegistry creates an empty registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[domain.Channel]ChannelProvider)}
}

// Register adds a provider for its channel kind, replacing any previous one
func (r *ProviderRegistry) Register(p ChannelProvider) {
	r.providers[p.Kind()] = p
}

// Get returns the provider for a channel
func (r *ProviderRegistry) Get(c domain.Channel) (ChannelProvider, bool) {
	p, ok := r.providers[c]
	return p, ok
}

// Kinds returns the registered channel kinds
func (r *ProviderRegistry) Kinds() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.providers))
	for c := range r.providers {
		out = append(out, c)
	}
	return out
}
