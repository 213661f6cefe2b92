package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
)

// SimulatedProvider is a channel provider for local runs and tests. It logs
// the send instead of calling a real gateway and supports scripted failures
// and latency injection.
type SimulatedProvider struct {
	kind    domain.Channel
	log     *logger.Logger
	latency time.Duration

	mu       sync.Mutex
	failNext int  // fail this many upcoming sends
	failAll  bool // fail every send until cleared
	sent     []SendRequest
}

// NewSimulatedProvider creates a provider for the given channel kind
func NewSimulatedProvider(kind domain.Channel, log *logger.Logger) *SimulatedProvider {
	return &SimulatedProvider{kind: kind, log: log.Named("provider_" + string(kind))}
}

// SetLatency injects artificial latency per send
func (p *SimulatedProvider) SetLatency(d time.Duration) { p.latency = d }

// FailNext makes the next n sends fail
func (p *SimulatedProvider) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

// FailAll makes every send fail until called with false
func (p *SimulatedProvider) FailAll(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAll = fail
}

// Sent returns a copy of the successfully sent requests
func (p *SimulatedProvider) Sent() []SendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SendRequest(nil), p.sent...)
}

func (p *SimulatedProvider) Kind() domain.Channel { return p.kind }

func (p *SimulatedProvider) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.latency):
		}
	}

	p.mu.Lock()
	fail := p.failAll
	if !fail && p.failNext > 0 {
		p.failNext--
		fail = true
	}
	if !fail {
		p.sent = append(p.sent, req)
	}
	p.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("simulated %s gateway failure", p.kind)
	}

	p.log.Debug("simulated send",
		logger.StringField("notification_id", req.NotificationID.String()),
		logger.StringField("contact", req.Contact),
		logger.StringField("attempt_key", req.AttemptKey),
	)
	return &SendResult{ProviderMessageID: "sim-" + uuid.NewString()}, nil
}

// NewSimulatedRegistry registers a simulated provider for every channel kind
func NewSimulatedRegistry(log *logger.Logger) *ProviderRegistry {
	registry := NewProviderRegistry()
	for _, kind := range domain.AllChannels {
		registry.Register(NewSimulatedProvider(kind, log))
	}
	return registry
}
