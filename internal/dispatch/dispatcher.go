// Package dispatch delivers alert notifications across their requested
// channels, tracking per-attempt outcomes. Delivery follows the
// partial-success policy: one successful channel marks the notification
// delivered; only total failure feeds the retry and escalation path.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/directory"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store"
)

// AttemptKeyStore claims dispatch attempt keys so the same attempt is never
// delivered twice across scheduler passes or engine restarts.
type AttemptKeyStore interface {
	// Claim returns true if the key was newly claimed, false if it was
	// already claimed by an earlier attempt.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryAttemptKeys is an in-process attempt key store for tests and local runs
type MemoryAttemptKeys struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryAttemptKeys() *MemoryAttemptKeys {
	return &MemoryAttemptKeys{keys: make(map[string]struct{})}
}

func (m *MemoryAttemptKeys) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

// ChannelOutcome records the result of one provider call
type ChannelOutcome struct {
	Channel           domain.Channel `json:"channel"`
	Success           bool           `json:"success"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	DurationMs        int64          `json:"duration_ms"`
}

// Outcome summarizes one dispatch of a notification
type Outcome struct {
	NotificationID   uuid.UUID        `json:"notification_id"`
	Delivered        bool             `json:"delivered"`
	Skipped          bool             `json:"skipped"` // notification was no longer dispatchable
	RetryScheduled   bool             `json:"retry_scheduled"`
	RetriesExhausted bool             `json:"retries_exhausted"`
	Channels         []ChannelOutcome `json:"channels"`
}

// Dispatcher sends notifications through registered channel providers
type Dispatcher struct {
	notifications store.NotificationRepository
	registry      *ProviderRegistry
	directory     directory.Directory
	attemptKeys   AttemptKeyStore

	cfg   *config.DispatchConfig
	locks *lock.MutexMap
	clock clockwork.Clock
	log   *logger.Logger

	// breakers and semaphores are keyed by channel kind; a tripped breaker
	// or saturated channel fails fast instead of piling onto a sick provider
	breakers   map[domain.Channel]*gobreaker.CircuitBreaker
	channelSem map[domain.Channel]*semaphore.Weighted
	globalSem  *semaphore.Weighted

	tracer trace.Tracer
}

// NewDispatcher creates a dispatcher over the given provider registry
func NewDispatcher(
	notifications store.NotificationRepository,
	registry *ProviderRegistry,
	dir directory.Directory,
	attemptKeys AttemptKeyStore,
	cfg *config.DispatchConfig,
	locks *lock.MutexMap,
	clock clockwork.Clock,
	log *logger.Logger,
) *Dispatcher {
	d := &Dispatcher{
		notifications: notifications,
		registry:      registry,
		directory:     dir,
		attemptKeys:   attemptKeys,
		cfg:           cfg,
		locks:         locks,
		clock:         clock,
		log:           log.Named("dispatcher"),
		breakers:      make(map[domain.Channel]*gobreaker.CircuitBreaker),
		channelSem:    make(map[domain.Channel]*semaphore.Weighted),
		globalSem:     semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
		tracer:        otel.Tracer("deadline-engine/dispatch"),
	}
	for _, kind := range registry.Kinds() {
		d.breakers[kind] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "channel_" + string(kind),
			Timeout: cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFailures)
			},
		})
		d.channelSem[kind] = semaphore.NewWeighted(int64(cfg.PerChannelConcurrency))
	}
	return d
}

// Dispatch sends one notification across all its channels. The status
// transition is guarded so a concurrent cancellation discards the dispatch
// instead of overwriting it.
func (d *Dispatcher) Dispatch(ctx context.Context, notificationID uuid.UUID) (*Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.notification",
		trace.WithAttributes(attribute.String("notification.id", notificationID.String())))
	defer span.End()

	start := d.clock.Now()
	outcome := &Outcome{NotificationID: notificationID}

	n, claimed, err := d.claim(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		outcome.Skipped = true
		return outcome, nil
	}

	recipient, err := d.resolveRecipient(ctx, n)
	if err != nil {
		// Without a reachable recipient every channel fails; route through
		// the normal failure path so retry and escalation still apply.
		d.log.Warn("recipient resolution failed at dispatch",
			logger.StringField("notification_id", n.ID.String()),
			logger.ErrorField(err),
		)
	}

	outcome.Channels = d.fanOut(ctx, n, recipient)

	succeeded, failed := 0, 0
	var errs []string
	for _, ch := range outcome.Channels {
		if ch.Success {
			succeeded++
		} else {
			failed++
			if ch.Error != "" {
				errs = append(errs, string(ch.Channel)+": "+ch.Error)
			}
		}
	}

	if err := d.settle(ctx, n, outcome, succeeded, strings.Join(errs, "; ")); err != nil {
		return outcome, err
	}

	d.log.NotificationDispatched(n.ID.String(), outcome.Delivered, succeeded, failed,
		d.clock.Now().Sub(start).Milliseconds())
	return outcome, nil
}

// claim reloads the notification and moves it to sent, returning false when
// it is no longer dispatchable (cancelled, already handled, or raced).
func (d *Dispatcher) claim(ctx context.Context, id uuid.UUID) (*domain.AlertNotification, bool, error) {
	d.locks.Lock(id.String())
	defer d.locks.Unlock(id.String())

	n, err := d.notifications.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	prev := n.Status
	switch prev {
	case domain.StatusPending:
		if err := n.Transition(domain.StatusScheduled, d.clock.Now()); err != nil {
			return nil, false, err
		}
	case domain.StatusScheduled:
		if n.ScheduledFor != nil && n.ScheduledFor.After(d.clock.Now()) {
			return nil, false, nil
		}
	default:
		return nil, false, nil
	}

	if err := n.Transition(domain.StatusSent, d.clock.Now()); err != nil {
		return nil, false, err
	}
	if err := d.notifications.Update(ctx, n, prev); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			// Someone else transitioned the row first; their outcome wins.
			return nil, false, nil
		}
		return nil, false, err
	}
	return n, true, nil
}

func (d *Dispatcher) resolveRecipient(ctx context.Context, n *domain.AlertNotification) (*domain.Recipient, error) {
	recipients, err := d.directory.ResolveRecipients(ctx, domain.RecipientIndividual, n.RecipientID.String())
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, domain.NewDomainError(domain.KindRecipientResolution, "recipient", "recipient "+n.RecipientID.String()+" not found")
	}
	return &recipients[0], nil
}

// fanOut issues provider calls concurrently across channels, bounded by the
// per-channel and global concurrency limits.
func (d *Dispatcher) fanOut(ctx context.Context, n *domain.AlertNotification, recipient *domain.Recipient) []ChannelOutcome {
	outcomes := make([]ChannelOutcome, len(n.Channels))
	var wg sync.WaitGroup
	for i, channel := range n.Channels {
		wg.Add(1)
		go func(i int, channel domain.Channel) {
			defer wg.Done()
			outcomes[i] = d.sendOne(ctx, n, recipient, channel)
		}(i, channel)
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) sendOne(ctx context.Context, n *domain.AlertNotification, recipient *domain.Recipient, channel domain.Channel) ChannelOutcome {
	start := d.clock.Now()
	out := ChannelOutcome{Channel: channel}
	fail := func(err error) ChannelOutcome {
		out.Error = err.Error()
		out.DurationMs = d.clock.Now().Sub(start).Milliseconds()
		return out
	}

	provider, ok := d.registry.Get(channel)
	if !ok {
		return fail(fmt.Errorf("no provider registered for channel %s", channel))
	}

	if recipient == nil {
		return fail(domain.NewDomainError(domain.KindRecipientResolution, "recipient", "unresolvable recipient"))
	}
	contact := ""
	if channel != domain.ChannelInApp {
		var okContact bool
		contact, okContact = recipient.ContactFor(channel)
		if !okContact {
			return fail(fmt.Errorf("recipient has no %s contact", channel))
		}
	}

	if err := d.globalSem.Acquire(ctx, 1); err != nil {
		return fail(err)
	}
	defer d.globalSem.Release(1)
	if sem, ok := d.channelSem[channel]; ok {
		if err := sem.Acquire(ctx, 1); err != nil {
			return fail(err)
		}
		defer sem.Release(1)
	}

	attemptKey := fmt.Sprintf("%s:%d:%s", n.ID, n.RetryCount, channel)
	if d.attemptKeys != nil {
		claimed, err := d.attemptKeys.Claim(ctx, attemptKey, d.cfg.ProviderTimeout*10)
		if err != nil {
			// Dedup store outage must not block delivery; the provider side
			// dedup key still protects against doubles.
			d.log.Warn("attempt key store unavailable", logger.ErrorField(err))
		} else if !claimed {
			return fail(fmt.Errorf("attempt %s already claimed", attemptKey))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()

	breaker := d.breakers[channel]
	send := func() (interface{}, error) {
		return provider.Send(callCtx, SendRequest{
			NotificationID: n.ID,
			AttemptKey:     attemptKey,
			Contact:        contact,
			Recipient:      *recipient,
			Subject:        n.Subject,
			Message:        n.Message,
			Priority:       n.Priority,
		})
	}

	var result interface{}
	var err error
	if breaker != nil {
		result, err = breaker.Execute(send)
	} else {
		result, err = send()
	}
	out.DurationMs = d.clock.Now().Sub(start).Milliseconds()
	if err != nil {
		// Timeouts and tripped breakers are delivery failures, not crashes.
		out.Error = err.Error()
		return out
	}

	out.Success = true
	if res, ok := result.(*SendResult); ok && res != nil {
		out.ProviderMessageID = res.ProviderMessageID
	}
	return out
}

// settle applies the aggregate outcome: delivered on any success, otherwise
// failed with the retry counter bumped and either a backoff retry scheduled
// or the notification left for the escalation manager.
func (d *Dispatcher) settle(ctx context.Context, n *domain.AlertNotification, outcome *Outcome, succeeded int, errMsg string) error {
	d.locks.Lock(n.ID.String())
	defer d.locks.Unlock(n.ID.String())

	now := d.clock.Now()

	if succeeded > 0 {
		if err := n.Transition(domain.StatusDelivered, now); err != nil {
			return err
		}
		if err := d.notifications.Update(ctx, n, domain.StatusSent); err != nil {
			if domain.KindOf(err) == domain.KindConflict {
				// The notification reached a different state mid-flight;
				// discard this outcome.
				outcome.Skipped = true
				return nil
			}
			return err
		}
		outcome.Delivered = true
		return nil
	}

	if err := n.Transition(domain.StatusFailed, now); err != nil {
		return err
	}
	n.RetryCount++
	n.ErrorMessage = errMsg

	if n.RetryCount < d.cfg.MaxRetries {
		next := now.Add(d.backoff(n.RetryCount))
		if err := n.Transition(domain.StatusScheduled, now); err != nil {
			return err
		}
		n.ScheduledFor = &next
		outcome.RetryScheduled = true
		d.log.RetryScheduled(n.ID.String(), n.RetryCount, next)
	} else {
		outcome.RetriesExhausted = true
	}

	if err := d.notifications.Update(ctx, n, domain.StatusSent); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			outcome.Skipped = true
			return nil
		}
		return err
	}
	return nil
}

// backoff returns base * 2^retryCount, capped
func (d *Dispatcher) backoff(retryCount int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	return delay
}

// RecordProviderConfirmation applies an asynchronous provider delivery
// confirmation. Confirmations arriving after the notification reached a
// terminal state are ignored.
func (d *Dispatcher) RecordProviderConfirmation(ctx context.Context, notificationID uuid.UUID, providerMessageID string) error {
	d.locks.Lock(notificationID.String())
	defer d.locks.Unlock(notificationID.String())

	n, err := d.notifications.Get(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.IsTerminal() || n.Status != domain.StatusSent {
		d.log.Debug("ignoring late provider confirmation",
			logger.StringField("notification_id", notificationID.String()),
			logger.StringField("provider_message_id", providerMessageID),
		)
		return nil
	}
	if err := n.Transition(domain.StatusDelivered, d.clock.Now()); err != nil {
		return err
	}
	return d.notifications.Update(ctx, n, domain.StatusSent)
}
