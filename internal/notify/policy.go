package notify

import (
	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/domain"
)

// ChannelPolicy maps a risk level to the notification shape it produces
type ChannelPolicy struct {
	Type             domain.NotificationType
	Priority         domain.NotificationPriority
	Channels         []domain.Channel
	RequiresResponse bool
}

// Policy decides what a risk assessment turns into. The defaults mirror the
// dashboard behavior: critical risk fans out across email, sms, and push and
// demands acknowledgment; low risk stays in-app only.
type Policy struct {
	byLevel map[domain.RiskLevel]ChannelPolicy
}

// DefaultPolicy returns the standard risk-to-notification mapping
func DefaultPolicy() *Policy {
	return &Policy{
		byLevel: map[domain.RiskLevel]ChannelPolicy{
			domain.RiskLevelCritical: {
				Type:             domain.NotificationRiskAlert,
				Priority:         domain.PriorityCritical,
				Channels:         []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush},
				RequiresResponse: true,
			},
			domain.RiskLevelHigh: {
				Type:             domain.NotificationRiskAlert,
				Priority:         domain.PriorityHigh,
				Channels:         []domain.Channel{domain.ChannelEmail, domain.ChannelPush},
				RequiresResponse: true,
			},
			domain.RiskLevelMedium: {
				Type:     domain.NotificationDeadlineReminder,
				Priority: domain.PriorityMedium,
				Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelInApp},
			},
			domain.RiskLevelLow: {
				Type:     domain.NotificationStatusUpdate,
				Priority: domain.PriorityLow,
				Channels: []domain.Channel{domain.ChannelInApp},
			},
		},
	}
}

// ForLevel returns the channel policy for a risk level
func (p *Policy) ForLevel(level domain.RiskLevel) ChannelPolicy {
	if cp, ok := p.byLevel[level]; ok {
		return cp
	}
	return p.byLevel[domain.RiskLevelLow]
}

// EscalationTarget names the recipient tier an escalation should address
type EscalationTarget struct {
	RecipientType domain.RecipientType
	RecipientRef  string
}

// EscalationTargetResolver decides who an escalation successor targets.
// Whether escalation goes to a manager, a fixed compliance role, or a whole
// department is deployment policy, so it is a hook rather than a rule.
type EscalationTargetResolver interface {
	NextTarget(original *domain.AlertNotification) EscalationTarget
}

// TierLadderResolver promotes individual -> role -> department, the default
// escalation ladder. Role and department names come from configuration.
type TierLadderResolver struct {
	Role       string
	Department string
}

// NewTierLadderResolver builds the default resolver from escalation config
func NewTierLadderResolver(cfg *config.EscalationConfig) *TierLadderResolver {
	return &TierLadderResolver{Role: cfg.EscalationRole, Department: cfg.EscalationDepartment}
}

func (r *TierLadderResolver) NextTarget(original *domain.AlertNotification) EscalationTarget {
	switch original.RecipientType {
	case domain.RecipientIndividual:
		return EscalationTarget{RecipientType: domain.RecipientRole, RecipientRef: r.Role}
	case domain.RecipientRole:
		return EscalationTarget{RecipientType: domain.RecipientDepartment, RecipientRef: r.Department}
	default:
		return EscalationTarget{RecipientType: domain.RecipientAllStakeholders, RecipientRef: "stakeholders"}
	}
}
