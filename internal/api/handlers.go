package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/compliance/deadline-engine/internal/dispatch"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/escalate"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/risk"
	"github.com/compliance/deadline-engine/internal/store"
)

// Handler implements the dashboard endpoints
type Handler struct {
	scorer        *risk.Scorer
	composer      *notify.Composer
	dispatcher    *dispatch.Dispatcher
	escalator     *escalate.Manager
	deadlines     store.DeadlineStore
	assessments   store.AssessmentRepository
	notifications store.NotificationRepository
	clock         clockwork.Clock
	log           *logger.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// httpError maps domain error kinds onto HTTP statuses
func httpError(c echo.Context, err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Kind {
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindValidation:
			status = http.StatusBadRequest
		case domain.KindConflict, domain.KindEscalationExhausted:
			status = http.StatusConflict
		case domain.KindDataUnavailable:
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, errorResponse{Error: de.Error(), Kind: string(de.Kind)})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.NewDomainError(domain.KindValidation, "request", "invalid id: "+c.Param("id"))
	}
	return id, nil
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CurrentRisk returns the current (non-superseded) assessment for a deadline
func (h *Handler) CurrentRisk(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	assessment, err := h.assessments.Latest(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, assessment)
}

// RiskHistory returns up to limit assessments for a deadline, newest first
func (h *Handler) RiskHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return httpError(c, domain.NewDomainError(domain.KindValidation, "request", "invalid limit: "+raw))
		}
		limit = parsed
	}
	history, err := h.assessments.History(c.Request().Context(), id, limit)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"deadline_id": id,
		"assessments": history,
	})
}

// RunAssessment re-scores one deadline on demand
func (h *Handler) RunAssessment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	assessment, err := h.scorer.ScoreDeadline(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, assessment)
}

func (h *Handler) ListNotifications(c echo.Context) error {
	filter := domain.NotificationFilter{
		Status:   domain.NotificationStatus(c.QueryParam("status")),
		Priority: domain.NotificationPriority(c.QueryParam("priority")),
		Channel:  domain.Channel(c.QueryParam("channel")),
		Type:     domain.NotificationType(c.QueryParam("type")),
	}
	if raw := c.QueryParam("deadline_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httpError(c, domain.NewDomainError(domain.KindValidation, "request", "invalid deadline_id: "+raw))
		}
		filter.DeadlineID = &id
	}
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return httpError(c, domain.NewDomainError(domain.KindValidation, "request", "invalid limit: "+raw))
		}
		filter.Limit = parsed
	}

	list, err := h.notifications.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(c, err)
	}
	summaries := make([]*domain.NotificationSummary, 0, len(list))
	for i := range list {
		summaries = append(summaries, list[i].ToSummary())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"notifications": summaries,
		"count":         len(summaries),
	})
}

func (h *Handler) GetNotification(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	n, err := h.notifications.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

// SendNotification validates and persists an explicit notification request.
// Created rows are picked up by the next dispatch pass.
func (h *Handler) SendNotification(c echo.Context) error {
	var req domain.SendNotificationRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, domain.NewDomainError(domain.KindValidation, "request", "malformed body"))
	}
	created, err := h.composer.ComposeRequest(c.Request().Context(), &req)
	if err != nil {
		return httpError(c, err)
	}
	summaries := make([]*domain.NotificationSummary, 0, len(created))
	for i := range created {
		summaries = append(summaries, created[i].ToSummary())
	}
	return c.JSON(http.StatusCreated, map[string]any{"notifications": summaries})
}

// ResendNotification forces an immediate dispatch attempt. A failed
// notification is rescheduled first; terminal notifications are rejected.
func (h *Handler) ResendNotification(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	ctx := c.Request().Context()

	n, err := h.notifications.Get(ctx, id)
	if err != nil {
		return httpError(c, err)
	}
	if n.IsTerminal() {
		return httpError(c, domain.NewDomainError(domain.KindConflict, "notification",
			"cannot resend a "+string(n.Status)+" notification"))
	}

	if n.Status == domain.StatusFailed {
		now := h.clock.Now()
		if err := n.Transition(domain.StatusScheduled, now); err != nil {
			return httpError(c, err)
		}
		n.ScheduledFor = &now
		if err := h.notifications.Update(ctx, n, domain.StatusFailed); err != nil {
			return httpError(c, err)
		}
	}

	outcome, err := h.dispatcher.Dispatch(ctx, id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

type acknowledgeRequest struct {
	Note string `json:"note,omitempty"`
}

// AcknowledgeNotification records the recipient's response and closes the
// escalation flow for this notification.
func (h *Handler) AcknowledgeNotification(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	var req acknowledgeRequest
	// Body is optional
	_ = c.Bind(&req)

	ctx := c.Request().Context()
	n, err := h.notifications.Get(ctx, id)
	if err != nil {
		return httpError(c, err)
	}

	prev := n.Status
	if err := n.Transition(domain.StatusAcknowledged, h.clock.Now()); err != nil {
		return httpError(c, err)
	}
	n.ResponseNote = req.Note
	if err := h.notifications.Update(ctx, n, prev); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

// EscalateNotification triggers a manual escalation
func (h *Handler) EscalateNotification(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return httpError(c, err)
	}
	successor, err := h.escalator.Escalate(c.Request().Context(), id, "manual escalation request")
	if err != nil {
		return httpError(c, err)
	}
	if successor == nil {
		return c.JSON(http.StatusOK, map[string]any{"escalated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"escalated": true,
		"successor": successor.ToSummary(),
	})
}

// Summary returns the dashboard widget aggregates
func (h *Handler) Summary(c echo.Context) error {
	ctx := c.Request().Context()

	byLevel, err := h.assessments.CountByLevel(ctx)
	if err != nil {
		return httpError(c, err)
	}
	byStatus, err := h.notifications.CountByStatus(ctx)
	if err != nil {
		return httpError(c, err)
	}
	byPriority, err := h.notifications.CountByPriority(ctx)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"risk_levels":             byLevel,
		"notification_statuses":   byStatus,
		"notification_priorities": byPriority,
	})
}
