package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danyuan/approvalflow/internal/application/dispatcher"
	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/domain/entity"
	"github.com/danyuan/approvalflow/internal/domain/event"
)

// NotificationService records delivery intents for engine events. Actual
// delivery is an external collaborator's concern; this service resolves the
// recipient role list, persists it, and logs it.
type NotificationService interface {
	// HandleEvent is a dispatcher.Handler
	HandleEvent(ctx context.Context, evt *event.Event) error

	// Register subscribes the service to every engine event type
	Register(d dispatcher.Dispatcher)
}

type notificationServiceImpl struct {
	requestRepo      port.RequestRepository
	templateRepo     port.TemplateRepository
	notificationRepo port.NotificationRepository
	logger           Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	requestRepo port.RequestRepository,
	templateRepo port.TemplateRepository,
	notificationRepo port.NotificationRepository,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		requestRepo:      requestRepo,
		templateRepo:     templateRepo,
		notificationRepo: notificationRepo,
		logger:           logger,
	}
}

// Register subscribes the service to every engine event type
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeSubmitted,
		event.TypeApproved,
		event.TypeRejected,
		event.TypeCancelled,
		event.TypeEscalated,
		event.TypeOverdue,
	} {
		d.SubscribeNamed(t, "notification-recorder", s.HandleEvent)
	}
}

// HandleEvent resolves recipients and records a notification row
func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	roles := s.resolveRecipients(ctx, evt)

	notification := &entity.Notification{
		RequestID:      evt.RequestID,
		EventType:      evt.Type.String(),
		StepID:         evt.StepID,
		RecipientRoles: strings.Join(roles, ","),
		Message:        describeEvent(evt),
		CreatedAt:      time.Now(),
	}

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		s.logger.Error("Failed to record notification",
			"error", err,
			"request_id", evt.RequestID,
			"event_type", evt.Type)
		return err
	}

	s.logger.Info("Notification recorded",
		"request_id", evt.RequestID,
		"event_type", evt.Type,
		"step_id", evt.StepID,
		"recipient_roles", notification.RecipientRoles)

	return nil
}

// resolveRecipients combines the engine-supplied roles with any extra roles
// the originating template maps to this event name. Template lookup failures
// degrade to the engine-supplied roles; they never fail the notification.
func (s *notificationServiceImpl) resolveRecipients(ctx context.Context, evt *event.Event) []string {
	roles := append([]string{}, evt.RecipientRoles...)

	request, err := s.requestRepo.GetByID(ctx, evt.RequestID)
	if err != nil {
		s.logger.Warn("Could not load request for notification routing",
			"request_id", evt.RequestID, "error", err)
		return roles
	}

	template, err := s.templateRepo.GetByID(ctx, request.TemplateID)
	if err != nil {
		return roles
	}

	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		seen[r] = true
	}
	for _, r := range template.NotificationRoles[evt.Type.String()] {
		if !seen[r] {
			roles = append(roles, r)
			seen[r] = true
		}
	}

	return roles
}

func describeEvent(evt *event.Event) string {
	switch evt.Type {
	case event.TypeSubmitted:
		return fmt.Sprintf("request %s submitted, awaiting step %s", evt.RequestID, evt.StepID)
	case event.TypeApproved:
		if evt.GetPayloadBool("skipped") {
			return fmt.Sprintf("optional step %s of request %s skipped on timeout", evt.StepID, evt.RequestID)
		}
		return fmt.Sprintf("step %s of request %s approved", evt.StepID, evt.RequestID)
	case event.TypeRejected:
		return fmt.Sprintf("request %s rejected at step %s", evt.RequestID, evt.StepID)
	case event.TypeCancelled:
		return fmt.Sprintf("request %s cancelled", evt.RequestID)
	case event.TypeEscalated:
		return fmt.Sprintf("step %s of request %s escalated after deadline lapse", evt.StepID, evt.RequestID)
	case event.TypeOverdue:
		return fmt.Sprintf("step %s of request %s is overdue with no escalation path", evt.StepID, evt.RequestID)
	default:
		return fmt.Sprintf("event %s for request %s", evt.Type, evt.RequestID)
	}
}
