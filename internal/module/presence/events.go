package presence

import (
	"go.uber.org/zap"

	"github.com/schemastudio/server/internal/shared/events"
)

// EventHandler forwards collaboration membership events to the hub so every
// editor connected to the workspace sees the roster change in real time.
type EventHandler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewEventHandler creates a new presence event handler.
func NewEventHandler(hub *Hub, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		hub:    hub,
		logger: logger,
	}
}

// Handles returns the list of event types this handler can process.
func (h *EventHandler) Handles() []string {
	return []string{
		events.MemberAddedType,
		events.MemberApprovedType,
		events.MemberRemovedType,
	}
}

// Handle processes the given event.
func (h *EventHandler) Handle(event events.Event) error {
	switch e := event.(type) {
	case *events.MemberAddedEvent:
		h.hub.NotifyMembership(e.WorkspaceID, MessageMemberAdded, MemberEvent{
			MemberID: e.MemberID.String(),
			Username: e.Username,
			Role:     e.Role,
			JoinedAt: e.JoinedAt,
		})
	case *events.MemberApprovedEvent:
		h.hub.NotifyMembership(e.WorkspaceID, MessageMemberApproved, MemberEvent{
			MemberID:   e.MemberID.String(),
			Username:   e.Username,
			Role:       e.Role,
			ApprovedAt: e.ApprovedAt,
		})
	case *events.MemberRemovedEvent:
		h.hub.NotifyMembership(e.WorkspaceID, MessageMemberRemoved, MemberEvent{
			MemberID: e.MemberID.String(),
			Username: e.Username,
		})
	default:
		h.logger.Warn("unhandled event type",
			zap.String("event_type", event.EventType()),
		)
	}
	return nil
}
