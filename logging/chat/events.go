// Package chat defines the structured events emitted by the chat and
// moderation pipeline.
package chat

import (
	"context"

	"flagfall/server/logging"
)

const (
	// EventAccepted is emitted when a moderated message is broadcast.
	EventAccepted logging.EventType = "chat.accepted"
	// EventRateLimited is emitted when a sender is over cooldown.
	EventRateLimited logging.EventType = "chat.rate_limited"
	// EventModerationFailed is emitted when the moderation collaborator errors.
	EventModerationFailed logging.EventType = "chat.moderation_failed"
	// EventNameRejected is emitted when a name registration is refused.
	EventNameRejected logging.EventType = "chat.name_rejected"
	// EventAdminCommand is emitted for every authorized admin command attempt.
	EventAdminCommand logging.EventType = "chat.admin_command"
)

// MessagePayload carries the broadcast text alongside the raw length.
type MessagePayload struct {
	RawLength int    `json:"rawLength"`
	Text      string `json:"text,omitempty"`
}

// CommandPayload captures an admin command invocation.
type CommandPayload struct {
	Command string `json:"command"`
	Args    string `json:"args,omitempty"`
}

func Accepted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, room logging.EntityRef, payload MessagePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAccepted,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{room},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryChat,
		Payload:  payload,
	})
}

func RateLimited(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRateLimited,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryChat,
	})
}

func ModerationFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, err error) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventModerationFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryChat,
	}
	if err != nil {
		event = event.WithExtra("error", err.Error())
	}
	pub.Publish(ctx, event)
}

func NameRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventNameRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryChat,
		Payload:  map[string]string{"reason": reason},
	})
}

func AdminCommand(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload CommandPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAdminCommand,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindServer},
		Targets:  []logging.EntityRef{room},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryChat,
		Payload:  payload,
	})
}
