// Package lifecycle defines the structured events emitted as sessions
// and rooms come and go.
package lifecycle

import (
	"context"

	"flagfall/server/logging"
)

const (
	// EventSessionOpened is emitted once a connection is accepted.
	EventSessionOpened logging.EventType = "lifecycle.session_opened"
	// EventSessionClosed is emitted when a session leaves for any reason.
	EventSessionClosed logging.EventType = "lifecycle.session_closed"
	// EventPlayerRegistered is emitted when a name registration succeeds.
	EventPlayerRegistered logging.EventType = "lifecycle.player_registered"
	// EventRoomCreated is emitted when a room is instantiated.
	EventRoomCreated logging.EventType = "lifecycle.room_created"
	// EventRoomDestroyed is emitted when the GC deletes an empty room.
	EventRoomDestroyed logging.EventType = "lifecycle.room_destroyed"
)

// SessionPayload carries connection-scoped details.
type SessionPayload struct {
	IP     string `json:"ip,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RoomPayload carries room-scoped details.
type RoomPayload struct {
	Level  int32 `json:"level"`
	Public bool  `json:"public"`
	Flags  int   `json:"flags,omitempty"`
}

func SessionOpened(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SessionPayload) {
	publish(ctx, pub, EventSessionOpened, tick, actor, nil, payload)
}

func SessionClosed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SessionPayload) {
	publish(ctx, pub, EventSessionClosed, tick, actor, nil, payload)
}

func PlayerRegistered(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, room logging.EntityRef, name string) {
	publish(ctx, pub, EventPlayerRegistered, tick, actor, []logging.EntityRef{room}, map[string]string{"name": name})
}

func RoomCreated(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload RoomPayload) {
	publish(ctx, pub, EventRoomCreated, tick, room, nil, payload)
}

func RoomDestroyed(ctx context.Context, pub logging.Publisher, tick uint64, room logging.EntityRef, payload RoomPayload) {
	publish(ctx, pub, EventRoomDestroyed, tick, room, nil, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, actor logging.EntityRef, targets []logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Targets:  targets,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
