// Package network defines the structured events emitted by the
// connection gateway.
package network

import (
	"context"

	"flagfall/server/logging"
)

const (
	// EventProtocolViolation is emitted when an inbound frame fails to
	// decode or names an unknown message kind.
	EventProtocolViolation logging.EventType = "network.protocol_violation"
	// EventUpgradeRejected is emitted when an upgrade request is refused.
	EventUpgradeRejected logging.EventType = "network.upgrade_rejected"
	// EventForcedClose is emitted when the validity sweep closes a session.
	EventForcedClose logging.EventType = "network.forced_close"
)

// ViolationPayload describes the offending frame.
type ViolationPayload struct {
	Detail string `json:"detail"`
	Bytes  int    `json:"bytes,omitempty"`
}

// RejectPayload describes why an upgrade was refused.
type RejectPayload struct {
	Reason string `json:"reason"`
	Status int    `json:"status"`
}

func ProtocolViolation(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ViolationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventProtocolViolation,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func UpgradeRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RejectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUpgradeRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func ForcedClose(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventForcedClose,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}
