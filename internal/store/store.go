// Package store holds the persistence collaborator used by the hub:
// three append/query collections for chat history, admin audit entries,
// and per-IP reputation verdicts. The hub never inspects how an
// implementation lays the data out.
package store

import (
	"context"
	"time"
)

// IPStatus is the persisted reputation verdict for an address.
type IPStatus string

const (
	IPAllowed IPStatus = "ALLOWED"
	IPBanned  IPStatus = "BANNED"
)

// ChatEntry is one raw chat message exactly as the sender submitted it.
type ChatEntry struct {
	SessionID  uint32
	PlayerName string
	IP         string
	Timestamp  time.Time
	Message    string
	AdminToken string
}

// AdminEntry is one audited admin command attempt.
type AdminEntry struct {
	Token     string
	RoomID    string
	Timestamp time.Time
	Command   string
	Args      string
}

// IPEntry records the verdict for one address.
type IPEntry struct {
	IP     string
	Status IPStatus
	Reason string
}

// Store is the persistence surface the hub depends on.
type Store interface {
	AppendChat(ctx context.Context, entry ChatEntry) error
	ChatsBetween(ctx context.Context, from, to time.Time) ([]ChatEntry, error)
	PurgeChatsBefore(ctx context.Context, cutoff time.Time) (int, error)

	AppendAdminCommand(ctx context.Context, entry AdminEntry) error
	AdminCommands(ctx context.Context) ([]AdminEntry, error)

	IPStatus(ctx context.Context, ip string) (IPEntry, bool, error)
	SetIPStatus(ctx context.Context, entry IPEntry) error
}
