package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"flagfall/server/internal/net/proto"
	"flagfall/server/internal/store"
	"flagfall/server/logging"
	chatlog "flagfall/server/logging/chat"
)

// ErrInvalidToken rejects admin surface calls with an unknown token.
var ErrInvalidToken = errors.New("invalid admin token")

// runAdminCommand executes one in-band admin command. The caller has
// already verified the token. Every attempt is audited, recognized or
// not.
func (h *Hub) runAdminCommand(ctx context.Context, line, token, roomID string) {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	name = strings.ToUpper(name)
	args = strings.TrimSpace(args)

	h.auditCommand(ctx, token, roomID, name, args)
	chatlog.AdminCommand(ctx, h.publisher, h.currentTick(), logging.RoomRef(roomID),
		chatlog.CommandPayload{Command: name, Args: args})

	switch name {
	case "ANNOUNCEMENT":
		h.BroadcastAnnouncement(roomID, args)
	default:
		h.logger.Printf("unknown admin command %q", name)
	}
}

func (h *Hub) auditCommand(ctx context.Context, token, roomID, command, args string) {
	entry := store.AdminEntry{
		Token:     token,
		RoomID:    roomID,
		Timestamp: h.clock.Now(),
		Command:   command,
		Args:      args,
	}
	go func() {
		if err := h.store.AppendAdminCommand(ctx, entry); err != nil {
			h.logger.Printf("append admin audit: %v", err)
		}
	}()
}

func (h *Hub) currentTick() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// BroadcastAnnouncement shows text to every player in one room for
// the standard display duration.
func (h *Hub) BroadcastAnnouncement(roomID, text string) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	subs := h.roomSubscribersLocked(room)
	h.mu.Unlock()

	data, err := proto.EncodeUncompressed(proto.Announcement{
		Message: text,
		Timer:   announcementTimer,
	})
	if err != nil {
		h.logger.Printf("encode announcement: %v", err)
		return
	}
	fanOut(subs, data)
}

// BanIP marks an address banned and force-disconnects every session
// it currently holds. Drives the ban HTTP surface.
func (h *Hub) BanIP(ctx context.Context, token, ip string) error {
	if !h.ValidToken(token) {
		return ErrInvalidToken
	}
	h.auditCommand(ctx, token, "", "BAN", ip)
	if err := h.store.SetIPStatus(ctx, store.IPEntry{IP: ip, Status: store.IPBanned, Reason: "manual"}); err != nil {
		return err
	}
	h.kickIP(ip)
	return nil
}

// AllowIP clears a ban. Existing connections are unaffected.
func (h *Hub) AllowIP(ctx context.Context, token, ip string) error {
	if !h.ValidToken(token) {
		return ErrInvalidToken
	}
	h.auditCommand(ctx, token, "", "ALLOW", ip)
	return h.store.SetIPStatus(ctx, store.IPEntry{IP: ip, Status: store.IPAllowed, Reason: "manual"})
}

// kickIP closes every live session from one address.
func (h *Hub) kickIP(ip string) {
	h.mu.Lock()
	var subs []*subscriber
	if rec, ok := h.ips[ip]; ok {
		ids := make([]uint32, 0, len(rec.sessions))
		for id := range rec.sessions {
			ids = append(ids, id)
		}
		for _, id := range ids {
			if sub := h.removeSessionLocked(id); sub != nil {
				subs = append(subs, sub)
			}
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// ChatLog returns persisted chats inside [from, to]. Drives the
// chat-log HTTP surface.
func (h *Hub) ChatLog(ctx context.Context, token string, from, to int64) ([]store.ChatEntry, error) {
	if !h.ValidToken(token) {
		return nil, ErrInvalidToken
	}
	return h.store.ChatsBetween(ctx, unixTime(from), unixTime(to))
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// AdminLog returns the full audit trail.
func (h *Hub) AdminLog(ctx context.Context, token string) ([]store.AdminEntry, error) {
	if !h.ValidToken(token) {
		return nil, ErrInvalidToken
	}
	return h.store.AdminCommands(ctx)
}
