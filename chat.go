package server

import (
	"context"
	"strings"

	"flagfall/server/internal/net/proto"
	"flagfall/server/internal/store"
	"flagfall/server/logging"
	chatlog "flagfall/server/logging/chat"
)

const rateLimitNotice = "Please wait a moment between chat messages."

// allowedChatPunct is the fixed punctuation whitelist.
const allowedChatPunct = `!@$^*(){}[];:'"\,./?-_=|<>`

// allowedChatEmoji is the fixed emoji whitelist, including the
// variation selector so client-composed heart sequences survive
// intact.
var allowedChatEmoji = map[rune]struct{}{
	'🙄':      {},
	'😫':      {},
	'🤔':      {},
	'🔥':      {},
	'😌':      {},
	'😍':      {},
	'🤣':      {},
	'❤': {}, // heavy black heart
	'️': {}, // variation selector-16
	'😭':      {},
	'😂':      {},
	'⭐':      {},
	'✨':      {},
	'🎄':      {},
	'🎃':      {},
	'🔺':      {},
	'🔻':      {},
	'🍬':      {},
	'🍭':      {},
	'🍫':      {},
}

func allowedChatRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == ' ':
		return true
	case strings.ContainsRune(allowedChatPunct, r):
		return true
	}
	_, ok := allowedChatEmoji[r]
	return ok
}

// sanitizeChat truncates to the wire limit and strips every rune
// outside the whitelist.
func sanitizeChat(text string) string {
	runes := []rune(text)
	if len(runes) > maxChatRunes {
		runes = runes[:maxChatRunes]
	}
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if allowedChatRune(r) {
			out = append(out, r)
		}
	}
	return string(out)
}

// HandleChat runs the chat pipeline for one inbound message: cooldown
// gate, admin-command routing, raw persistence, sanitize, moderation,
// broadcast. Persistence and moderation run off the hub lock; the
// completion re-validates the sender still exists before broadcasting.
func (h *Hub) HandleChat(ctx context.Context, id uint32, msg proto.Chat) {
	h.mu.Lock()
	roomID, ok := h.sessionRooms[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	_, player := h.roomPlayerLocked(id)
	if player == nil {
		h.mu.Unlock()
		return
	}
	tick := h.frame
	rec := h.ips[player.ip]

	if rec != nil && rec.chatCooldown > chatCooldownLimit {
		sub := player.sub
		h.mu.Unlock()
		h.metrics.Add("chat_rate_limited", 1)
		chatlog.RateLimited(ctx, h.publisher, tick, logging.PlayerRef(sessionRef(id)))
		h.sendMessage(sub, proto.Chat{
			Message: rateLimitNotice,
			Sender:  "Server",
		})
		return
	}

	if msg.Message == "" {
		h.mu.Unlock()
		return
	}

	if strings.HasPrefix(msg.Message, adminCommandPrefix) {
		authorized := h.ValidToken(msg.AdminToken)
		h.mu.Unlock()
		if authorized {
			h.runAdminCommand(ctx, strings.TrimPrefix(msg.Message, adminCommandPrefix), msg.AdminToken, roomID)
		}
		// Unauthorized command-shaped text vanishes without a trace.
		return
	}

	if rec != nil {
		rec.chatCooldown += chatCooldownCost
	}
	isAdmin := msg.AdminToken != "" && h.ValidToken(msg.AdminToken)
	entry := store.ChatEntry{
		SessionID:  id,
		PlayerName: player.name,
		IP:         player.ip,
		Timestamp:  h.clock.Now(),
		Message:    msg.Message,
		AdminToken: msg.AdminToken,
	}
	sender := player.name
	raw := msg.Message
	h.mu.Unlock()

	go func() {
		if err := h.store.AppendChat(ctx, entry); err != nil {
			h.logger.Printf("append chat: %v", err)
		}
		filtered, err := h.moderator.FilterText(ctx, sanitizeChat(raw))
		if err != nil {
			h.logger.Printf("moderate chat from %d: %v", id, err)
			chatlog.ModerationFailed(ctx, h.publisher, tick, logging.PlayerRef(sessionRef(id)), err)
			return
		}
		h.completeChat(ctx, roomID, id, sender, filtered, isAdmin, len(raw))
	}()
}

// completeChat applies a moderated message. The sender or the room
// may have vanished while moderation ran; either makes this a no-op.
func (h *Hub) completeChat(ctx context.Context, roomID string, id uint32, sender, text string, isAdmin bool, rawLen int) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := room.Players[id]; !ok {
		h.mu.Unlock()
		return
	}
	tick := h.frame
	subs := h.roomSubscribersLocked(room)
	h.mu.Unlock()

	h.metrics.Add("chat_accepted", 1)
	chatlog.Accepted(ctx, h.publisher, tick,
		logging.PlayerRef(sessionRef(id)), logging.RoomRef(roomID),
		chatlog.MessagePayload{RawLength: rawLen, Text: text})

	data, err := proto.EncodeUncompressed(proto.Chat{
		Message:   text,
		SessionID: id,
		Sender:    sender,
		IsAdmin:   isAdmin,
	})
	if err != nil {
		h.logger.Printf("encode chat: %v", err)
		return
	}
	fanOut(subs, data)
}
