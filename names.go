package server

import (
	"context"
	"strings"
	"unicode/utf8"

	"flagfall/server/internal/net/proto"
	"flagfall/server/logging"
	chatlog "flagfall/server/logging/chat"
	"flagfall/server/logging/lifecycle"
)

// HandlePlayerName runs the one-shot registration gate. Unlike chat,
// registration rejects instead of filtering: any alteration by the
// whitelist or the moderation collaborator refuses the name. A session
// that is already registered gets no response at all.
func (h *Hub) HandlePlayerName(ctx context.Context, id uint32, req proto.PlayerName) {
	h.mu.Lock()
	if _, registered := h.sessionRooms[id]; registered {
		h.mu.Unlock()
		return
	}
	if _, ok := h.sessions[id]; !ok {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if n := utf8.RuneCountInString(req.Name); n < minNameRunes || n > maxNameRunes {
		h.rejectName(ctx, id, "length")
		return
	}
	if strings.EqualFold(req.Name, reservedName) {
		h.rejectName(ctx, id, "reserved")
		return
	}
	if sanitizeChat(req.Name) != req.Name {
		h.rejectName(ctx, id, "characters")
		return
	}

	go func() {
		filtered, err := h.moderator.FilterText(ctx, req.Name)
		if err != nil {
			h.logger.Printf("moderate name %q: %v", req.Name, err)
			h.rejectName(ctx, id, "moderation unavailable")
			return
		}
		h.completeRegistration(ctx, id, req, filtered)
	}()
}

// completeRegistration applies a moderation-approved name. The session
// may have closed, or registered through a faster race, while the
// moderation call was in flight; both resolve to a no-op.
func (h *Hub) completeRegistration(ctx context.Context, id uint32, req proto.PlayerName, filtered string) {
	if filtered != req.Name {
		h.rejectName(ctx, id, "moderated")
		return
	}

	h.mu.Lock()
	sess, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, registered := h.sessionRooms[id]; registered {
		h.mu.Unlock()
		return
	}

	var room *Room
	if req.Level == customLevelSelector {
		room = h.rooms[req.RoomID]
	} else if _, known := standardLevels[req.Level]; known {
		if roomID, ok := h.levelRooms[req.Level]; ok {
			room = h.rooms[roomID]
		}
		if room == nil {
			room = h.createRoomLocked(req.Level, true)
		}
	}
	if room == nil {
		h.mu.Unlock()
		h.rejectName(ctx, id, "unknown room")
		return
	}
	if room.nameTaken(req.Name) {
		h.mu.Unlock()
		h.rejectName(ctx, id, "taken")
		return
	}

	player := &playerSession{session: sess, name: req.Name}
	room.Players[id] = player
	room.inactivityStrikes = 0
	h.sessionRooms[id] = room.ID
	delete(h.lobby, id)
	tick := h.frame
	roomID := room.ID
	level := room.Level
	sub := sess.sub
	h.mu.Unlock()

	h.metrics.Add("players_registered", 1)
	lifecycle.PlayerRegistered(ctx, h.publisher, tick,
		logging.PlayerRef(sessionRef(id)), logging.RoomRef(roomID), req.Name)
	h.sendMessage(sub, proto.PlayerName{
		Name:     req.Name,
		Level:    level,
		RoomID:   roomID,
		Accepted: true,
	})
}

func (h *Hub) rejectName(ctx context.Context, id uint32, reason string) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	tick := h.frame
	sub := sess.sub
	h.mu.Unlock()

	chatlog.NameRejected(ctx, h.publisher, tick, logging.PlayerRef(sessionRef(id)), reason)
	h.sendMessage(sub, proto.PlayerName{Accepted: false})
}
