package server

import (
	"context"
	"sync"
	"time"

	"flagfall/server/internal/net/proto"
	"flagfall/server/logging"
	"flagfall/server/logging/lifecycle"
	"flagfall/server/logging/network"
)

// Run drives the five fixed-rate tick jobs until ctx is cancelled.
// Each job runs on its own ticker; a slow job delays only its own
// next firing, never the other jobs.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	job := func(interval time.Duration, step func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					step()
				}
			}
		}()
	}
	job(frameInterval, h.stepFrame)
	job(secondInterval, h.stepSecond)
	job(skinInterval, h.stepSkins)
	job(sweepInterval, h.stepSweep)
	job(purgeInterval, func() { h.stepPurge(ctx) })
	wg.Wait()
}

// stepFrame is the ~33ms job: advance flag animation, sweep liveness
// credits, and broadcast one compressed snapshot per room. Mutations
// complete before snapshots are taken, so every broadcast reflects a
// consistent point in time.
func (h *Hub) stepFrame() {
	type roomCast struct {
		snap proto.Snapshot
		subs []*subscriber
	}

	h.mu.Lock()
	h.frame++
	tick := h.frame
	var forcedIDs []uint32
	var forcedSubs []*subscriber
	casts := make([]roomCast, 0, len(h.rooms))
	for _, room := range h.rooms {
		for i := range room.Flags {
			room.Flags[i].advance()
		}
		for id, player := range room.Players {
			if player.validity > 0 {
				player.validity--
				continue
			}
			if player.pose == nil {
				// Never reported state, nothing to time out.
				continue
			}
			if sub := h.removeSessionLocked(id); sub != nil {
				forcedIDs = append(forcedIDs, id)
				forcedSubs = append(forcedSubs, sub)
			}
		}
		casts = append(casts, roomCast{
			snap: room.snapshot(),
			subs: h.roomSubscribersLocked(room),
		})
	}
	h.mu.Unlock()

	for i, sub := range forcedSubs {
		sub.close()
		h.metrics.Add("sessions_forced_closed", 1)
		network.ForcedClose(context.Background(), h.publisher, tick,
			logging.PlayerRef(sessionRef(forcedIDs[i])))
	}
	for _, cast := range casts {
		if len(cast.subs) == 0 {
			continue
		}
		data, err := proto.EncodeCompressed(cast.snap)
		if err != nil {
			h.logger.Printf("encode snapshot: %v", err)
			continue
		}
		h.metrics.Add("snapshot_bytes", uint64(len(data)))
		fanOut(cast.subs, data)
	}
}

// stepSecond is the 1s job: per-room valid-player lists, the public
// room directory for the lobby, and chat cooldown decay.
func (h *Hub) stepSecond() {
	type listCast struct {
		lists proto.PlayerLists
		subs  []*subscriber
	}

	h.mu.Lock()
	casts := make([]listCast, 0, len(h.rooms))
	var publicLists []proto.ValidPlayers
	for _, room := range h.rooms {
		valid := proto.ValidPlayers{
			SessionIDs: room.validSessionIDs(),
			Level:      room.Level,
		}
		casts = append(casts, listCast{
			lists: proto.PlayerLists{Games: []proto.ValidPlayers{valid}},
			subs:  h.roomSubscribersLocked(room),
		})
		if room.Public {
			publicLists = append(publicLists, valid)
		}
	}
	lobbySubs := h.lobbySubscribersLocked()
	for _, rec := range h.ips {
		if rec.chatCooldown > 0 {
			rec.chatCooldown--
		}
	}
	h.mu.Unlock()

	for _, cast := range casts {
		if len(cast.subs) == 0 {
			continue
		}
		data, err := proto.EncodeUncompressed(cast.lists)
		if err != nil {
			h.logger.Printf("encode player lists: %v", err)
			continue
		}
		fanOut(cast.subs, data)
	}
	if len(lobbySubs) > 0 {
		data, err := proto.EncodeUncompressed(proto.PlayerLists{Games: publicLists})
		if err != nil {
			h.logger.Printf("encode lobby lists: %v", err)
			return
		}
		fanOut(lobbySubs, data)
	}
}

// stepSkins is the 10s job: push changed skins to room peers.
func (h *Hub) stepSkins() {
	type skinCast struct {
		skins []proto.Skin
		subs  []*subscriber
	}

	h.mu.Lock()
	var casts []skinCast
	for _, room := range h.rooms {
		var changed []proto.Skin
		for id, player := range room.Players {
			if !player.skinDirty || player.skin == nil {
				continue
			}
			player.skinDirty = false
			changed = append(changed, proto.Skin{
				SessionID:  id,
				SkinData:   player.skin,
				PlayerName: player.skinName,
			})
		}
		if len(changed) > 0 {
			casts = append(casts, skinCast{
				skins: changed,
				subs:  h.roomSubscribersLocked(room),
			})
		}
	}
	h.mu.Unlock()

	for _, cast := range casts {
		for _, skin := range cast.skins {
			data, err := proto.EncodeUncompressed(skin)
			if err != nil {
				h.logger.Printf("encode skin: %v", err)
				continue
			}
			fanOut(cast.subs, data)
		}
	}
}

// stepSweep is the 5min job: strike empty rooms and delete any that
// stayed empty for emptySweepLimit consecutive sweeps.
func (h *Hub) stepSweep() {
	type destroyedRoom struct {
		id      string
		payload lifecycle.RoomPayload
	}

	h.mu.Lock()
	tick := h.frame
	var destroyed []destroyedRoom
	for id, room := range h.rooms {
		if len(room.Players) > 0 {
			continue
		}
		room.inactivityStrikes++
		if room.inactivityStrikes < emptySweepLimit {
			continue
		}
		delete(h.rooms, id)
		if room.Public && h.levelRooms[room.Level] == id {
			delete(h.levelRooms, room.Level)
		}
		destroyed = append(destroyed, destroyedRoom{
			id: id,
			payload: lifecycle.RoomPayload{
				Level:  room.Level,
				Public: room.Public,
				Flags:  len(room.Flags),
			},
		})
	}
	h.mu.Unlock()

	for _, room := range destroyed {
		h.metrics.Add("rooms_destroyed", 1)
		lifecycle.RoomDestroyed(context.Background(), h.publisher, tick,
			logging.RoomRef(room.id), room.payload)
	}
}

// stepPurge is the 24h job: drop persisted chats past retention.
func (h *Hub) stepPurge(ctx context.Context) {
	cutoff := h.clock.Now().Add(-chatRetention)
	purged, err := h.store.PurgeChatsBefore(ctx, cutoff)
	if err != nil {
		h.logger.Printf("purge chats: %v", err)
		return
	}
	if purged > 0 {
		h.logger.Printf("purged %d chat entries older than %s", purged, cutoff.Format(time.RFC3339))
	}
}
