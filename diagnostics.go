package server

// RoomDiagnostics is one room's entry in the diagnostics snapshot.
type RoomDiagnostics struct {
	ID      string `json:"id"`
	Level   int32  `json:"level"`
	Public  bool   `json:"public"`
	Players int    `json:"players"`
	Flags   int    `json:"flags"`
	Strikes int    `json:"strikes"`
}

// Diagnostics is a point-in-time view of hub occupancy for the
// diagnostics HTTP surface.
type Diagnostics struct {
	Sessions uint64            `json:"sessions"`
	Lobby    int               `json:"lobby"`
	Frame    uint64            `json:"frame"`
	Rooms    []RoomDiagnostics `json:"rooms"`
	Counters map[string]uint64 `json:"counters,omitempty"`
}

// DiagnosticsSnapshot copies the hub's occupancy under the lock.
func (h *Hub) DiagnosticsSnapshot() Diagnostics {
	h.mu.Lock()
	snap := Diagnostics{
		Sessions: uint64(len(h.sessions)),
		Lobby:    len(h.lobby),
		Frame:    h.frame,
		Rooms:    make([]RoomDiagnostics, 0, len(h.rooms)),
	}
	for _, room := range h.rooms {
		snap.Rooms = append(snap.Rooms, RoomDiagnostics{
			ID:      room.ID,
			Level:   room.Level,
			Public:  room.Public,
			Players: len(room.Players),
			Flags:   len(room.Flags),
			Strikes: room.inactivityStrikes,
		})
	}
	h.mu.Unlock()

	if counters, ok := h.metrics.(interface{ Snapshot() map[string]uint64 }); ok {
		snap.Counters = counters.Snapshot()
	}
	return snap
}
