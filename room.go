package server

import (
	"github.com/google/uuid"

	"flagfall/server/internal/net/proto"
)

// Room is one independent game: its players, its flags, and the level
// they play on. All fields are guarded by the hub mutex.
type Room struct {
	ID     string
	Level  int32
	Public bool

	Players map[uint32]*playerSession
	Flags   []Flag

	// inactivityStrikes counts consecutive GC sweeps that observed the
	// room empty. Any successful registration resets it to zero.
	inactivityStrikes int
}

func newRoom(level int32, public bool, template LevelTemplate) *Room {
	flags := make([]Flag, len(template.FlagSpawns))
	for i, spawn := range template.FlagSpawns {
		flags[i] = newFlag(spawn)
	}
	return &Room{
		ID:      uuid.NewString(),
		Level:   level,
		Public:  public,
		Players: make(map[uint32]*playerSession),
		Flags:   flags,
	}
}

// nameTaken reports whether any current player uses name. Comparison
// is case-sensitive, "Peach" and "peach" may coexist.
func (r *Room) nameTaken(name string) bool {
	for _, p := range r.Players {
		if p.name == name {
			return true
		}
	}
	return false
}

// releaseFlagsHeldBy drops every flag the departing holder carried.
// The flag falls from the holder's last pose, lifted slightly so it
// does not clip into the ground on the client.
func (r *Room) releaseFlagsHeldBy(id uint32, pose *proto.Pose) {
	for i := range r.Flags {
		f := &r.Flags[i]
		if f.Holder != id || f.Holder == 0 {
			continue
		}
		base := f.Pos
		if pose != nil {
			base = [3]int32{int32(pose.Pos[0]), int32(pose.Pos[1]), int32(pose.Pos[2])}
		}
		base[1] += dropLift
		f.drop(base)
	}
}

// validSessionIDs lists players whose liveness credit is positive.
func (r *Room) validSessionIDs() []uint32 {
	ids := make([]uint32, 0, len(r.Players))
	for id, p := range r.Players {
		if p.validity > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) snapshot() proto.Snapshot {
	snap := proto.Snapshot{
		Flags: make([]proto.FlagSnapshot, len(r.Flags)),
	}
	for _, p := range r.Players {
		if p.pose == nil {
			continue
		}
		snap.Players = append(snap.Players, *p.pose)
	}
	for i := range r.Flags {
		snap.Flags[i] = r.Flags[i].wireState()
	}
	return snap
}
