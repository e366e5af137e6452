package server

import (
	"math"

	"flagfall/server/internal/net/proto"
)

// Flag is one capturable entity. Exactly one of {held, at start,
// idle/falling} applies at a time:
//
//	Holder != 0            held
//	Holder == 0 && AtStart resting on its template spawn
//	otherwise              idle on the ground or falling
type Flag struct {
	Pos              [3]int32
	Holder           uint32
	AtStart          bool
	FallMode         bool
	IdleTimer        int
	HeightBeforeFall int32

	start [3]int32
}

func newFlag(spawn [3]int32) Flag {
	return Flag{
		Pos:              spawn,
		AtStart:          true,
		HeightBeforeFall: spawn[1],
		start:            spawn,
	}
}

// tryGrab claims the flag for session id from the claimed position.
// Succeeds iff the flag is free and the planar distance between the
// claimed position and the flag is strictly under grabRadius.
func (f *Flag) tryGrab(id uint32, pos [3]float32) bool {
	if f.Holder != 0 {
		return false
	}
	if planarDistance(pos, f.Pos) >= grabRadius {
		return false
	}
	f.Holder = id
	f.AtStart = false
	f.FallMode = false
	f.IdleTimer = 0
	return true
}

// knockFree releases a held flag after a successful attack. The flag
// falls from near the holder's position, scattered on the planar axes
// and lifted on the vertical one.
func (f *Flag) knockFree(base [3]int32, scatterX, scatterZ int32) {
	base[0] += scatterX
	base[1] += attackLift
	base[2] += scatterZ
	f.drop(base)
}

// drop transitions the flag into falling mode at the given position.
func (f *Flag) drop(pos [3]int32) {
	f.Holder = 0
	f.AtStart = false
	f.FallMode = true
	f.IdleTimer = 0
	f.Pos = pos
	f.HeightBeforeFall = pos[1]
}

// advance runs one frame tick of flag animation: linear fall while in
// fall mode, and the idle reset countdown while unheld and off spawn.
func (f *Flag) advance() {
	if f.FallMode && f.Pos[1] > flagFallFloor {
		f.Pos[1] -= flagFallStep
		if f.Pos[1] < flagFallFloor {
			f.Pos[1] = flagFallFloor
		}
	}
	if f.Holder == 0 && !f.AtStart {
		f.IdleTimer++
		if f.IdleTimer > flagIdleResetTicks {
			f.reset()
		}
	}
}

// reset returns the flag to its template spawn.
func (f *Flag) reset() {
	f.Pos = f.start
	f.Holder = 0
	f.AtStart = true
	f.FallMode = false
	f.IdleTimer = 0
	f.HeightBeforeFall = f.start[1]
}

func (f *Flag) wireState() proto.FlagSnapshot {
	if f.Holder != 0 {
		return proto.FlagSnapshot{Held: true, HolderID: f.Holder}
	}
	return proto.FlagSnapshot{
		Pos:              f.Pos,
		HeightBeforeFall: f.HeightBeforeFall,
	}
}

func planarDistance(pos [3]float32, flagPos [3]int32) float64 {
	dx := float64(pos[0]) - float64(flagPos[0])
	dz := float64(pos[2]) - float64(flagPos[2])
	return math.Sqrt(dx*dx + dz*dz)
}
