// Package proto implements the frozen binary wire schema spoken by
// game clients. The envelope is a two-arm tagged union (uncompressed
// or zlib-compressed inner message); the inner message is a tagged
// union of game message kinds. Field numbers in this file are the
// compatibility contract and must never change.
package proto

import (
	"errors"
	"fmt"
)

// Envelope field numbers.
const (
	fieldUncompressed = 1
	fieldCompressed   = 2
)

// Inner message field numbers, one per kind.
const (
	fieldConnected    = 1
	fieldPlayerName   = 2
	fieldPose         = 3
	fieldAttack       = 4
	fieldGrab         = 5
	fieldChat         = 6
	fieldSkin         = 7
	fieldInit         = 8
	fieldAnnouncement = 9
	fieldPlayerLists  = 10
	fieldSnapshot     = 11
	fieldPing         = 12
)

// Message is one decoded inner message. Dispatch with a type switch;
// the default arm is always a protocol violation.
type Message interface {
	isMessage()
}

// Connected acknowledges a freshly opened session.
type Connected struct {
	SessionID uint32
}

// PlayerName is both the registration request (Name, Level, RoomID)
// and the server response (Accepted, echoed Name and Level).
type PlayerName struct {
	Name     string
	Level    int32
	RoomID   string
	Accepted bool
}

// Pose is a player-reported position and animation blob. The server
// treats Anim as opaque and echoes it in snapshots.
type Pose struct {
	SessionID uint32
	Pos       [3]float32
	Anim      []byte
}

// Attack names an exact flag and the session believed to hold it.
type Attack struct {
	FlagID          int32
	TargetSessionID uint32
}

// Grab claims a flag from a reported position.
type Grab struct {
	FlagID int32
	Pos    [3]float32
}

// Chat carries a chat message in both directions.
type Chat struct {
	Message    string
	AdminToken string
	SessionID  uint32
	Sender     string
	IsAdmin    bool
}

// Skin carries a player's skin payload.
type Skin struct {
	SessionID  uint32
	SkinData   []byte
	PlayerName string
}

// Init signals the client finished loading and wants peer skins.
type Init struct{}

// Announcement is a server broadcast with a display timer.
type Announcement struct {
	Message string
	Timer   int32
}

// ValidPlayers lists the live session ids for one room.
type ValidPlayers struct {
	SessionIDs []uint32
	Level      int32
}

// PlayerLists aggregates valid-player lists, one per room.
type PlayerLists struct {
	Games []ValidPlayers
}

// FlagSnapshot is the per-tick view of one flag: held flags report
// only the holder, free flags report position and pre-fall height.
type FlagSnapshot struct {
	Held             bool
	HolderID         uint32
	Pos              [3]int32
	HeightBeforeFall int32
}

// Snapshot is the per-tick combined player and flag broadcast.
type Snapshot struct {
	Players []Pose
	Flags   []FlagSnapshot
}

// Ping is echoed back verbatim for round-trip measurement.
type Ping struct {
	Payload []byte
}

func (Connected) isMessage()    {}
func (PlayerName) isMessage()   {}
func (Pose) isMessage()         {}
func (Attack) isMessage()       {}
func (Grab) isMessage()         {}
func (Chat) isMessage()         {}
func (Skin) isMessage()         {}
func (Init) isMessage()         {}
func (Announcement) isMessage() {}
func (PlayerLists) isMessage()  {}
func (Snapshot) isMessage()     {}
func (Ping) isMessage()         {}

// ErrUnknownKind marks an envelope whose selector names no known kind.
var ErrUnknownKind = errors.New("unknown message kind")

// ViolationError wraps every decode failure so callers can log the
// frame as a protocol violation and keep the connection open.
type ViolationError struct {
	Detail string
	Err    error
}

func (e *ViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("protocol violation: %s", e.Detail)
}

func (e *ViolationError) Unwrap() error {
	return e.Err
}

// IsViolation reports whether err stems from a malformed or unknown
// frame rather than an internal failure.
func IsViolation(err error) bool {
	var violation *ViolationError
	return errors.As(err, &violation)
}

func violationf(err error, format string, args ...any) error {
	return &ViolationError{Detail: fmt.Sprintf(format, args...), Err: err}
}
