package proto

import (
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	data, err := EncodeUncompressed(msg)
	if err != nil {
		t.Fatalf("encode %T: %v", msg, err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode %T: %v", msg, err)
	}
	return decoded
}

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		Connected{SessionID: 42},
		PlayerName{Name: "Alice", Level: 3, RoomID: "room-1", Accepted: true},
		PlayerName{Accepted: false},
		Pose{SessionID: 7, Pos: [3]float32{1.5, -200.25, 3}, Anim: []byte{1, 2, 3}},
		Attack{FlagID: 2, TargetSessionID: 9},
		Grab{FlagID: 0, Pos: [3]float32{-40, 600, 40}},
		Chat{Message: "hello ❤️", AdminToken: "tok", SessionID: 5, Sender: "Alice", IsAdmin: true},
		Skin{SessionID: 3, SkinData: []byte{0xff, 0x00, 0x7f}, PlayerName: "Bob"},
		Init{},
		Announcement{Message: "restart", Timer: 300},
		PlayerLists{Games: []ValidPlayers{
			{SessionIDs: []uint32{1, 2, 3}, Level: 1},
			{SessionIDs: nil, Level: 2},
		}},
		Ping{Payload: []byte{9, 9, 9}},
	}
	for _, msg := range cases {
		decoded := roundTrip(t, msg)
		if !reflect.DeepEqual(decoded, msg) {
			t.Fatalf("round trip altered %T:\n got %+v\nwant %+v", msg, decoded, msg)
		}
	}
}

func TestSnapshotCompressedRoundTrip(t *testing.T) {
	snap := Snapshot{
		Players: []Pose{
			{SessionID: 1, Pos: [3]float32{10, 20, 30}, Anim: []byte{1}},
			{SessionID: 2, Pos: [3]float32{-1.25, 0, 99}},
		},
		Flags: []FlagSnapshot{
			{Held: true, HolderID: 1},
			{Pos: [3]int32{-4000, -9998, 250}, HeightBeforeFall: 600},
		},
	}
	data, err := EncodeCompressed(snap)
	if err != nil {
		t.Fatalf("encode compressed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode compressed: %v", err)
	}
	if !reflect.DeepEqual(decoded, snap) {
		t.Fatalf("compressed round trip altered snapshot:\n got %+v\nwant %+v", decoded, snap)
	}
}

func TestDecodeGarbageIsViolation(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{},
		{0xff, 0xff, 0xff},
		{0x08, 0x01}, // varint where the envelope expects bytes
	} {
		_, err := Decode(data)
		if err == nil {
			t.Fatalf("decode %v must fail", data)
		}
		if !IsViolation(err) {
			t.Fatalf("decode %v: error must be a violation, got %v", data, err)
		}
	}
}

func TestDecodeUnknownKindIsViolation(t *testing.T) {
	// Envelope field 1 wrapping an inner message with selector 99.
	inner := []byte{0x9a, 0x06, 0x00} // field 99, bytes, empty
	envelope := append([]byte{0x0a, byte(len(inner))}, inner...)

	_, err := Decode(envelope)
	if err == nil {
		t.Fatalf("unknown selector must fail")
	}
	if !IsViolation(err) {
		t.Fatalf("unknown selector must be a violation, got %v", err)
	}
}

func TestCompressedEnvelopeWithBadDeflateIsViolation(t *testing.T) {
	envelope := []byte{0x12, 0x04, 0xde, 0xad, 0xbe, 0xef}
	_, err := Decode(envelope)
	if err == nil || !IsViolation(err) {
		t.Fatalf("bad zlib payload must be a violation, got %v", err)
	}
}
