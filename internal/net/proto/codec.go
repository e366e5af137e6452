package proto

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxInnerSize caps the decompressed size of a compressed envelope so
// a hostile frame cannot balloon in memory.
const maxInnerSize = 4 << 20

// EncodeUncompressed wraps the message in the uncompressed envelope
// arm. Every outbound message except tick snapshots uses this form.
func EncodeUncompressed(msg Message) ([]byte, error) {
	inner, err := encodeInner(msg)
	if err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, fieldUncompressed, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b, nil
}

// EncodeCompressed wraps the message in the zlib-compressed envelope
// arm, used for per-tick snapshot broadcasts.
func EncodeCompressed(msg Message) ([]byte, error) {
	inner, err := encodeInner(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(inner); err != nil {
		return nil, fmt.Errorf("compress message: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress message: %w", err)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldCompressed, protowire.BytesType)
	b = protowire.AppendBytes(b, buf.Bytes())
	return b, nil
}

// Decode parses one envelope and returns its inner message. Every
// failure is a ViolationError: the caller logs it, drops the frame,
// and keeps the connection open.
func Decode(data []byte) (Message, error) {
	var inner []byte
	seen := false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, violationf(protowire.ParseError(n), "malformed envelope tag")
		}
		data = data[n:]

		switch {
		case num == fieldUncompressed && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, violationf(protowire.ParseError(n), "malformed envelope payload")
			}
			inner, seen = v, true
			data = data[n:]
		case num == fieldCompressed && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, violationf(protowire.ParseError(n), "malformed envelope payload")
			}
			decompressed, err := inflate(v)
			if err != nil {
				return nil, violationf(err, "corrupt compressed payload")
			}
			inner, seen = decompressed, true
			data = data[n:]
		default:
			return nil, violationf(ErrUnknownKind, "unexpected envelope field %d", num)
		}
	}

	if !seen {
		return nil, violationf(ErrUnknownKind, "envelope selector not set")
	}
	return decodeInner(inner)
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxInnerSize))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeInner(msg Message) ([]byte, error) {
	var field protowire.Number
	var body []byte

	switch m := msg.(type) {
	case Connected:
		field, body = fieldConnected, marshalConnected(m)
	case PlayerName:
		field, body = fieldPlayerName, marshalPlayerName(m)
	case Pose:
		field, body = fieldPose, marshalPose(m)
	case Attack:
		field, body = fieldAttack, marshalAttack(m)
	case Grab:
		field, body = fieldGrab, marshalGrab(m)
	case Chat:
		field, body = fieldChat, marshalChat(m)
	case Skin:
		field, body = fieldSkin, marshalSkin(m)
	case Init:
		field, body = fieldInit, nil
	case Announcement:
		field, body = fieldAnnouncement, marshalAnnouncement(m)
	case PlayerLists:
		field, body = fieldPlayerLists, marshalPlayerLists(m)
	case Snapshot:
		field, body = fieldSnapshot, marshalSnapshot(m)
	case Ping:
		field, body = fieldPing, marshalPing(m)
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}

	var b []byte
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

func decodeInner(data []byte) (Message, error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return nil, violationf(protowire.ParseError(n), "malformed message tag")
	}
	if typ != protowire.BytesType {
		return nil, violationf(ErrUnknownKind, "unexpected wire type %d for kind %d", typ, num)
	}
	body, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return nil, violationf(protowire.ParseError(m), "malformed message payload")
	}
	if rest := data[n+m:]; len(rest) != 0 {
		return nil, violationf(ErrUnknownKind, "trailing bytes after message")
	}

	switch num {
	case fieldConnected:
		return unmarshalConnected(body)
	case fieldPlayerName:
		return unmarshalPlayerName(body)
	case fieldPose:
		return unmarshalPose(body)
	case fieldAttack:
		return unmarshalAttack(body)
	case fieldGrab:
		return unmarshalGrab(body)
	case fieldChat:
		return unmarshalChat(body)
	case fieldSkin:
		return unmarshalSkin(body)
	case fieldInit:
		return Init{}, nil
	case fieldAnnouncement:
		return unmarshalAnnouncement(body)
	case fieldPlayerLists:
		return unmarshalPlayerLists(body)
	case fieldSnapshot:
		return unmarshalSnapshot(body)
	case fieldPing:
		return unmarshalPing(body)
	default:
		return nil, violationf(ErrUnknownKind, "message selector %d", num)
	}
}

func marshalConnected(m Connected) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SessionID))
	return b
}

func unmarshalConnected(data []byte) (Connected, error) {
	var m Connected
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.SessionID = uint32(v.varint)
		}
		return nil
	})
	return m, err
}

func marshalPlayerName(m PlayerName) []byte {
	var b []byte
	if m.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Level != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.Level)))
	}
	if m.RoomID != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.RoomID)
	}
	if m.Accepted {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func unmarshalPlayerName(data []byte) (PlayerName, error) {
	var m PlayerName
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.Name = string(v.bytes)
		case 2:
			m.Level = int32(v.varint)
		case 3:
			m.RoomID = string(v.bytes)
		case 4:
			m.Accepted = v.varint != 0
		}
		return nil
	})
	return m, err
}

func marshalPose(m Pose) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SessionID))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, packFloats(m.Pos))
	if len(m.Anim) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Anim)
	}
	return b
}

func unmarshalPose(data []byte) (Pose, error) {
	var m Pose
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.SessionID = uint32(v.varint)
		case 2:
			pos, err := unpackFloats(v.bytes)
			if err != nil {
				return err
			}
			m.Pos = pos
		case 3:
			m.Anim = append([]byte(nil), v.bytes...)
		}
		return nil
	})
	return m, err
}

func marshalAttack(m Attack) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.FlagID)))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.TargetSessionID))
	return b
}

func unmarshalAttack(data []byte) (Attack, error) {
	var m Attack
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.FlagID = int32(v.varint)
		case 2:
			m.TargetSessionID = uint32(v.varint)
		}
		return nil
	})
	return m, err
}

func marshalGrab(m Grab) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(m.FlagID)))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, packFloats(m.Pos))
	return b
}

func unmarshalGrab(data []byte) (Grab, error) {
	var m Grab
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.FlagID = int32(v.varint)
		case 2:
			pos, err := unpackFloats(v.bytes)
			if err != nil {
				return err
			}
			m.Pos = pos
		}
		return nil
	})
	return m, err
}

func marshalChat(m Chat) []byte {
	var b []byte
	if m.Message != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Message)
	}
	if m.AdminToken != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.AdminToken)
	}
	if m.SessionID != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SessionID))
	}
	if m.Sender != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, m.Sender)
	}
	if m.IsAdmin {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func unmarshalChat(data []byte) (Chat, error) {
	var m Chat
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.Message = string(v.bytes)
		case 2:
			m.AdminToken = string(v.bytes)
		case 3:
			m.SessionID = uint32(v.varint)
		case 4:
			m.Sender = string(v.bytes)
		case 5:
			m.IsAdmin = v.varint != 0
		}
		return nil
	})
	return m, err
}

func marshalSkin(m Skin) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.SessionID))
	if len(m.SkinData) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.SkinData)
	}
	if m.PlayerName != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.PlayerName)
	}
	return b
}

func unmarshalSkin(data []byte) (Skin, error) {
	var m Skin
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.SessionID = uint32(v.varint)
		case 2:
			m.SkinData = append([]byte(nil), v.bytes...)
		case 3:
			m.PlayerName = string(v.bytes)
		}
		return nil
	})
	return m, err
}

func marshalAnnouncement(m Announcement) []byte {
	var b []byte
	if m.Message != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Message)
	}
	if m.Timer != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.Timer)))
	}
	return b
}

func unmarshalAnnouncement(data []byte) (Announcement, error) {
	var m Announcement
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.Message = string(v.bytes)
		case 2:
			m.Timer = int32(v.varint)
		}
		return nil
	})
	return m, err
}

func marshalValidPlayers(m ValidPlayers) []byte {
	var b []byte
	if len(m.SessionIDs) > 0 {
		var packed []byte
		for _, id := range m.SessionIDs {
			packed = protowire.AppendVarint(packed, uint64(id))
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if m.Level != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(m.Level)))
	}
	return b
}

func unmarshalValidPlayers(data []byte) (ValidPlayers, error) {
	var m ValidPlayers
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			packed := v.bytes
			for len(packed) > 0 {
				id, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.SessionIDs = append(m.SessionIDs, uint32(id))
				packed = packed[n:]
			}
		case 2:
			m.Level = int32(v.varint)
		}
		return nil
	})
	return m, err
}

func marshalPlayerLists(m PlayerLists) []byte {
	var b []byte
	for _, game := range m.Games {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalValidPlayers(game))
	}
	return b
}

func unmarshalPlayerLists(data []byte) (PlayerLists, error) {
	var m PlayerLists
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			game, err := unmarshalValidPlayers(v.bytes)
			if err != nil {
				return err
			}
			m.Games = append(m.Games, game)
		}
		return nil
	})
	return m, err
}

func marshalFlagSnapshot(m FlagSnapshot) []byte {
	var b []byte
	if m.Held {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.HolderID))
		return b
	}
	var packed []byte
	for _, c := range m.Pos {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(c)))
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.HeightBeforeFall)))
	return b
}

func unmarshalFlagSnapshot(data []byte) (FlagSnapshot, error) {
	var m FlagSnapshot
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.Held = v.varint != 0
		case 2:
			m.HolderID = uint32(v.varint)
		case 3:
			packed := v.bytes
			for i := 0; i < 3 && len(packed) > 0; i++ {
				c, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.Pos[i] = int32(protowire.DecodeZigZag(c))
				packed = packed[n:]
			}
		case 4:
			m.HeightBeforeFall = int32(protowire.DecodeZigZag(v.varint))
		}
		return nil
	})
	return m, err
}

func marshalSnapshot(m Snapshot) []byte {
	var b []byte
	for _, pose := range m.Players {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalPose(pose))
	}
	for _, flag := range m.Flags {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalFlagSnapshot(flag))
	}
	return b
}

func unmarshalSnapshot(data []byte) (Snapshot, error) {
	var m Snapshot
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			pose, err := unmarshalPose(v.bytes)
			if err != nil {
				return err
			}
			m.Players = append(m.Players, pose)
		case 2:
			flag, err := unmarshalFlagSnapshot(v.bytes)
			if err != nil {
				return err
			}
			m.Flags = append(m.Flags, flag)
		}
		return nil
	})
	return m, err
}

func marshalPing(m Ping) []byte {
	var b []byte
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	return b
}

func unmarshalPing(data []byte) (Ping, error) {
	var m Ping
	err := eachField(data, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.Payload = append([]byte(nil), v.bytes...)
		}
		return nil
	})
	return m, err
}

// value carries the consumed payload for one field; exactly one member
// is meaningful depending on the wire type.
type value struct {
	varint uint64
	bytes  []byte
}

// eachField walks a sub-message, invoking fn for varint and bytes
// fields and skipping anything else, matching protobuf skip semantics
// inside known messages.
func eachField(data []byte, fn func(num protowire.Number, v value) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return violationf(protowire.ParseError(n), "malformed field tag")
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return violationf(protowire.ParseError(n), "malformed varint field %d", num)
			}
			if err := fn(num, value{varint: v}); err != nil {
				return violationf(err, "field %d", num)
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return violationf(protowire.ParseError(n), "malformed bytes field %d", num)
			}
			if err := fn(num, value{bytes: v}); err != nil {
				return violationf(err, "field %d", num)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return violationf(protowire.ParseError(n), "malformed field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}

func packFloats(pos [3]float32) []byte {
	var b []byte
	for _, c := range pos {
		b = protowire.AppendFixed32(b, math.Float32bits(c))
	}
	return b
}

func unpackFloats(data []byte) ([3]float32, error) {
	var pos [3]float32
	for i := 0; i < 3 && len(data) > 0; i++ {
		v, n := protowire.ConsumeFixed32(data)
		if n < 0 {
			return pos, protowire.ParseError(n)
		}
		pos[i] = math.Float32frombits(v)
		data = data[n:]
	}
	return pos, nil
}
