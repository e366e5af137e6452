package server

import (
	"testing"
	"time"

	"flagfall/server/internal/net/proto"
	"flagfall/server/internal/store"
	"flagfall/server/logging"
)

func lastOfKind[T proto.Message](t *testing.T, conn *fakeConn) (T, bool) {
	t.Helper()
	var zero T
	msgs := conn.decoded(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(T); ok {
			return m, true
		}
	}
	return zero, false
}

func TestFrameTickBroadcastsSnapshot(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, conn := register(t, hub, "Alice")
	hub.HandlePose(alice, proto.Pose{Pos: [3]float32{1, 2, 3}, Anim: []byte{4, 5}})

	hub.stepFrame()

	snap, ok := lastOfKind[proto.Snapshot](t, conn)
	if !ok {
		t.Fatalf("expected a snapshot broadcast")
	}
	if len(snap.Players) != 1 || snap.Players[0].SessionID != alice {
		t.Fatalf("snapshot players wrong: %+v", snap.Players)
	}
	if len(snap.Flags) != len(standardLevels[1].FlagSpawns) {
		t.Fatalf("snapshot flags wrong: %+v", snap.Flags)
	}
}

func TestSnapshotReflectsSameTickMutations(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, conn := register(t, hub, "Alice")

	spawn := standardLevels[1].FlagSpawns[0]
	pose := proto.Pose{Pos: [3]float32{float32(spawn[0]), float32(spawn[1]), float32(spawn[2])}}
	hub.HandlePose(alice, pose)
	hub.HandleGrab(alice, proto.Grab{FlagID: 0, Pos: pose.Pos})
	hub.stepFrame()

	snap, ok := lastOfKind[proto.Snapshot](t, conn)
	if !ok {
		t.Fatalf("expected a snapshot broadcast")
	}
	if !snap.Flags[0].Held || snap.Flags[0].HolderID != alice {
		t.Fatalf("grab before the tick must appear in its snapshot: %+v", snap.Flags[0])
	}
}

func TestSecondTickSendsValidPlayers(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, aliceConn := register(t, hub, "Alice")
	bob, _ := register(t, hub, "Bob")
	hub.HandlePose(alice, proto.Pose{})

	hub.stepSecond()

	lists, ok := lastOfKind[proto.PlayerLists](t, aliceConn)
	if !ok {
		t.Fatalf("expected a player list broadcast")
	}
	if len(lists.Games) != 1 {
		t.Fatalf("room broadcast carries one room entry, got %d", len(lists.Games))
	}
	valid := lists.Games[0]
	if valid.Level != 1 {
		t.Fatalf("level wrong: %d", valid.Level)
	}
	if len(valid.SessionIDs) != 1 || valid.SessionIDs[0] != alice {
		t.Fatalf("only players with positive credit are valid, got %v (bob=%d)", valid.SessionIDs, bob)
	}
}

func TestSecondTickSendsLobbyDirectory(t *testing.T) {
	hub := newTestHub(t, Deps{})
	register(t, hub, "Alice")
	lobbyConn := &fakeConn{}
	if _, err := hub.Connect(lobbyConn, "10.0.0.2"); err != nil {
		t.Fatalf("connect lobby session: %v", err)
	}

	hub.stepSecond()

	lists, ok := lastOfKind[proto.PlayerLists](t, lobbyConn)
	if !ok {
		t.Fatalf("lobby must receive the public room directory")
	}
	if len(lists.Games) != 1 || lists.Games[0].Level != 1 {
		t.Fatalf("directory wrong: %+v", lists.Games)
	}
}

func TestSkinTickPushesDirtySkinsOnce(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, _ := register(t, hub, "Alice")
	_, bobConn := register(t, hub, "Bob")

	hub.HandleSkin(alice, proto.Skin{SkinData: []byte{1, 2, 3}, PlayerName: "Alice"})
	hub.stepSkins()

	skin, ok := lastOfKind[proto.Skin](t, bobConn)
	if !ok {
		t.Fatalf("expected a skin push")
	}
	if skin.SessionID != alice || string(skin.SkinData) != string([]byte{1, 2, 3}) {
		t.Fatalf("skin push wrong: %+v", skin)
	}

	before := len(bobConn.decoded(t))
	hub.stepSkins()
	if got := len(bobConn.decoded(t)); got != before {
		t.Fatalf("clean skins must not be re-pushed, frames %d -> %d", before, got)
	}
}

func TestInitCatchUpSendsPeerSkins(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, _ := register(t, hub, "Alice")
	bob, bobConn := register(t, hub, "Bob")

	hub.HandleSkin(alice, proto.Skin{SkinData: []byte{7}, PlayerName: "Alice"})
	hub.HandleInit(bob)

	waitFor(t, func() bool {
		_, ok := lastOfKind[proto.Skin](t, bobConn)
		return ok
	})
	skin, _ := lastOfKind[proto.Skin](t, bobConn)
	if skin.SessionID != alice {
		t.Fatalf("catch-up skin from %d, want %d", skin.SessionID, alice)
	}
}

func TestPurgeTickDropsOldChats(t *testing.T) {
	persistence := store.NewMemory()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	hub := newTestHub(t, Deps{
		Store: persistence,
		Clock: logging.ClockFunc(func() time.Time { return now }),
	})

	old := store.ChatEntry{Message: "old", Timestamp: now.Add(-chatRetention - time.Hour)}
	fresh := store.ChatEntry{Message: "fresh", Timestamp: now.Add(-time.Hour)}
	if err := persistence.AppendChat(t.Context(), old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := persistence.AppendChat(t.Context(), fresh); err != nil {
		t.Fatalf("seed: %v", err)
	}

	hub.stepPurge(t.Context())

	entries, err := persistence.ChatsBetween(t.Context(), time.Time{}, now)
	if err != nil {
		t.Fatalf("read chats: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "fresh" {
		t.Fatalf("expected only the fresh entry, got %+v", entries)
	}
}
