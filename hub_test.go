package server

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"flagfall/server/internal/net/proto"
	"flagfall/server/internal/store"
)

// fakeConn records every frame the hub writes.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	c.frames = append(c.frames, copied)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// decoded returns every frame decoded into its message.
func (c *fakeConn) decoded(t *testing.T) []proto.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]proto.Message, 0, len(c.frames))
	for _, frame := range c.frames {
		msg, err := proto.Decode(frame)
		if err != nil {
			t.Fatalf("decode recorded frame: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func newTestHub(t *testing.T, deps Deps) *Hub {
	t.Helper()
	hub := NewHub(Config{AdminTokens: []string{"secret"}}, deps)
	hub.rng = rand.New(rand.NewSource(1))
	return hub
}

// register connects a session and completes registration on level 1.
func register(t *testing.T, hub *Hub, name string) (uint32, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	id := mustConnect(t, hub, conn, "10.0.0.1")
	hub.HandlePlayerName(t.Context(), id, proto.PlayerName{Name: name, Level: 1})
	waitFor(t, func() bool { return hub.SessionRegistered(id) })
	return id, conn
}

func mustConnect(t *testing.T, hub *Hub, conn *fakeConn, ip string) uint32 {
	t.Helper()
	id, err := hub.Connect(conn, ip)
	if err != nil {
		t.Fatalf("connect from %s: %v", ip, err)
	}
	return id
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func TestConnectAssignsSequentialIDs(t *testing.T) {
	hub := newTestHub(t, Deps{})
	first := mustConnect(t, hub, &fakeConn{}, "10.0.0.1")
	second := mustConnect(t, hub, &fakeConn{}, "10.0.0.2")
	if first == 0 || second == 0 {
		t.Fatalf("session id zero is reserved, got %d and %d", first, second)
	}
	if second != first+1 {
		t.Fatalf("expected sequential ids, got %d then %d", first, second)
	}
}

func TestConnectSendsAcknowledgement(t *testing.T) {
	hub := newTestHub(t, Deps{})
	conn := &fakeConn{}
	id := mustConnect(t, hub, conn, "10.0.0.1")

	msgs := conn.decoded(t)
	if len(msgs) != 1 {
		t.Fatalf("expected one frame, got %d", len(msgs))
	}
	ack, ok := msgs[0].(proto.Connected)
	if !ok {
		t.Fatalf("expected Connected, got %T", msgs[0])
	}
	if ack.SessionID != id {
		t.Fatalf("ack carries id %d, want %d", ack.SessionID, id)
	}
}

func TestSessionIDWrapsAndSkipsZero(t *testing.T) {
	hub := newTestHub(t, Deps{})
	hub.lastSessionID = maxSessionID
	id := mustConnect(t, hub, &fakeConn{}, "10.0.0.1")
	if id != 1 {
		t.Fatalf("expected wrap to 1, got %d", id)
	}
}

func TestRegistrationCreatesPublicRoomOnce(t *testing.T) {
	hub := newTestHub(t, Deps{})
	register(t, hub, "Alice")
	register(t, hub, "Bob")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.rooms) != 1 {
		t.Fatalf("expected one room, got %d", len(hub.rooms))
	}
	roomID := hub.levelRooms[1]
	room := hub.rooms[roomID]
	if room == nil || !room.Public {
		t.Fatalf("expected a public room indexed for level 1")
	}
	if len(room.Players) != 2 {
		t.Fatalf("expected both players in the same room, got %d", len(room.Players))
	}
}

func TestReregistrationIsSilentNoOp(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, conn := register(t, hub, "Alice")

	before := len(conn.decoded(t))
	hub.HandlePlayerName(t.Context(), id, proto.PlayerName{Name: "AliceAgain", Level: 2})
	time.Sleep(50 * time.Millisecond)

	if got := len(conn.decoded(t)); got != before {
		t.Fatalf("expected no response to re-registration, frames %d -> %d", before, got)
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.rooms) != 1 {
		t.Fatalf("re-registration must not create rooms, got %d", len(hub.rooms))
	}
	room := hub.rooms[hub.levelRooms[1]]
	if room.Players[id].name != "Alice" {
		t.Fatalf("player renamed by re-registration: %q", room.Players[id].name)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	hub := newTestHub(t, Deps{})
	register(t, hub, "Alice")

	conn := &fakeConn{}
	id := mustConnect(t, hub, conn, "10.0.0.2")
	hub.HandlePlayerName(t.Context(), id, proto.PlayerName{Name: "Alice", Level: 1})

	waitFor(t, func() bool {
		for _, msg := range conn.decoded(t) {
			if resp, ok := msg.(proto.PlayerName); ok {
				return !resp.Accepted
			}
		}
		return false
	})
	if hub.SessionRegistered(id) {
		t.Fatalf("duplicate name must not register")
	}
}

func TestNameValidationRejects(t *testing.T) {
	cases := []struct {
		label string
		name  string
	}{
		{"too short", "ab"},
		{"too long", "abcdefghijklmno"},
		{"reserved", "SeRvEr"},
		{"disallowed runes", "Al\x00ice"},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			hub := newTestHub(t, Deps{})
			conn := &fakeConn{}
			id := mustConnect(t, hub, conn, "10.0.0.1")
			hub.HandlePlayerName(t.Context(), id, proto.PlayerName{Name: tc.name, Level: 1})

			waitFor(t, func() bool {
				for _, msg := range conn.decoded(t) {
					if resp, ok := msg.(proto.PlayerName); ok && !resp.Accepted {
						return true
					}
				}
				return false
			})
			if hub.SessionRegistered(id) {
				t.Fatalf("invalid name %q must not register", tc.name)
			}
		})
	}
}

func TestCustomRoomRegistration(t *testing.T) {
	hub := newTestHub(t, Deps{})
	roomID, err := hub.CreateRoom(3)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	conn := &fakeConn{}
	id := mustConnect(t, hub, conn, "10.0.0.1")
	hub.HandlePlayerName(t.Context(), id, proto.PlayerName{Name: "Alice", Level: customLevelSelector, RoomID: roomID})
	waitFor(t, func() bool { return hub.SessionRegistered(id) })

	waitFor(t, func() bool {
		for _, msg := range conn.decoded(t) {
			if resp, ok := msg.(proto.PlayerName); ok {
				return resp.Accepted && resp.Level == 3 && resp.RoomID == roomID
			}
		}
		return false
	})
}

func TestUnknownCustomRoomRejected(t *testing.T) {
	hub := newTestHub(t, Deps{})
	conn := &fakeConn{}
	id := mustConnect(t, hub, conn, "10.0.0.1")
	hub.HandlePlayerName(t.Context(), id, proto.PlayerName{Name: "Alice", Level: customLevelSelector, RoomID: "nope"})

	waitFor(t, func() bool {
		for _, msg := range conn.decoded(t) {
			if resp, ok := msg.(proto.PlayerName); ok && !resp.Accepted {
				return true
			}
		}
		return false
	})
}

func TestValiditySweepForcesClose(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, conn := register(t, hub, "Alice")

	hub.HandlePose(id, proto.Pose{Pos: [3]float32{1, 2, 3}})
	for i := 0; i < 100; i++ {
		hub.stepFrame()
	}
	if !hub.SessionRegistered(id) {
		t.Fatalf("session closed too early")
	}
	hub.stepFrame()
	if hub.SessionRegistered(id) {
		t.Fatalf("session must be force-closed after credit runs out")
	}
	if !conn.isClosed() {
		t.Fatalf("connection must be closed")
	}
}

func TestSilentSessionIsNeverForceClosed(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, _ := register(t, hub, "Alice")

	for i := 0; i < 200; i++ {
		hub.stepFrame()
	}
	if !hub.SessionRegistered(id) {
		t.Fatalf("session without any pose report must survive the sweep")
	}
}

func TestEmptyRoomSurvivesFourSweeps(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, _ := register(t, hub, "Alice")
	hub.HandleClose(id)

	for i := 0; i < emptySweepLimit-1; i++ {
		hub.stepSweep()
	}
	hub.mu.Lock()
	rooms := len(hub.rooms)
	hub.mu.Unlock()
	if rooms != 1 {
		t.Fatalf("room deleted after %d sweeps", emptySweepLimit-1)
	}

	hub.stepSweep()
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.rooms) != 0 {
		t.Fatalf("room must be deleted on sweep %d", emptySweepLimit)
	}
	if _, indexed := hub.levelRooms[1]; indexed {
		t.Fatalf("level index entry must be freed with the room")
	}
}

func TestRegistrationResetsInactivityStrikes(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, _ := register(t, hub, "Alice")
	hub.HandleClose(id)

	hub.stepSweep()
	hub.stepSweep()
	register(t, hub, "Bob")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	room := hub.rooms[hub.levelRooms[1]]
	if room.inactivityStrikes != 0 {
		t.Fatalf("strikes must reset on registration, got %d", room.inactivityStrikes)
	}
}

func TestCloseReleasesHeldFlag(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, _ := register(t, hub, "Alice")

	spawn := standardLevels[1].FlagSpawns[0]
	pose := proto.Pose{Pos: [3]float32{float32(spawn[0]) + 10, float32(spawn[1]), float32(spawn[2])}}
	hub.HandlePose(id, pose)
	hub.HandleGrab(id, proto.Grab{FlagID: 0, Pos: pose.Pos})

	hub.mu.Lock()
	room := hub.rooms[hub.levelRooms[1]]
	holder := room.Flags[0].Holder
	hub.mu.Unlock()
	if holder != id {
		t.Fatalf("grab failed, holder %d", holder)
	}

	hub.HandleClose(id)

	hub.mu.Lock()
	defer hub.mu.Unlock()
	flag := room.Flags[0]
	if flag.Holder != 0 || !flag.FallMode {
		t.Fatalf("flag must fall on holder disconnect: %+v", flag)
	}
	if want := int32(pose.Pos[1]) + dropLift; flag.Pos[1] != want {
		t.Fatalf("flag vertical %d, want %d", flag.Pos[1], want)
	}
}

func TestAttackKnocksFlagFree(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, _ := register(t, hub, "Alice")
	bob, _ := register(t, hub, "Bob")

	spawn := standardLevels[1].FlagSpawns[0]
	pose := proto.Pose{Pos: [3]float32{float32(spawn[0]) + 40, float32(spawn[1]), float32(spawn[2])}}
	hub.HandlePose(alice, pose)
	hub.HandleGrab(alice, proto.Grab{FlagID: 0, Pos: pose.Pos})

	hub.HandleAttack(bob, proto.Attack{FlagID: 0, TargetSessionID: alice})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	flag := hub.rooms[hub.levelRooms[1]].Flags[0]
	if flag.Holder != 0 || !flag.FallMode {
		t.Fatalf("attack must free the flag: %+v", flag)
	}
	if want := int32(pose.Pos[1]) + attackLift; flag.Pos[1] != want {
		t.Fatalf("flag lifted to %d, want %d", flag.Pos[1], want)
	}
	if flag.HeightBeforeFall != flag.Pos[1] {
		t.Fatalf("heightBeforeFall %d, want %d", flag.HeightBeforeFall, flag.Pos[1])
	}
	dx := flag.Pos[0] - int32(pose.Pos[0])
	dz := flag.Pos[2] - int32(pose.Pos[2])
	if dx < -attackScatterRange || dx >= attackScatterRange || dz < -attackScatterRange || dz >= attackScatterRange {
		t.Fatalf("scatter out of range: dx=%d dz=%d", dx, dz)
	}
}

func TestAttackWrongTargetMisses(t *testing.T) {
	hub := newTestHub(t, Deps{})
	alice, _ := register(t, hub, "Alice")
	bob, _ := register(t, hub, "Bob")

	spawn := standardLevels[1].FlagSpawns[0]
	pose := proto.Pose{Pos: [3]float32{float32(spawn[0]), float32(spawn[1]), float32(spawn[2])}}
	hub.HandlePose(alice, pose)
	hub.HandleGrab(alice, proto.Grab{FlagID: 0, Pos: pose.Pos})

	hub.HandleAttack(bob, proto.Attack{FlagID: 0, TargetSessionID: bob})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if holder := hub.rooms[hub.levelRooms[1]].Flags[0].Holder; holder != alice {
		t.Fatalf("stale target must miss, holder %d", holder)
	}
}

func TestConnectionCapRejectsFifthSession(t *testing.T) {
	hub := newTestHub(t, Deps{})
	for i := 0; i < maxSessionsPerIP; i++ {
		if err := hub.AuthorizeUpgrade(t.Context(), "10.0.0.9", ""); err != nil {
			t.Fatalf("session %d refused: %v", i+1, err)
		}
		mustConnect(t, hub, &fakeConn{}, "10.0.0.9")
	}
	err := hub.AuthorizeUpgrade(t.Context(), "10.0.0.9", "")
	if err == nil {
		t.Fatalf("fifth session must be refused")
	}
}

// Two upgrades can pass AuthorizeUpgrade before either registers its
// slot. Connect re-checks the cap under the lock, so only the slots
// that actually remain are handed out.
func TestConnectEnforcesCapAgainstRacingUpgrades(t *testing.T) {
	hub := newTestHub(t, Deps{})
	for i := 0; i < maxSessionsPerIP-1; i++ {
		mustConnect(t, hub, &fakeConn{}, "10.0.0.9")
	}

	// Both authorizations see three active sessions and pass.
	if err := hub.AuthorizeUpgrade(t.Context(), "10.0.0.9", ""); err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	if err := hub.AuthorizeUpgrade(t.Context(), "10.0.0.9", ""); err != nil {
		t.Fatalf("second authorize: %v", err)
	}

	if _, err := hub.Connect(&fakeConn{}, "10.0.0.9"); err != nil {
		t.Fatalf("fourth session refused: %v", err)
	}
	id, err := hub.Connect(&fakeConn{}, "10.0.0.9")
	if err == nil {
		t.Fatalf("fifth session connected with id %d past the cap", id)
	}
	rejection, ok := err.(*UpgradeRejection)
	if !ok || rejection.Status != 403 {
		t.Fatalf("expected 403 rejection, got %v", err)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if active := len(hub.ips["10.0.0.9"].sessions); active != maxSessionsPerIP {
		t.Fatalf("%d active sessions for the address, cap is %d", active, maxSessionsPerIP)
	}
}

func TestBannedIPCachedVerdict(t *testing.T) {
	persistence := store.NewMemory()
	if err := persistence.SetIPStatus(t.Context(), store.IPEntry{IP: "10.9.9.9", Status: store.IPBanned}); err != nil {
		t.Fatalf("seed ip status: %v", err)
	}
	hub := NewHub(Config{
		AdminTokens: []string{"secret"},
		Production:  true,
		Domain:      "example.com",
	}, Deps{Store: persistence})

	err := hub.AuthorizeUpgrade(t.Context(), "10.9.9.9", "https://play.example.com")
	rejection, ok := err.(*UpgradeRejection)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Status != 403 {
		t.Fatalf("banned address must get 403, got %d", rejection.Status)
	}
}

func TestProductionOriginCheck(t *testing.T) {
	hub := NewHub(Config{
		AdminTokens: []string{"secret"},
		Production:  true,
		Domain:      "example.com",
	}, Deps{})

	if err := hub.AuthorizeUpgrade(t.Context(), "10.0.0.1", "https://play.example.com"); err != nil {
		t.Fatalf("subdomain origin refused: %v", err)
	}
	if err := hub.AuthorizeUpgrade(t.Context(), "10.0.0.1", "https://evil.test"); err == nil {
		t.Fatalf("foreign origin must be refused")
	}
}

func TestPingEchoesPayload(t *testing.T) {
	hub := newTestHub(t, Deps{})
	id, conn := register(t, hub, "Alice")

	hub.HandlePing(id, proto.Ping{Payload: []byte{9, 8, 7}})

	msgs := conn.decoded(t)
	last, ok := msgs[len(msgs)-1].(proto.Ping)
	if !ok {
		t.Fatalf("expected Ping echo, got %T", msgs[len(msgs)-1])
	}
	if string(last.Payload) != string([]byte{9, 8, 7}) {
		t.Fatalf("payload altered: %v", last.Payload)
	}
}
