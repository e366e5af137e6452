// Package server implements the authoritative game backend: rooms,
// player sessions, the flag-capture state machine, chat moderation,
// and the fixed-rate tick jobs that broadcast state to clients.
package server

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"flagfall/server/internal/moderation"
	"flagfall/server/internal/net/proto"
	"flagfall/server/internal/reputation"
	"flagfall/server/internal/store"
	"flagfall/server/internal/telemetry"
	"flagfall/server/logging"
	"flagfall/server/logging/lifecycle"
	"flagfall/server/logging/network"
)

// Config carries the runtime knobs the hub consumes but never computes.
type Config struct {
	AdminTokens []string
	Production  bool
	Domain      string
}

// Deps bundles the hub's collaborators. Zero-value fields get safe
// defaults from NewHub so tests can construct a hub with only the
// pieces they care about.
type Deps struct {
	Store      store.Store
	Moderator  moderation.Filter
	Reputation reputation.Checker
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Publisher  logging.Publisher
	Clock      logging.Clock
}

// ipRecord tracks per-address state shared by all of that address's
// sessions. Records persist after the last session closes so the chat
// cooldown survives a quick reconnect.
type ipRecord struct {
	sessions     map[uint32]struct{}
	chatCooldown int
}

// Hub is the single authority over all shared mutable state. Every
// mutation happens under mu; asynchronous completions re-acquire it
// and re-validate the entities they reference before touching state.
type Hub struct {
	cfg         Config
	adminTokens map[string]struct{}

	store      store.Store
	moderator  moderation.Filter
	reputation reputation.Checker
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	publisher  logging.Publisher
	clock      logging.Clock

	mu            sync.Mutex
	rng           *rand.Rand
	sessions      map[uint32]*session
	lobby         map[uint32]*session
	rooms         map[string]*Room
	levelRooms    map[int32]string
	sessionRooms  map[uint32]string
	ips           map[string]*ipRecord
	lastSessionID uint32
	frame         uint64
}

func NewHub(cfg Config, deps Deps) *Hub {
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Moderator == nil {
		deps.Moderator = moderation.Passthrough()
	}
	if deps.Reputation == nil {
		deps.Reputation = reputation.AllowAll()
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.LoggerFunc(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewCounters()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	tokens := make(map[string]struct{}, len(cfg.AdminTokens))
	for _, token := range cfg.AdminTokens {
		if token != "" {
			tokens[token] = struct{}{}
		}
	}
	return &Hub{
		cfg:          cfg,
		adminTokens:  tokens,
		store:        deps.Store,
		moderator:    deps.Moderator,
		reputation:   deps.Reputation,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		publisher:    deps.Publisher,
		clock:        deps.Clock,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions:     make(map[uint32]*session),
		lobby:        make(map[uint32]*session),
		rooms:        make(map[string]*Room),
		levelRooms:   make(map[int32]string),
		sessionRooms: make(map[uint32]string),
		ips:          make(map[string]*ipRecord),
	}
}

// ValidToken reports whether token belongs to the configured admin set.
func (h *Hub) ValidToken(token string) bool {
	_, ok := h.adminTokens[token]
	return ok
}

// UpgradeRejection explains a refused websocket upgrade.
type UpgradeRejection struct {
	Status int
	Reason string
}

func (e *UpgradeRejection) Error() string {
	return fmt.Sprintf("upgrade rejected (%d): %s", e.Status, e.Reason)
}

// AuthorizeUpgrade decides whether a new connection from ip with the
// given Origin header may be upgraded. In production mode it also
// verifies the origin hostname and consults the reputation service;
// verdicts are cached through the persistence layer so each distinct
// address is looked up at most once.
func (h *Hub) AuthorizeUpgrade(ctx context.Context, ip, origin string) error {
	h.mu.Lock()
	active := 0
	if rec, ok := h.ips[ip]; ok {
		active = len(rec.sessions)
	}
	tick := h.frame
	h.mu.Unlock()

	if active >= maxSessionsPerIP {
		return h.rejectUpgrade(ctx, tick, ip, http.StatusForbidden, "connection cap")
	}

	if !h.cfg.Production {
		return nil
	}

	if !h.originAllowed(origin) {
		return h.rejectUpgrade(ctx, tick, ip, http.StatusTeapot, "bad origin")
	}

	entry, found, err := h.store.IPStatus(ctx, ip)
	if err != nil {
		h.logger.Printf("ip status lookup for %s: %v", ip, err)
		return h.rejectUpgrade(ctx, tick, ip, http.StatusInternalServerError, "reputation lookup failed")
	}
	if !found {
		verdict, err := h.reputation.Check(ctx, ip)
		if err != nil {
			h.logger.Printf("reputation check for %s: %v", ip, err)
			return h.rejectUpgrade(ctx, tick, ip, http.StatusInternalServerError, "reputation check failed")
		}
		entry = store.IPEntry{IP: ip, Status: store.IPAllowed}
		if verdict == reputation.VerdictBanned {
			entry.Status = store.IPBanned
			entry.Reason = "reputation"
		}
		if err := h.store.SetIPStatus(ctx, entry); err != nil {
			h.logger.Printf("persist ip status for %s: %v", ip, err)
		}
	}
	if entry.Status == store.IPBanned {
		return h.rejectUpgrade(ctx, tick, ip, http.StatusForbidden, "banned")
	}
	return nil
}

func (h *Hub) originAllowed(origin string) bool {
	if h.cfg.Domain == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	return host == h.cfg.Domain || strings.HasSuffix(host, "."+h.cfg.Domain)
}

func (h *Hub) rejectUpgrade(ctx context.Context, tick uint64, ip string, status int, reason string) error {
	h.metrics.Add("upgrades_rejected", 1)
	network.UpgradeRejected(ctx, h.publisher, tick, logging.IPRef(ip),
		network.RejectPayload{Reason: reason, Status: status})
	return &UpgradeRejection{Status: status, Reason: reason}
}

// Connect registers an accepted connection, assigns it a session id,
// and sends the connected acknowledgement. The per-IP cap is checked
// again here under the lock: AuthorizeUpgrade runs in an earlier
// critical section, so two racing upgrades from one address can both
// pass it while only the slots for one remain.
func (h *Hub) Connect(conn wireConn, ip string) (uint32, error) {
	h.mu.Lock()
	rec, ok := h.ips[ip]
	if !ok {
		rec = &ipRecord{
			sessions:     make(map[uint32]struct{}),
			chatCooldown: initialChatCooldown,
		}
		h.ips[ip] = rec
	}
	if len(rec.sessions) >= maxSessionsPerIP {
		tick := h.frame
		h.mu.Unlock()
		return 0, h.rejectUpgrade(context.Background(), tick, ip, http.StatusForbidden, "connection cap")
	}
	id := h.nextSessionIDLocked()
	sess := &session{id: id, ip: ip, sub: newSubscriber(conn)}
	h.sessions[id] = sess
	h.lobby[id] = sess
	rec.sessions[id] = struct{}{}
	tick := h.frame
	h.mu.Unlock()

	h.metrics.Add("sessions_opened", 1)
	lifecycle.SessionOpened(context.Background(), h.publisher, tick,
		logging.PlayerRef(sessionRef(id)), lifecycle.SessionPayload{IP: ip})
	h.sendMessage(sess.sub, proto.Connected{SessionID: id})
	return id, nil
}

// nextSessionIDLocked allocates the next cyclic id, wrapping before
// the 32-bit ceiling and skipping zero. No collision check; the id
// space dwarfs any realistic concurrent session count.
func (h *Hub) nextSessionIDLocked() uint32 {
	h.lastSessionID++
	if h.lastSessionID > maxSessionID {
		h.lastSessionID = 1
	}
	return h.lastSessionID
}

// SessionRegistered reports whether id has joined a room.
func (h *Hub) SessionRegistered(id uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessionRooms[id]
	return ok
}

// HandleClose tears down a session after its connection ends. Safe to
// call more than once; later calls find no session and do nothing.
func (h *Hub) HandleClose(id uint32) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	ip := sess.ip
	tick := h.frame
	sub := h.removeSessionLocked(id)
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
	h.metrics.Add("sessions_closed", 1)
	lifecycle.SessionClosed(context.Background(), h.publisher, tick,
		logging.PlayerRef(sessionRef(id)), lifecycle.SessionPayload{IP: ip})
}

// removeSessionLocked unlinks a session from every table it appears
// in and releases any flag it held. Returns the subscriber so the
// caller can close the connection outside the lock.
func (h *Hub) removeSessionLocked(id uint32) *subscriber {
	sess, ok := h.sessions[id]
	if !ok {
		return nil
	}
	delete(h.sessions, id)
	delete(h.lobby, id)
	if rec, ok := h.ips[sess.ip]; ok {
		delete(rec.sessions, id)
	}
	if roomID, ok := h.sessionRooms[id]; ok {
		delete(h.sessionRooms, id)
		if room, ok := h.rooms[roomID]; ok {
			if player, ok := room.Players[id]; ok {
				room.releaseFlagsHeldBy(id, player.pose)
				delete(room.Players, id)
			}
		}
	}
	sess.sub.markClosed()
	return sess.sub
}

// HandlePose records a player's self-reported state. The reported
// session id is overwritten with the authenticated one; clients
// cannot puppet other players.
func (h *Hub) HandlePose(id uint32, pose proto.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	player := h.playerLocked(id)
	if player == nil {
		return
	}
	player.markPose(pose)
}

// HandleGrab attempts to claim a flag for the sender.
func (h *Hub) HandleGrab(id uint32, msg proto.Grab) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, player := h.roomPlayerLocked(id)
	if player == nil {
		return
	}
	if msg.FlagID < 0 || int(msg.FlagID) >= len(room.Flags) {
		return
	}
	room.Flags[msg.FlagID].tryGrab(id, msg.Pos)
}

// HandleAttack knocks a flag out of a holder's hands. The attack only
// lands when the named flag is held by exactly the named target; a
// stale target is a silent miss.
func (h *Hub) HandleAttack(id uint32, msg proto.Attack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, player := h.roomPlayerLocked(id)
	if player == nil {
		return
	}
	if msg.FlagID < 0 || int(msg.FlagID) >= len(room.Flags) {
		return
	}
	flag := &room.Flags[msg.FlagID]
	if flag.Holder == 0 || flag.Holder != msg.TargetSessionID {
		return
	}
	base := flag.Pos
	if holder, ok := room.Players[flag.Holder]; ok && holder.pose != nil {
		base = [3]int32{
			int32(holder.pose.Pos[0]),
			int32(holder.pose.Pos[1]),
			int32(holder.pose.Pos[2]),
		}
	}
	flag.knockFree(base, h.scatterLocked(), h.scatterLocked())
}

// scatterLocked draws a planar offset in [-attackScatterRange,
// attackScatterRange).
func (h *Hub) scatterLocked() int32 {
	return int32(h.rng.Intn(2*attackScatterRange)) - attackScatterRange
}

// HandleSkin stores a skin payload for the next skin push.
func (h *Hub) HandleSkin(id uint32, msg proto.Skin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	player := h.playerLocked(id)
	if player == nil {
		return
	}
	player.markSkin(msg.SkinData, msg.PlayerName)
}

// HandleInit schedules a catch-up push of room peers' skins to a
// client that finished loading. The delay gives the client time to
// spawn its peer models first.
func (h *Hub) HandleInit(id uint32) {
	time.AfterFunc(skinCatchUpDelay, func() {
		h.sendRoomSkinsTo(id)
	})
}

func (h *Hub) sendRoomSkinsTo(id uint32) {
	h.mu.Lock()
	room, player := h.roomPlayerLocked(id)
	if player == nil {
		h.mu.Unlock()
		return
	}
	skins := make([]proto.Skin, 0, len(room.Players))
	for peerID, peer := range room.Players {
		if peerID == id || peer.skin == nil {
			continue
		}
		skins = append(skins, proto.Skin{
			SessionID:  peerID,
			SkinData:   peer.skin,
			PlayerName: peer.skinName,
		})
	}
	sub := player.sub
	h.mu.Unlock()

	for _, skin := range skins {
		h.sendMessage(sub, skin)
	}
}

// HandlePing echoes a ping payload back to its sender.
func (h *Hub) HandlePing(id uint32, msg proto.Ping) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	sub := sess.sub
	h.mu.Unlock()
	h.sendMessage(sub, msg)
}

// playerLocked resolves a registered player or nil.
func (h *Hub) playerLocked(id uint32) *playerSession {
	_, player := h.roomPlayerLocked(id)
	return player
}

func (h *Hub) roomPlayerLocked(id uint32) (*Room, *playerSession) {
	roomID, ok := h.sessionRooms[id]
	if !ok {
		return nil, nil
	}
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, nil
	}
	player, ok := room.Players[id]
	if !ok {
		return nil, nil
	}
	return room, player
}

// createRoomLocked instantiates a room for a known standard level and,
// for public rooms, indexes it by level.
func (h *Hub) createRoomLocked(level int32, public bool) *Room {
	template := standardLevels[level]
	room := newRoom(level, public, template)
	h.rooms[room.ID] = room
	if public {
		h.levelRooms[level] = room.ID
	}
	lifecycle.RoomCreated(context.Background(), h.publisher, h.frame,
		logging.RoomRef(room.ID), lifecycle.RoomPayload{
			Level:  level,
			Public: public,
			Flags:  len(room.Flags),
		})
	return room
}

// ErrUnknownLevel rejects room creation for a level with no template.
var ErrUnknownLevel = fmt.Errorf("unknown level")

// CreateRoom makes a private room on a standard level and returns its
// id. Drives the create-room HTTP surface.
func (h *Hub) CreateRoom(level int32) (string, error) {
	if _, ok := standardLevels[level]; !ok {
		return "", ErrUnknownLevel
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.createRoomLocked(level, false)
	return room.ID, nil
}

func sessionRef(id uint32) string {
	return fmt.Sprintf("%d", id)
}
