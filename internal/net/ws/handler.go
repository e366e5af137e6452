// Package ws adapts websocket connections onto the hub: upgrade
// authorization, frame decoding, and per-kind dispatch.
package ws

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"flagfall/server"
	"flagfall/server/internal/net/proto"
	"flagfall/server/internal/telemetry"
	"flagfall/server/logging"
	"flagfall/server/logging/network"
)

// Handler upgrades HTTP requests and runs one read loop per session.
type Handler struct {
	hub       *server.Hub
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	upgrader  websocket.Upgrader
}

func NewHandler(hub *server.Hub, logger telemetry.Logger, metrics telemetry.Metrics, publisher logging.Publisher) *Handler {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	if metrics == nil {
		metrics = telemetry.NewCounters()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Handler{
		hub:       hub,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by AuthorizeUpgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if err := h.hub.AuthorizeUpgrade(r.Context(), ip, r.Header.Get("Origin")); err != nil {
		var rejection *server.UpgradeRejection
		if errors.As(err, &rejection) {
			http.Error(w, rejection.Reason, rejection.Status)
			return
		}
		http.Error(w, "upgrade refused", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade from %s: %v", ip, err)
		return
	}

	id, err := h.hub.Connect(conn, ip)
	if err != nil {
		h.logger.Printf("connect from %s: %v", ip, err)
		conn.Close()
		return
	}
	defer h.hub.HandleClose(id)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(r, id, data)
	}
}

func (h *Handler) dispatch(r *http.Request, id uint32, data []byte) {
	msg, err := proto.Decode(data)
	if err != nil {
		h.metrics.Add("protocol_violations", 1)
		h.logger.Printf("session %d: %v", id, err)
		network.ProtocolViolation(r.Context(), h.publisher, 0,
			logging.PlayerRef(sessionRef(id)),
			network.ViolationPayload{Detail: err.Error(), Bytes: len(data)})
		return
	}

	switch m := msg.(type) {
	case proto.PlayerName:
		h.hub.HandlePlayerName(r.Context(), id, m)
	case proto.Init:
		h.hub.HandleInit(id)
	case proto.Pose:
		if h.hub.SessionRegistered(id) {
			h.hub.HandlePose(id, m)
		}
	case proto.Attack:
		if h.hub.SessionRegistered(id) {
			h.hub.HandleAttack(id, m)
		}
	case proto.Grab:
		if h.hub.SessionRegistered(id) {
			h.hub.HandleGrab(id, m)
		}
	case proto.Chat:
		if h.hub.SessionRegistered(id) {
			h.hub.HandleChat(r.Context(), id, m)
		}
	case proto.Skin:
		if h.hub.SessionRegistered(id) {
			h.hub.HandleSkin(id, m)
		}
	case proto.Ping:
		if h.hub.SessionRegistered(id) {
			h.hub.HandlePing(id, m)
		}
	default:
		// Server-to-client kinds arriving inbound are violations too.
		h.metrics.Add("protocol_violations", 1)
		network.ProtocolViolation(r.Context(), h.publisher, 0,
			logging.PlayerRef(sessionRef(id)),
			network.ViolationPayload{Detail: "unexpected inbound kind", Bytes: len(data)})
	}
}

// clientIP prefers the first forwarded address so the per-IP cap holds
// behind a reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sessionRef(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
