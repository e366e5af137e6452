package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"flagfall/server/internal/net/proto"
)

// wireConn is the slice of *websocket.Conn the hub writes to. Tests
// substitute an in-memory recorder.
type wireConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// subscriber serializes writes to one connection. Once closed, every
// further send is a guarded no-op; the hub may keep a stale pointer
// briefly while an async completion drains.
type subscriber struct {
	conn wireConn

	mu     sync.Mutex
	closed bool
}

func newSubscriber(conn wireConn) *subscriber {
	return &subscriber{conn: conn}
}

func (s *subscriber) send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return
	}
	// Write errors surface through the reader goroutine as a close.
	_ = s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// markClosed stops future sends without closing the connection; the
// caller closes the connection outside the hub lock.
func (s *subscriber) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// sendMessage encodes msg uncompressed and writes it to one subscriber.
func (h *Hub) sendMessage(sub *subscriber, msg proto.Message) {
	if sub == nil {
		return
	}
	data, err := proto.EncodeUncompressed(msg)
	if err != nil {
		h.logger.Printf("encode %T: %v", msg, err)
		return
	}
	sub.send(data)
}

// fanOut writes one encoded frame to every subscriber in the slice.
func fanOut(subs []*subscriber, data []byte) {
	for _, sub := range subs {
		sub.send(data)
	}
}

// roomSubscribersLocked snapshots the subscribers of one room.
func (h *Hub) roomSubscribersLocked(room *Room) []*subscriber {
	subs := make([]*subscriber, 0, len(room.Players))
	for _, p := range room.Players {
		subs = append(subs, p.sub)
	}
	return subs
}

// lobbySubscribersLocked snapshots the connected-but-unregistered set.
func (h *Hub) lobbySubscribersLocked() []*subscriber {
	subs := make([]*subscriber, 0, len(h.lobby))
	for _, sess := range h.lobby {
		subs = append(subs, sess.sub)
	}
	return subs
}
