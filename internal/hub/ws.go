package hub

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GermaMirn/LineGuard-AI/internal/model"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The Progress Hub is a read side for UI clients from any origin the
	// deployment chooses to serve from; origin policy belongs to the
	// reverse proxy in front of this service, not this handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink adapts a gorilla/websocket connection to the Sink interface. A
// mutex guards concurrent writes since Fanout may call Send from the
// Hub's consumer goroutine while the connection's own read loop runs
// concurrently.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(evt model.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(evt)
}

// ServeJobWS upgrades the request and subscribes it to one job's events.
func ServeJobWS(h *Hub, jobID uuid.UUID, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sklog.Warningf("upgrade job websocket: %v", err)
		return
	}
	sink := &wsSink{conn: conn}
	h.Subscribe(&jobID, sink)
	readUntilClosed(h, sink, conn)
}

// ServeHistoryWS upgrades the request and subscribes it to every job's
// events.
func ServeHistoryWS(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sklog.Warningf("upgrade history websocket: %v", err)
		return
	}
	sink := &wsSink{conn: conn}
	h.Subscribe(nil, sink)
	readUntilClosed(h, sink, conn)
}

// readUntilClosed blocks discarding any client-sent frames (this is a
// server-push-only protocol) until the connection errors or closes, at
// which point the sink is unsubscribed.
func readUntilClosed(h *Hub, sink Sink, conn *websocket.Conn) {
	defer h.Unsubscribe(sink)
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
