package daemon

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flowscribe/internal/events"
	"flowscribe/internal/logging"
)

const (
	eventBuffer     = 32
	eventWriteWait  = 5 * time.Second
	eventPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameHostOrLoopback,
}

// sameHostOrLoopback accepts browser pages served from the API host itself
// or from a loopback origin such as a local dev server.
func sameHostOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// eventHub fans bus events out to connected WebSocket clients. A client
// that falls behind loses events rather than stalling the dispatcher.
type eventHub struct {
	logger  *slog.Logger
	metrics *metrics

	mu      sync.Mutex
	clients map[chan events.Event]struct{}
	closed  bool
}

func newEventHub(logger *slog.Logger, m *metrics) *eventHub {
	return &eventHub{
		logger:  logging.NewComponentLogger(logger, "event-stream"),
		metrics: m,
		clients: make(map[chan events.Event]struct{}),
	}
}

func (h *eventHub) publish(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("event stream client lagging; event dropped", logging.String("event", ev.Name))
		}
	}
}

func (h *eventHub) add() (chan events.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan events.Event, eventBuffer)
	h.clients[ch] = struct{}{}
	h.metrics.eventClients.Inc()
	return ch, true
}

func (h *eventHub) remove(ch chan events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
	h.metrics.eventClients.Dec()
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// close disconnects every client.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
		h.metrics.eventClients.Dec()
	}
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Debug("event stream upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()
	// The server's request read deadline would otherwise end the stream.
	_ = conn.SetReadDeadline(time.Time{})

	hub := s.daemon.hub
	ch, ok := hub.add()
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"))
		return
	}
	defer hub.remove(ch)

	// Clients never send data; reading only surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, open := <-ch:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
					time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
